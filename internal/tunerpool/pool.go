// Package tunerpool maps ChannelKey to shared tuners, owning their
// lifecycle: creation on first request, idle keep-alive timers, and
// teardown once both the subscriber count and the keep-alive window reach
// zero.
package tunerpool

import (
	"log"
	"sync"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
)

// Config mirrors the spec's TunerPoolConfig: the shared timing knobs every
// tuner in the pool is started and kept alive with.
type Config struct {
	KeepAlive               time.Duration
	PrewarmEnabled          bool
	PrewarmTimeout          time.Duration
	SetChannelRetryInterval time.Duration
	SetChannelRetryTimeout  time.Duration
	SignalPollInterval      time.Duration
	SignalWaitTimeout       time.Duration
}

func (c Config) readerConfig() sharedtuner.ReaderConfig {
	return sharedtuner.ReaderConfig{
		SetChannelRetryInterval: c.SetChannelRetryInterval,
		SetChannelRetryTimeout:  c.SetChannelRetryTimeout,
		SignalPollInterval:      c.SignalPollInterval,
		SignalWaitTimeout:       c.SignalWaitTimeout,
	}
}

// Pool owns the ChannelKey -> *SharedTuner map and pending idle-close
// timers. All map access happens under one lock; holders only ever perform
// constant-time operations under it.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	tuners  map[sharedtuner.ChannelKey]*sharedtuner.SharedTuner
	timers  map[sharedtuner.ChannelKey]*time.Timer
}

// New returns an empty pool configured with cfg.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:    cfg,
		tuners: make(map[sharedtuner.ChannelKey]*sharedtuner.SharedTuner),
		timers: make(map[sharedtuner.ChannelKey]*time.Timer),
	}
}

// ReaderConfig exposes the pool's shared reader timing knobs to callers
// that start a reader themselves (e.g. the session's tune procedure).
func (p *Pool) ReaderConfig() sharedtuner.ReaderConfig { return p.cfg.readerConfig() }

// Get performs a pure lookup, returning nil if key has no tuner.
func (p *Pool) Get(key sharedtuner.ChannelKey) *sharedtuner.SharedTuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tuners[key]
}

// GetOrCreate returns the existing tuner for key, or allocates (but does
// not start) a new one and registers it.
func (p *Pool) GetOrCreate(key sharedtuner.ChannelKey) (tuner *sharedtuner.SharedTuner, created bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tuners[key]; ok {
		return t, false
	}
	t := sharedtuner.NewSharedTuner(key)
	p.tuners[key] = t
	return t, true
}

// Remove drops key from the pool without stopping its reader; callers stop
// the reader themselves first.
func (p *Pool) Remove(key sharedtuner.ChannelKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tuners, key)
}

// CancelIdleClose cancels a pending keep-alive timer for key, if any.
func (p *Pool) CancelIdleClose(key sharedtuner.ChannelKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[key]; ok {
		timer.Stop()
		delete(p.timers, key)
	}
}

// ScheduleIdleClose arranges for tuner to be stopped and removed once its
// keep-alive window elapses with zero subscribers still attached. A
// KeepAlive of zero stops the reader immediately.
func (p *Pool) ScheduleIdleClose(key sharedtuner.ChannelKey, tuner *sharedtuner.SharedTuner) {
	if p.cfg.KeepAlive <= 0 {
		p.stopAndRemove(key, tuner)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.timers[key]; ok {
		existing.Stop()
	}
	p.timers[key] = time.AfterFunc(p.cfg.KeepAlive, func() {
		p.mu.Lock()
		delete(p.timers, key)
		p.mu.Unlock()
		if tuner.SubscriberCount() != 0 {
			return
		}
		p.stopAndRemove(key, tuner)
	})
}

func (p *Pool) stopAndRemove(key sharedtuner.ChannelKey, tuner *sharedtuner.SharedTuner) {
	if err := tuner.Stop(3 * time.Second); err != nil {
		log.Printf("tunerpool: %s: stop_reader: %v", key, err)
	}
	p.Remove(key)
}

// Keys returns a snapshot of every key currently in the pool, for
// concurrency accounting against a driver's max_instances.
func (p *Pool) Keys() []sharedtuner.ChannelKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sharedtuner.ChannelKey, 0, len(p.tuners))
	for k := range p.tuners {
		out = append(out, k)
	}
	return out
}

// CountForPath returns the number of live keys whose DriverPath is path.
func (p *Pool) CountForPath(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k := range p.tuners {
		if k.DriverPath == path {
			n++
		}
	}
	return n
}

// LowestPriorityKeyForPath returns the key on path whose running tuner has
// the lowest effective priority, as tracked by the priorities map supplied
// by the caller (the session registry owns priority, not the pool).
func (p *Pool) LowestPriorityKeyForPath(path string, priority map[sharedtuner.ChannelKey]int) (sharedtuner.ChannelKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		best    sharedtuner.ChannelKey
		bestPri int
		found   bool
	)
	for k := range p.tuners {
		if k.DriverPath != path {
			continue
		}
		pri, ok := priority[k]
		if !ok {
			continue
		}
		if !found || pri < bestPri {
			best, bestPri, found = k, pri, true
		}
	}
	return best, found
}
