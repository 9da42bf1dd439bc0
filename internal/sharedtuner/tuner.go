// Package sharedtuner owns exactly one driver adapter per physical channel
// tuning and fans its decoded TS stream out to any number of client
// sessions via a bounded broadcast channel. One SharedTuner is created the
// first time a (driver, space, channel) key is requested and lives until
// its subscriber count reaches zero and its keep-alive timer expires.
package sharedtuner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/descrambler"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
	"github.com/tunerproxy/tunerproxyd/internal/tsanalyzer"
)

// ChannelKey identifies one physical tuning: a driver path plus the
// driver-native (space, channel) pair, or a legacy single-byte channel for
// v1 ABI drivers.
type ChannelKey struct {
	DriverPath string
	Space      uint32
	Channel    uint32
	Simple     byte
	UseSimple  bool
}

func (k ChannelKey) String() string {
	if k.UseSimple {
		return fmt.Sprintf("%s#simple(%d)", k.DriverPath, k.Simple)
	}
	return fmt.Sprintf("%s#%d/%d", k.DriverPath, k.Space, k.Channel)
}

// ReaderConfig carries the pool-wide timing knobs the reader loop needs.
type ReaderConfig struct {
	SetChannelRetryInterval time.Duration
	SetChannelRetryTimeout  time.Duration
	SignalPollInterval      time.Duration
	SignalWaitTimeout       time.Duration
}

var (
	// ErrChannelUnavailable is returned by the ready signal when the
	// set-channel retry loop exhausted its budget.
	ErrChannelUnavailable = errors.New("sharedtuner: channel unavailable")
	// ErrAlreadyStarted means StartReader was called twice on one tuner.
	ErrAlreadyStarted = errors.New("sharedtuner: reader already started")
)

// NewPipeFunc constructs a descrambler pipe for a freshly (re)tuned channel.
// A nil return means no descrambling is configured; the reader then
// forwards raw TS.
type NewPipeFunc func(key ChannelKey) descrambler.Pipe

// SharedTuner owns one driver adapter, one broadcast channel, a subscriber
// counter, a signal-level sample, packet counters, and a quality analyzer.
type SharedTuner struct {
	Key      ChannelKey
	Revision driverabi.Revision

	broadcast *Broadcast
	analyzer  *tsanalyzer.Analyzer
	gate      *descrambler.Gate
	adapter   *driverabi.Adapter

	signalBits      atomic.Uint32 // math.Float32bits(level)
	packetsTotal    atomic.Int64
	packetsDropped  atomic.Int64
	packetsScramb   atomic.Int64
	packetsError    atomic.Int64
	subscriberCount atomic.Int32

	isRunning atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSharedTuner allocates a tuner for key; the reader is not started yet.
func NewSharedTuner(key ChannelKey) *SharedTuner {
	return &SharedTuner{
		Key:       key,
		broadcast: NewBroadcast(),
		analyzer:  tsanalyzer.New(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SubscriberCount returns the live subscriber count.
func (t *SharedTuner) SubscriberCount() int { return int(t.subscriberCount.Load()) }

// SignalLevel returns the most recently sampled signal level, in dB.
func (t *SharedTuner) SignalLevel() float32 {
	return math.Float32frombits(t.signalBits.Load())
}

// Counters returns the cumulative packet counters for this tuner's lifetime.
func (t *SharedTuner) Counters() tsanalyzer.QualityDelta {
	return tsanalyzer.QualityDelta{
		PacketsTotal:     int(t.packetsTotal.Load()),
		PacketsDropped:   int(t.packetsDropped.Load()),
		PacketsScrambled: int(t.packetsScramb.Load()),
		PacketsError:     int(t.packetsError.Load()),
	}
}

// Subscribe registers a new receiver and increments the subscriber count.
func (t *SharedTuner) Subscribe() (id int, ch <-chan Chunk) {
	t.subscriberCount.Add(1)
	return t.broadcast.Subscribe()
}

// Unsubscribe removes a receiver and decrements the subscriber count.
func (t *SharedTuner) Unsubscribe(id int) {
	t.broadcast.Unsubscribe(id)
	t.subscriberCount.Add(-1)
}

// Lagged reports how many chunks subscriber id has missed due to lag.
func (t *SharedTuner) Lagged(id int) int64 { return t.broadcast.Lagged(id) }

// IsRunning reports whether the reader loop is currently active.
func (t *SharedTuner) IsRunning() bool { return t.isRunning.Load() }

// Adapter returns the driver adapter backing this tuner, or nil before
// StartReader has been called.
func (t *SharedTuner) Adapter() *driverabi.Adapter { return t.adapter }

// StartReader tunes the already-open adapter and starts the background read
// loop. It blocks until the reader reports ready (or fails to). newPipe may
// be nil to disable descrambling for this tuner.
func (t *SharedTuner) StartReader(ctx context.Context, adapter *driverabi.Adapter, cfg ReaderConfig, newPipe NewPipeFunc) error {
	if !t.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	t.Revision = adapter.Revision()
	t.adapter = adapter

	if newPipe != nil {
		t.gate = descrambler.NewGate(newPipe(t.Key))
	} else {
		t.gate = descrambler.NewGate(nil)
	}

	readyCh := make(chan error, 1)
	go t.runReader(adapter, cfg, readyCh)

	select {
	case err := <-readyCh:
		if err != nil {
			t.isRunning.Store(false)
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyChannelChange tells this tuner's descrambler gate to reinitialize,
// called whenever the physical channel underneath it changes.
func (t *SharedTuner) NotifyChannelChange() {
	if t.gate != nil {
		t.gate.NotifyChannelChange()
	}
}

// Stop signals the reader loop to exit and waits up to timeout for it to
// actually finish, per the spec's 3-second outer stop_reader timeout.
func (t *SharedTuner) Stop(timeout time.Duration) error {
	if !t.isRunning.Load() {
		return nil
	}
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	select {
	case <-t.doneCh:
		return nil
	case <-time.After(timeout):
		log.Printf("sharedtuner: %s: stop_reader timed out after %v", t.Key, timeout)
		return context.DeadlineExceeded
	}
}
