// Package descrambler models the descrambling stage of the reader loop as
// an opaque push(bytes) -> (bytes, error) pipe. The actual descrambling
// algorithm is an external collaborator referenced only by interface; this
// package implements the policy around calling it: disable-after-failures,
// periodic retry, and reset-on-channel-change.
package descrambler

import (
	"log"
	"sync"
	"time"
)

// maxConsecutiveErrors is the number of consecutive push failures after
// which the pipe is marked needs-reset and raw TS is forwarded instead.
const maxConsecutiveErrors = 10

// retryInterval is how often a disabled pipe gets one retry attempt, made by
// pushing the next live chunk through it, independent of an explicit
// channel-change reset.
const retryInterval = 30 * time.Second

// Pipe is the external decode algorithm's interface: push raw TS bytes in,
// get descrambled bytes out. Empty output with a nil error means
// insufficient state yet, not failure.
type Pipe interface {
	Push(raw []byte) ([]byte, error)
	Reset()
}

// Gate wraps a Pipe with the disable/retry/reset policy the reader loop
// needs: consecutive failures disable the pipe (raw TS forwarded until the
// next reset), a periodic probe retries a disabled pipe without waiting for
// an explicit channel change, and a panic inside Push disables the pipe
// permanently for this Gate's lifetime.
type Gate struct {
	mu              sync.Mutex
	pipe            Pipe
	consecutiveErrs int
	disabled        bool
	permanentlyOff  bool
	lastRetry       time.Time
}

// NewGate wraps pipe. pipe may be nil, in which case the gate always
// forwards raw TS (no descrambler configured for this channel).
func NewGate(pipe Pipe) *Gate {
	return &Gate{pipe: pipe, lastRetry: time.Time{}}
}

// Push feeds raw TS bytes through the underlying pipe per policy. It
// returns the descrambled bytes (or raw, if the pipe is disabled/absent/
// failed), and whether the output came from the descrambler. When the pipe
// succeeds but produces nothing, it returns nil and false.
func (g *Gate) Push(raw []byte, now time.Time) (out []byte, descrambled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pipe == nil || g.permanentlyOff {
		return raw, false
	}

	if g.disabled {
		if now.Sub(g.lastRetry) < retryInterval {
			return raw, false
		}
		g.lastRetry = now
	}

	result, err := g.safePush(raw)
	if err != nil {
		g.consecutiveErrs++
		if g.consecutiveErrs >= maxConsecutiveErrors {
			g.disabled = true
			g.lastRetry = now
			log.Printf("descrambler: disabling pipe after %d consecutive errors", g.consecutiveErrs)
		}
		return raw, false
	}

	g.consecutiveErrs = 0
	if g.disabled {
		g.disabled = false
		log.Printf("descrambler: pipe recovered, re-enabling")
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// safePush calls the underlying pipe, converting a panic into a permanent
// disable for this Gate.
func (g *Gate) safePush(raw []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.permanentlyOff = true
			log.Printf("descrambler: pipe panicked, disabling permanently: %v", r)
			err = errPanicked
		}
	}()
	return g.pipe.Push(raw)
}

var errPanicked = pipeError("descrambler: pipe panicked")

type pipeError string

func (e pipeError) Error() string { return string(e) }

// NotifyChannelChange re-initializes the pipe, clearing any disabled state.
// Called on every channel switch so a transient fault from the previous
// channel doesn't persist onto the new one.
func (g *Gate) NotifyChannelChange() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pipe == nil || g.permanentlyOff {
		return
	}
	g.pipe.Reset()
	g.disabled = false
	g.consecutiveErrs = 0
}

// Disabled reports whether the gate is currently forwarding raw TS due to
// accumulated failures (not counting a permanently-off or absent pipe).
func (g *Gate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}
