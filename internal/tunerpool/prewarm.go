package tunerpool

import (
	"log"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
)

// WarmHandle is a driver opened ahead of a SetChannel call, shortening
// first-tune latency for a session that issued OpenTuner with no pending
// tune. Activate hands the already-open adapter to the caller; an
// unactivated handle closes itself after the pool's PrewarmTimeout.
type WarmHandle struct {
	Adapter   *driverabi.Adapter
	activated bool
	timer     *time.Timer
}

// Prewarm opens path on the calling goroutine and returns a handle once the
// driver is open, or nil if prewarming is disabled in the pool config or the
// open fails. The open is not done in the background: Prewarm blocks until
// it completes.
func (p *Pool) Prewarm(path string, openFn func(string) (*driverabi.Adapter, error)) *WarmHandle {
	if !p.cfg.PrewarmEnabled {
		return nil
	}
	adapter, err := openFn(path)
	if err != nil {
		log.Printf("tunerpool: prewarm %s: %v", path, err)
		return nil
	}
	h := &WarmHandle{Adapter: adapter}
	h.timer = time.AfterFunc(p.cfg.PrewarmTimeout, func() {
		if !h.activated {
			h.Adapter.Close()
		}
	})
	return h
}

// Activate hands the warm adapter off to a regular reader, cancelling the
// handle's self-close timer. Calling Activate more than once is a no-op.
func (h *WarmHandle) Activate() *driverabi.Adapter {
	if h.activated {
		return h.Adapter
	}
	h.activated = true
	h.timer.Stop()
	return h.Adapter
}
