package descrambler

import (
	"errors"
	"testing"
	"time"
)

type fakePipe struct {
	fail     bool
	resets   int
	lastPush []byte
	out      []byte
}

func (p *fakePipe) Push(raw []byte) ([]byte, error) {
	p.lastPush = raw
	if p.fail {
		return nil, errors.New("decode failure")
	}
	return p.out, nil
}

func (p *fakePipe) Reset() { p.resets++ }

func TestGateForwardsDescrambledOutput(t *testing.T) {
	p := &fakePipe{out: []byte("clear")}
	g := NewGate(p)
	out, ok := g.Push([]byte("raw"), time.Now())
	if !ok || string(out) != "clear" {
		t.Fatalf("Push = %q, %v, want clear, true", out, ok)
	}
}

func TestGateDisablesAfterConsecutiveFailures(t *testing.T) {
	p := &fakePipe{fail: true}
	g := NewGate(p)
	now := time.Now()
	for i := 0; i < maxConsecutiveErrors; i++ {
		g.Push([]byte("raw"), now)
	}
	if !g.Disabled() {
		t.Fatal("gate should be disabled after max consecutive errors")
	}
	out, ok := g.Push([]byte("raw2"), now)
	if ok || string(out) != "raw2" {
		t.Fatalf("Push while disabled = %q, %v, want raw passthrough", out, ok)
	}
}

func TestGateRetriesDisabledPipePeriodically(t *testing.T) {
	p := &fakePipe{fail: true}
	g := NewGate(p)
	now := time.Now()
	for i := 0; i < maxConsecutiveErrors; i++ {
		g.Push([]byte("raw"), now)
	}
	p.fail = false
	p.out = []byte("clear")
	out, ok := g.Push([]byte("raw"), now.Add(retryInterval+time.Second))
	if !ok || string(out) != "clear" {
		t.Fatalf("retry after interval = %q, %v, want recovery", out, ok)
	}
	if g.Disabled() {
		t.Fatal("gate should have re-enabled after successful retry")
	}
}

func TestNotifyChannelChangeResets(t *testing.T) {
	p := &fakePipe{fail: true}
	g := NewGate(p)
	now := time.Now()
	for i := 0; i < maxConsecutiveErrors; i++ {
		g.Push([]byte("raw"), now)
	}
	g.NotifyChannelChange()
	if g.Disabled() {
		t.Fatal("gate should not be disabled right after channel change reset")
	}
	if p.resets != 1 {
		t.Fatalf("resets = %d, want 1", p.resets)
	}
}

func TestGatePanicDisablesPermanently(t *testing.T) {
	g := NewGate(panicPipe{})
	now := time.Now()
	out, ok := g.Push([]byte("raw"), now)
	if ok || string(out) != "raw" {
		t.Fatalf("Push after panic = %q, %v, want raw passthrough", out, ok)
	}
	g.NotifyChannelChange()
	out2, ok2 := g.Push([]byte("raw2"), now.Add(time.Hour))
	if ok2 || string(out2) != "raw2" {
		t.Fatal("pipe should stay permanently disabled even after a channel change")
	}
}

type panicPipe struct{}

func (panicPipe) Push([]byte) ([]byte, error) { panic("boom") }
func (panicPipe) Reset()                      {}

func TestNilPipeForwardsRaw(t *testing.T) {
	g := NewGate(nil)
	out, ok := g.Push([]byte("raw"), time.Now())
	if ok || string(out) != "raw" {
		t.Fatalf("Push with nil pipe = %q, %v, want raw passthrough", out, ok)
	}
}
