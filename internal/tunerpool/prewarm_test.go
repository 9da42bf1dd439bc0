package tunerpool

import (
	"context"
	"testing"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
)

type noopDriver struct{}

func (noopDriver) Open() error  { return nil }
func (noopDriver) Close() error { return nil }
func (noopDriver) SetChannelSimple(byte) (driverabi.SetChannelResult, error) {
	return driverabi.SetChannelOK, nil
}
func (noopDriver) SetChannelSpace(uint32, uint32) (driverabi.SetChannelResult, error) {
	return driverabi.SetChannelOK, nil
}
func (noopDriver) SignalLevel() (float32, error)                   { return 0, nil }
func (noopDriver) WaitStream(int) bool                             { return false }
func (noopDriver) GetStream([]byte) (int, int, error)              { return 0, 0, nil }
func (noopDriver) PurgeStream() error                              { return nil }
func (noopDriver) EnumTuningSpace(uint32) (string, bool)           { return "", false }
func (noopDriver) EnumChannelName(uint32, uint32) (string, bool)   { return "", false }
func (noopDriver) SetLNBPower(bool) error                          { return nil }
func (noopDriver) Revision() driverabi.Revision                    { return driverabi.RevisionV2 }

func openNoop(string) (*driverabi.Adapter, error) {
	return driverabi.OpenWithDriver(noopDriver{})
}

func TestPrewarmDisabledReturnsNil(t *testing.T) {
	p := New(testConfig())
	if h := p.Prewarm("/dev/a", openNoop); h != nil {
		t.Fatal("Prewarm should return nil when PrewarmEnabled is false")
	}
}

func TestPrewarmActivate(t *testing.T) {
	cfg := testConfig()
	cfg.PrewarmEnabled = true
	cfg.PrewarmTimeout = time.Second
	p := New(cfg)

	h := p.Prewarm("/dev/a", openNoop)
	if h == nil {
		t.Fatal("Prewarm returned nil")
	}
	adapter := h.Activate()
	if adapter == nil {
		t.Fatal("Activate returned nil adapter")
	}
	adapter.Close()
}

func TestPrewarmClosesAfterTimeoutIfNotActivated(t *testing.T) {
	cfg := testConfig()
	cfg.PrewarmEnabled = true
	cfg.PrewarmTimeout = 30 * time.Millisecond
	p := New(cfg)

	h := p.Prewarm("/dev/a", openNoop)
	if h == nil {
		t.Fatal("Prewarm returned nil")
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := h.Adapter.SignalLevel(context.Background()); err != driverabi.ErrAdapterClosed {
		t.Fatalf("SignalLevel after prewarm timeout: err = %v, want ErrAdapterClosed", err)
	}
	// Adapter.Close is idempotent; calling it again should not hang or panic.
	h.Adapter.Close()
}
