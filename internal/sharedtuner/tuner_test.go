package sharedtuner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
)

// fakeDriver is a minimal in-process driverabi.Driver used to exercise the
// shared tuner's read loop without a real vendor plugin.
type fakeDriver struct {
	mu      sync.Mutex
	frames  [][]byte
	idx     int
	signal  float32
	tuned   atomic.Bool
	purged  atomic.Int32
}

func (f *fakeDriver) Open() error  { return nil }
func (f *fakeDriver) Close() error { return nil }
func (f *fakeDriver) SetChannelSimple(byte) (driverabi.SetChannelResult, error) {
	f.tuned.Store(true)
	return driverabi.SetChannelOK, nil
}
func (f *fakeDriver) SetChannelSpace(uint32, uint32) (driverabi.SetChannelResult, error) {
	f.tuned.Store(true)
	return driverabi.SetChannelOK, nil
}
func (f *fakeDriver) SignalLevel() (float32, error) { return f.signal, nil }
func (f *fakeDriver) WaitStream(int) bool           { return true }
func (f *fakeDriver) GetStream(buf []byte) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		return 0, 0, nil
	}
	frame := f.frames[f.idx]
	f.idx++
	n := copy(buf, frame)
	return n, 0, nil
}
func (f *fakeDriver) PurgeStream() error { f.purged.Add(1); return nil }
func (f *fakeDriver) EnumTuningSpace(uint32) (string, bool)        { return "", false }
func (f *fakeDriver) EnumChannelName(uint32, uint32) (string, bool) { return "", false }
func (f *fakeDriver) SetLNBPower(bool) error                        { return nil }
func (f *fakeDriver) Revision() driverabi.Revision                  { return driverabi.RevisionV2 }

func makeTSPacket(pid uint16, cc byte) []byte {
	pkt := make([]byte, packetLen)
	pkt[0] = syncByte
	pkt[1] = byte(pid >> 8 & 0x1F)
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc
	return pkt
}

func testReaderConfig() ReaderConfig {
	return ReaderConfig{
		SetChannelRetryInterval: time.Millisecond,
		SetChannelRetryTimeout:  100 * time.Millisecond,
		SignalPollInterval:      time.Millisecond,
		SignalWaitTimeout:       50 * time.Millisecond,
	}
}

func TestStartReaderTunesAndBroadcasts(t *testing.T) {
	driver := &fakeDriver{
		signal: 15.0,
		frames: [][]byte{append(makeTSPacket(0x100, 0), makeTSPacket(0x100, 1)...)},
	}
	adapter, err := driverabi.OpenWithDriver(driver)
	if err != nil {
		t.Fatalf("OpenWithDriver: %v", err)
	}
	defer adapter.Close()

	tuner := NewSharedTuner(ChannelKey{DriverPath: "test", Space: 0, Channel: 5})
	_, ch := tuner.Subscribe()

	if err := tuner.StartReader(context.Background(), adapter, testReaderConfig(), nil); err != nil {
		t.Fatalf("StartReader: %v", err)
	}
	defer tuner.Stop(3 * time.Second)

	if !driver.tuned.Load() {
		t.Error("driver was never tuned")
	}

	select {
	case chunk := <-ch:
		if len(chunk.Data) != 2*packetLen {
			t.Errorf("chunk len = %d, want %d", len(chunk.Data), 2*packetLen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast chunk")
	}
}

func TestStopReaderExitsPromptly(t *testing.T) {
	driver := &fakeDriver{signal: 10.0}
	adapter, err := driverabi.OpenWithDriver(driver)
	if err != nil {
		t.Fatalf("OpenWithDriver: %v", err)
	}
	defer adapter.Close()

	tuner := NewSharedTuner(ChannelKey{DriverPath: "test", Space: 0, Channel: 1})
	if err := tuner.StartReader(context.Background(), adapter, testReaderConfig(), nil); err != nil {
		t.Fatalf("StartReader: %v", err)
	}

	if err := tuner.Stop(3 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tuner.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestStartReaderTwiceFails(t *testing.T) {
	driver := &fakeDriver{signal: 10.0}
	adapter, err := driverabi.OpenWithDriver(driver)
	if err != nil {
		t.Fatalf("OpenWithDriver: %v", err)
	}
	defer adapter.Close()

	tuner := NewSharedTuner(ChannelKey{DriverPath: "test"})
	if err := tuner.StartReader(context.Background(), adapter, testReaderConfig(), nil); err != nil {
		t.Fatalf("first StartReader: %v", err)
	}
	defer tuner.Stop(time.Second)

	if err := tuner.StartReader(context.Background(), adapter, testReaderConfig(), nil); err != ErrAlreadyStarted {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
}
