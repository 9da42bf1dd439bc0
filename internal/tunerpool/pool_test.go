package tunerpool

import (
	"testing"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
)

func testConfig() Config {
	return Config{
		KeepAlive:               50 * time.Millisecond,
		SetChannelRetryInterval: time.Millisecond,
		SetChannelRetryTimeout:  10 * time.Millisecond,
		SignalPollInterval:      time.Millisecond,
		SignalWaitTimeout:       10 * time.Millisecond,
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	p := New(testConfig())
	key := sharedtuner.ChannelKey{DriverPath: "/dev/d0", Space: 0, Channel: 1}

	t1, created1 := p.GetOrCreate(key)
	if !created1 {
		t.Fatal("first GetOrCreate should report created=true")
	}
	t2, created2 := p.GetOrCreate(key)
	if created2 {
		t.Fatal("second GetOrCreate should report created=false")
	}
	if t1 != t2 {
		t.Fatal("GetOrCreate returned different tuners for the same key")
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	p := New(testConfig())
	if got := p.Get(sharedtuner.ChannelKey{DriverPath: "/dev/missing"}); got != nil {
		t.Fatalf("Get = %v, want nil", got)
	}
}

func TestKeysSnapshot(t *testing.T) {
	p := New(testConfig())
	k1 := sharedtuner.ChannelKey{DriverPath: "/dev/a"}
	k2 := sharedtuner.ChannelKey{DriverPath: "/dev/b"}
	p.GetOrCreate(k1)
	p.GetOrCreate(k2)
	keys := p.Keys()
	if len(keys) != 2 {
		t.Fatalf("len(Keys()) = %d, want 2", len(keys))
	}
}

func TestCountForPath(t *testing.T) {
	p := New(testConfig())
	p.GetOrCreate(sharedtuner.ChannelKey{DriverPath: "/dev/a", Channel: 1})
	p.GetOrCreate(sharedtuner.ChannelKey{DriverPath: "/dev/a", Channel: 2})
	p.GetOrCreate(sharedtuner.ChannelKey{DriverPath: "/dev/b", Channel: 1})
	if n := p.CountForPath("/dev/a"); n != 2 {
		t.Fatalf("CountForPath = %d, want 2", n)
	}
}

func TestCancelIdleCloseStopsPendingTimer(t *testing.T) {
	p := New(testConfig())
	key := sharedtuner.ChannelKey{DriverPath: "/dev/a"}
	tuner, _ := p.GetOrCreate(key)

	p.ScheduleIdleClose(key, tuner)
	p.CancelIdleClose(key)

	time.Sleep(100 * time.Millisecond)
	if p.Get(key) == nil {
		t.Fatal("tuner should still be registered; idle close was cancelled")
	}
}

func TestScheduleIdleCloseRemovesAfterWindow(t *testing.T) {
	p := New(testConfig())
	key := sharedtuner.ChannelKey{DriverPath: "/dev/a"}
	tuner, _ := p.GetOrCreate(key)

	p.ScheduleIdleClose(key, tuner)
	time.Sleep(200 * time.Millisecond)

	if p.Get(key) != nil {
		t.Fatal("tuner should have been removed once the keep-alive window elapsed")
	}
}

func TestLowestPriorityKeyForPath(t *testing.T) {
	p := New(testConfig())
	k1 := sharedtuner.ChannelKey{DriverPath: "/dev/a", Channel: 1}
	k2 := sharedtuner.ChannelKey{DriverPath: "/dev/a", Channel: 2}
	p.GetOrCreate(k1)
	p.GetOrCreate(k2)

	priorities := map[sharedtuner.ChannelKey]int{k1: 5, k2: 1}
	got, ok := p.LowestPriorityKeyForPath("/dev/a", priorities)
	if !ok {
		t.Fatal("expected a lowest-priority key to be found")
	}
	if got != k2 {
		t.Fatalf("got = %v, want %v", got, k2)
	}
}
