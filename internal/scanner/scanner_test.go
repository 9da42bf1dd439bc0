package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
)

func openTestDB(t *testing.T) *channeldb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.db")
	db, err := channeldb.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeScanDriver reports two spaces, each with two channels; every channel
// tunes successfully and reports signal 10.0, and GetStream never returns
// any TS bytes.
type fakeScanDriver struct {
	feedCursor map[[2]uint32]int
}

func newFakeScanDriver() *fakeScanDriver {
	return &fakeScanDriver{feedCursor: make(map[[2]uint32]int)}
}

func (d *fakeScanDriver) Open() error  { return nil }
func (d *fakeScanDriver) Close() error { return nil }
func (d *fakeScanDriver) SetChannelSimple(byte) (driverabi.SetChannelResult, error) {
	return driverabi.SetChannelOK, nil
}
func (d *fakeScanDriver) SetChannelSpace(space, channel uint32) (driverabi.SetChannelResult, error) {
	return driverabi.SetChannelOK, nil
}
func (d *fakeScanDriver) SignalLevel() (float32, error) {
	return 10.0, nil
}
func (d *fakeScanDriver) WaitStream(timeoutMS int) bool { return true }
func (d *fakeScanDriver) GetStream(buf []byte) (int, int, error) {
	return 0, 0, nil
}
func (d *fakeScanDriver) PurgeStream() error { return nil }
func (d *fakeScanDriver) EnumTuningSpace(space uint32) (string, bool) {
	if space < 2 {
		return "space", true
	}
	return "", false
}
func (d *fakeScanDriver) EnumChannelName(space, channel uint32) (string, bool) {
	if channel < 2 {
		return "channel", true
	}
	return "", false
}
func (d *fakeScanDriver) SetLNBPower(bool) error { return nil }
func (d *fakeScanDriver) Revision() driverabi.Revision { return driverabi.RevisionV2 }

func testConfig() Config {
	return Config{
		CheckInterval:      time.Hour,
		ScanTimeout:        time.Second,
		MaxConcurrentScans: 2,
		SignalLockWait:     time.Millisecond,
		TSReadTimeout:      20 * time.Millisecond,
	}
}

func TestScanDriverSkipsLegacyRevision(t *testing.T) {
	db := openTestDB(t)
	driverID, err := db.CreateDriver(channeldb.Driver{Path: "/dev/legacy", IntervalHours: 24})
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	driver, err := db.GetDriver(driverID)
	if err != nil {
		t.Fatalf("GetDriver: %v", err)
	}

	legacyDriver := legacyRevisionDriver{newFakeScanDriver()}

	s := New(testConfig(), Deps{
		DB: db,
		OpenDriver: func(string) (*driverabi.Adapter, error) {
			return driverabi.OpenWithDriver(legacyDriver)
		},
	})

	observed, err := s.scanDriver(context.Background(), driver)
	if err != nil {
		t.Fatalf("scanDriver: %v", err)
	}
	if len(observed) != 0 {
		t.Fatalf("expected no channels scanned for a v1 driver, got %d", len(observed))
	}
}

// legacyRevisionDriver wraps fakeScanDriver but reports RevisionV1, to
// exercise the scanner's legacy-ABI skip without duplicating the whole
// fake.
type legacyRevisionDriver struct{ *fakeScanDriver }

func (legacyRevisionDriver) Revision() driverabi.Revision { return driverabi.RevisionV1 }

func TestEnumTuningSpaceReportsTwoSpacesBeforeNone(t *testing.T) {
	driver, err := driverabi.OpenWithDriver(newFakeScanDriver())
	if err != nil {
		t.Fatalf("OpenWithDriver: %v", err)
	}
	defer driver.Close()

	s := New(testConfig(), Deps{})
	count := 0
	for space := uint32(0); space < maxSpaces; space++ {
		_, ok, err := driver.EnumTuningSpace(context.Background(), space)
		if err != nil {
			t.Fatalf("EnumTuningSpace: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 enumerable spaces, got %d", count)
	}
	_ = s
}

func TestDispatchOneSkipsAlreadyRunningDriver(t *testing.T) {
	s := New(testConfig(), Deps{})
	s.mu.Lock()
	s.running[1] = true
	s.mu.Unlock()

	// dispatchOne should see driver 1 already running and return without
	// taking a semaphore slot.
	s.dispatchOne(context.Background(), 1)
	if len(s.sem) != 0 {
		t.Fatalf("expected no semaphore slot taken for an already-running driver")
	}
}

func TestPauseResumeSkipsTick(t *testing.T) {
	db := openTestDB(t)
	s := New(testConfig(), Deps{DB: db})
	s.Pause()

	// tick should return immediately without querying due drivers while
	// paused; CheckInterval is large enough that nothing else can race it.
	s.tick(context.Background())
	if len(s.Status()) != 0 {
		t.Fatalf("expected no scan activity while paused")
	}
	s.Resume()
}
