// Package scanner implements the background channel-scan pipeline: it
// periodically walks drivers due for a scan, drives each through its full
// tuning-space/channel enumeration, reassembles PSI identity from the live
// TS, and merges the result into the channel database. Scans for different
// drivers run concurrently up to a configured cap; a single driver never
// has two scans in flight at once.
//
// Grounded on the teacher's own scan-worker structure (internal/sdtprobe's
// PSI probing loop and internal/dvbdb's scan-merge bookkeeping), generalized
// from a single-driver tool into a scheduler that walks the full driver set
// on a timer and supports pause/resume/trigger from the admin surface.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
	"github.com/tunerproxy/tunerproxyd/internal/tsanalyzer"
)

// minSignalLevel is the scan's fixed signal-strength gate: channels
// measured below this are skipped without attempting TS analysis.
const minSignalLevel = 3.0

// Enumeration caps and tolerances, fixed by the scanner's probing algorithm.
const (
	maxSpaces              = 64
	maxChannelsPerSpace    = 1024
	maxConsecutiveNoneGaps = 3
	maxNIDRetries          = 3
)

// DriverOpener opens a vendor driver adapter for a filesystem path. The
// scanner opens its own adapter instance per scan, independent of any
// adapter a live session holds through the tuner pool.
type DriverOpener func(path string) (*driverabi.Adapter, error)

// Config carries the scheduler's timing knobs, normally sourced from
// internal/config.
type Config struct {
	CheckInterval      time.Duration
	ScanTimeout         time.Duration
	MaxConcurrentScans int
	SignalLockWait     time.Duration
	TSReadTimeout      time.Duration
	ScanOnStart        bool
}

// Deps bundles the scanner's collaborators.
type Deps struct {
	DB         *channeldb.DB
	OpenDriver DriverOpener
}

// DriverStatus is one driver's scan state, for the admin surface.
type DriverStatus struct {
	DriverID   int64
	Path       string
	Running    bool
	LastResult string
	LastRunAt  time.Time
}

// Scheduler runs the periodic scan loop and exposes pause/resume/stop/
// trigger controls.
type Scheduler struct {
	cfg  Config
	deps Deps

	limiter *rate.Limiter

	mu       sync.Mutex
	paused   bool
	running  map[int64]bool
	statuses map[int64]DriverStatus
	sem      chan struct{}

	triggerCh chan int64
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New builds a Scheduler. Its one rate limiter paces per-channel probes
// (set_channel/purge/signal-level calls) and is shared by every scan task,
// so it caps the combined probe rate of all concurrently running scans.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = 1
	}
	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		limiter:   rate.NewLimiter(rate.Limit(20), 5),
		running:   make(map[int64]bool),
		statuses:  make(map[int64]DriverStatus),
		sem:       make(chan struct{}, cfg.MaxConcurrentScans),
		triggerCh: make(chan int64, 16),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run drives the scheduler's tick loop until Stop is called. Intended to be
// run in its own goroutine for the life of the process.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	if s.cfg.ScanOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		case driverID := <-s.triggerCh:
			s.dispatchOne(ctx, driverID)
		}
	}
}

// Stop ends the scheduler's Run loop.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

// Pause stops the periodic tick from dispatching new scans; scans already
// in flight run to completion, and an explicit TriggerScan still dispatches.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume clears a prior Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// TriggerScan requests an immediate one-shot scan of driverID, bypassing
// next_scan_at. It is a no-op if that driver already has a scan running.
func (s *Scheduler) TriggerScan(driverID int64) {
	select {
	case s.triggerCh <- driverID:
	default:
		log.Printf("scanner: trigger queue full, dropping trigger for driver %d", driverID)
	}
}

// Status returns a snapshot of every driver the scheduler has scanned or is
// currently scanning.
func (s *Scheduler) Status() []DriverStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DriverStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out
}

// tick loads every due driver and dispatches as many as the concurrency cap
// allows; drivers beyond the cap wait for the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return
	}

	due, err := s.deps.DB.ListDueDrivers(timeNow())
	if err != nil {
		log.Printf("scanner: list due drivers: %v", err)
		return
	}
	for _, d := range due {
		s.dispatchOne(ctx, d.ID)
	}
}

// dispatchOne starts a scan for driverID if one isn't already running for
// it and a concurrency slot is available; otherwise it is a silent no-op
// (the driver will be picked up again on a later tick or trigger).
func (s *Scheduler) dispatchOne(ctx context.Context, driverID int64) {
	s.mu.Lock()
	if s.running[driverID] {
		s.mu.Unlock()
		return
	}
	s.running[driverID] = true
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	default:
		s.mu.Lock()
		delete(s.running, driverID)
		s.mu.Unlock()
		return
	}

	go func() {
		defer func() {
			<-s.sem
			s.mu.Lock()
			delete(s.running, driverID)
			s.mu.Unlock()
		}()
		s.runScan(ctx, driverID)
	}()
}

// runScan executes one bounded scan task for driverID and records its
// outcome, per spec steps 1 and 6.
func (s *Scheduler) runScan(ctx context.Context, driverID int64) {
	driver, err := s.deps.DB.GetDriver(driverID)
	if err != nil {
		log.Printf("scanner: driver %d: %v", driverID, err)
		return
	}

	s.setStatus(driverID, driver.Path, true, "")

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	start := time.Now()
	observed, scanErr := s.scanDriver(scanCtx, driver)
	duration := time.Since(start)

	entry := channeldb.ScanHistoryEntry{
		DriverID:   driverID,
		DurationMS: duration.Milliseconds(),
	}
	if scanErr != nil {
		entry.Success = false
		entry.ErrorMessage = scanErr.Error()
		s.setStatus(driverID, driver.Path, false, "error: "+scanErr.Error())
	} else {
		if err := s.deps.DB.MergeScanResults(driverID, observed); err != nil {
			entry.Success = false
			entry.ErrorMessage = fmt.Sprintf("merge_scan_results: %v", err)
			s.setStatus(driverID, driver.Path, false, "merge failed: "+err.Error())
		} else {
			entry.Success = true
			entry.ChannelsFound = len(observed)
			s.setStatus(driverID, driver.Path, false, fmt.Sprintf("ok: %d channels", len(observed)))
		}
	}

	if _, err := s.deps.DB.AppendScanHistory(entry); err != nil {
		log.Printf("scanner: driver %d: append scan history: %v", driverID, err)
	}
	// next_scan_at always advances, even on failure, so a broken driver
	// doesn't get rescanned every tick.
	next := time.Now().Add(time.Duration(driver.IntervalHours) * time.Hour)
	if err := s.deps.DB.SetNextScanAt(driverID, next); err != nil {
		log.Printf("scanner: driver %d: advance next_scan_at: %v", driverID, err)
	}
}

func (s *Scheduler) setStatus(driverID int64, path string, running bool, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[driverID]
	st.DriverID = driverID
	st.Path = path
	st.Running = running
	if result != "" {
		st.LastResult = result
		st.LastRunAt = time.Now()
	}
	s.statuses[driverID] = st
}

// timeNow is split out so tests could stub it if ever needed; kept as a
// thin wrapper rather than threading a clock through every call.
func timeNow() time.Time { return time.Now() }
