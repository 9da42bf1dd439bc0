// Package driverabi wraps the vendor tuner ABI behind a safe, single-thread
// interface. Every call into the vendor's shared object happens on one
// dedicated goroutine locked to an OS thread, because the ABI itself is not
// reentrant: concurrent calls into the same driver instance from different
// threads would corrupt its internal state.
package driverabi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"plugin"
	"runtime"
)

// Revision is the vendor ABI generation a loaded driver implements.
type Revision int

const (
	RevisionUnknown Revision = iota
	RevisionV1               // legacy: Simple(u8) channel addressing
	RevisionV2               // SpaceChannel(u32,u32)
	RevisionV3               // SpaceChannel(u32,u32) + LNB control
)

func (r Revision) String() string {
	switch r {
	case RevisionV1:
		return "v1"
	case RevisionV2:
		return "v2"
	case RevisionV3:
		return "v3"
	default:
		return "unknown"
	}
}

// SetChannelResult classifies the outcome of a set_channel call.
type SetChannelResult int

const (
	SetChannelOK SetChannelResult = iota
	SetChannelUnavailable
	SetChannelTransientNotReady
)

var (
	ErrDriverNotFound  = errors.New("driverabi: driver symbol not found in shared object")
	ErrUnsupportedOp   = errors.New("driverabi: operation unsupported by this ABI revision")
	ErrAdapterClosed   = errors.New("driverabi: adapter closed")
	ErrPanicInDriver   = errors.New("driverabi: vendor driver panicked")
)

// Driver is the vendor-supplied object a loaded plugin exposes. Revision v1
// implementations only need SetChannelSimple; v2/v3 only need
// SetChannelSpace. GetStream returning n==0 means "no data yet", not EOF.
type Driver interface {
	Open() error
	Close() error
	SetChannelSimple(ch byte) (SetChannelResult, error)
	SetChannelSpace(space, channel uint32) (SetChannelResult, error)
	SignalLevel() (float32, error)
	WaitStream(timeoutMS int) bool
	GetStream(buf []byte) (n int, remaining int, err error)
	PurgeStream() error
	EnumTuningSpace(space uint32) (string, bool)
	EnumChannelName(space, channel uint32) (string, bool)
	SetLNBPower(enable bool) error
	Revision() Revision
}

// DriverFactory is the symbol every vendor plugin must export: a
// zero-argument constructor named "NewDriver" returning a Driver.
type DriverFactory func() Driver

// command is a unit of work submitted to an Adapter's dedicated goroutine.
type command struct {
	fn   func()
	done chan struct{}
}

// Adapter serializes all access to one Driver instance through a single
// goroutine pinned to an OS thread.
type Adapter struct {
	path   string
	driver Driver
	cmds   chan command
	closed chan struct{}
}

// Open loads the shared object at path, resolves its NewDriver factory,
// instantiates the driver, and starts its dedicated worker goroutine.
func Open(path string) (*Adapter, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("driverabi: open %s: %w", path, err)
	}
	sym, err := p.Lookup("NewDriver")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDriverNotFound, path, err)
	}
	factory, ok := sym.(func() Driver)
	if !ok {
		return nil, fmt.Errorf("%w: %s: NewDriver has wrong signature", ErrDriverNotFound, path)
	}

	a := &Adapter{
		path:   path,
		cmds:   make(chan command),
		closed: make(chan struct{}),
	}
	ready := make(chan error, 1)
	go a.run(factory, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return a, nil
}

// OpenWithDriver wires an Adapter directly to an already-constructed Driver,
// skipping plugin.Open. Used by tests and by in-process drivers that don't
// come from a vendor .so.
func OpenWithDriver(d Driver) (*Adapter, error) {
	a := &Adapter{
		path:   "embedded",
		cmds:   make(chan command),
		closed: make(chan struct{}),
	}
	ready := make(chan error, 1)
	go a.run(func() Driver { return d }, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return a, nil
}

// run is the adapter's dedicated OS thread. It owns the Driver for its
// entire lifetime; no other goroutine touches it.
func (a *Adapter) run(factory DriverFactory, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	driver, err := a.instantiate(factory)
	if err != nil {
		ready <- err
		return
	}
	if err := a.callGuarded(driver.Open); err != nil {
		ready <- fmt.Errorf("driverabi: %s: open_tuner: %w", a.path, err)
		return
	}
	a.driver = driver
	ready <- nil

	for {
		select {
		case cmd := <-a.cmds:
			cmd.fn()
			close(cmd.done)
		case <-a.closed:
			driver.Close()
			return
		}
	}
}

func (a *Adapter) instantiate(factory DriverFactory) (driver Driver, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: constructing driver: %v", ErrPanicInDriver, r)
		}
	}()
	return factory(), nil
}

// callGuarded invokes fn, converting a panic crossing the ABI boundary into
// a fatal error for this adapter rather than crashing the process.
func (a *Adapter) callGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			log.Printf("driverabi: %s: recovered panic: %v", a.path, r)
		}
	}()
	return fn()
}

// submit runs fn on the adapter's dedicated goroutine and blocks for the
// result, or returns ErrAdapterClosed if the adapter has been closed.
func (a *Adapter) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.cmds <- command{fn: fn, done: done}:
	case <-a.closed:
		return ErrAdapterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Revision returns the ABI revision the loaded driver reports.
func (a *Adapter) Revision() Revision {
	var rev Revision
	if err := a.submit(context.Background(), func() { rev = a.driver.Revision() }); err != nil {
		return RevisionUnknown
	}
	return rev
}

// SetChannelSimple issues a legacy (v1 ABI) single-byte channel tune.
func (a *Adapter) SetChannelSimple(ctx context.Context, ch byte) (res SetChannelResult, err error) {
	sendErr := a.submit(ctx, func() {
		res, err = a.guardedSetChannelSimple(ch)
	})
	if sendErr != nil {
		return SetChannelTransientNotReady, sendErr
	}
	return res, err
}

func (a *Adapter) guardedSetChannelSimple(ch byte) (res SetChannelResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
		}
	}()
	return a.driver.SetChannelSimple(ch)
}

// SetChannelSpace issues a modern (v2/v3 ABI) (space,channel) tune.
func (a *Adapter) SetChannelSpace(ctx context.Context, space, channel uint32) (res SetChannelResult, err error) {
	sendErr := a.submit(ctx, func() {
		res, err = a.guardedSetChannelSpace(space, channel)
	})
	if sendErr != nil {
		return SetChannelTransientNotReady, sendErr
	}
	return res, err
}

func (a *Adapter) guardedSetChannelSpace(space, channel uint32) (res SetChannelResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
		}
	}()
	return a.driver.SetChannelSpace(space, channel)
}

// SignalLevel reads the instantaneous signal level; non-blocking on the ABI
// side, but still serialized through the adapter's worker.
func (a *Adapter) SignalLevel(ctx context.Context) (level float32, err error) {
	sendErr := a.submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			}
		}()
		level, err = a.driver.SignalLevel()
	})
	if sendErr != nil {
		return 0, sendErr
	}
	return level, err
}

// WaitStream is a hint, not a gate: a false return does not mean no data is
// available, only that none arrived within timeoutMS.
func (a *Adapter) WaitStream(ctx context.Context, timeoutMS int) (ready bool, err error) {
	sendErr := a.submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			}
		}()
		ready = a.driver.WaitStream(timeoutMS)
	})
	return ready, firstErr(sendErr, err)
}

// GetStream fills buf with whatever TS bytes the driver currently has
// buffered. n==0 means no data yet, not end of stream.
func (a *Adapter) GetStream(ctx context.Context, buf []byte) (n int, remaining int, err error) {
	sendErr := a.submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			}
		}()
		n, remaining, err = a.driver.GetStream(buf)
	})
	return n, remaining, firstErr(sendErr, err)
}

// PurgeStream discards whatever the driver has buffered.
func (a *Adapter) PurgeStream(ctx context.Context) (err error) {
	sendErr := a.submit(ctx, func() {
		err = a.callGuarded(a.driver.PurgeStream)
	})
	return firstErr(sendErr, err)
}

// EnumTuningSpace returns the display name of tuning space index space.
func (a *Adapter) EnumTuningSpace(ctx context.Context, space uint32) (name string, ok bool, err error) {
	sendErr := a.submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			}
		}()
		name, ok = a.driver.EnumTuningSpace(space)
	})
	return name, ok, firstErr(sendErr, err)
}

// EnumChannelName returns the display name of channel within space.
func (a *Adapter) EnumChannelName(ctx context.Context, space, channel uint32) (name string, ok bool, err error) {
	sendErr := a.submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicInDriver, r)
			}
		}()
		name, ok = a.driver.EnumChannelName(space, channel)
	})
	return name, ok, firstErr(sendErr, err)
}

// SetLNBPower enables or disables LNB power for satellite tuners.
func (a *Adapter) SetLNBPower(ctx context.Context, enable bool) (err error) {
	sendErr := a.submit(ctx, func() {
		err = a.callGuarded(func() error { return a.driver.SetLNBPower(enable) })
	})
	return firstErr(sendErr, err)
}

// Close stops the adapter's worker goroutine, which closes the underlying
// driver. Safe to call more than once.
func (a *Adapter) Close() {
	select {
	case <-a.closed:
	default:
		close(a.closed)
	}
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
