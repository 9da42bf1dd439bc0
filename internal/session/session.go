// Package session implements the per-client protocol state machine: wire
// handshake, tuner resolution and tuning, streaming, and the accounting and
// remote-shutdown plumbing the admin surface depends on.
package session

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
	"github.com/tunerproxy/tunerproxyd/internal/spacegen"
	"github.com/tunerproxy/tunerproxyd/internal/tsanalyzer"
	"github.com/tunerproxy/tunerproxyd/internal/tunerpool"
	"github.com/tunerproxy/tunerproxyd/internal/wire"
)

// State is one of the session's protocol states.
type State int

const (
	StateInitial State = iota
	StateReady
	StateTunerOpen
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateReady:
		return "Ready"
	case StateTunerOpen:
		return "TunerOpen"
	case StateStreaming:
		return "Streaming"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// ProtocolVersion is the server's Hello version; a client mismatch gets
// success=false but the connection stays open.
const ProtocolVersion = 1

const accountingFlushInterval = 30 * time.Second

// DriverOpener opens a vendor driver adapter for a filesystem path.
type DriverOpener func(path string) (*driverabi.Adapter, error)

// Deps bundles every collaborator a Session needs, shared across all
// sessions by the server.
type Deps struct {
	DB         *channeldb.DB
	Pool       *tunerpool.Pool
	OpenDriver DriverOpener
	NewPipe    sharedtuner.NewPipeFunc
	Registry   *Registry
}

// Session is one client connection's full lifecycle.
type Session struct {
	deps Deps
	conn net.Conn
	fr   *wire.FrameReader
	fw   *wire.FrameWriter

	remoteAddr string
	state      State

	// tuner resolution
	driverPath       string
	groupName        string
	groupDriverPaths []string
	priority         int32
	exclusive        bool

	// active tuning
	key         sharedtuner.ChannelKey
	tuner       *sharedtuner.SharedTuner
	adapter     *driverabi.Adapter
	hasTuner    bool
	subID       int
	broadcastCh <-chan sharedtuner.Chunk
	streaming   bool

	spaces     []spacegen.VirtualSpace
	spacesPath string // driver path the cached spaces were built from

	analyzer     *tsanalyzer.Analyzer
	bytesSent    int64
	packetsSent  int64
	lastFlush    time.Time
	historyID    int64
	historyOpen  bool
	disconnectReason string

	shutdownCh chan struct{}
	id         int64
}

// New wraps a just-accepted connection in a fresh Session.
func New(conn net.Conn, deps Deps, id int64) *Session {
	return &Session{
		deps:       deps,
		conn:       conn,
		fr:         wire.NewFrameReader(conn),
		fw:         wire.NewFrameWriter(conn),
		remoteAddr: conn.RemoteAddr().String(),
		state:      StateInitial,
		analyzer:   tsanalyzer.New(),
		shutdownCh: make(chan struct{}, 1),
		lastFlush:  time.Now(),
		id:         id,
	}
}

// RequestShutdown asks the session to disconnect at its next opportunity;
// safe to call from another goroutine (e.g. the admin surface).
func (s *Session) RequestShutdown() {
	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}
}

// Run drives the session until the peer disconnects, a framing error
// occurs, or remote shutdown is requested. It always cleans up.
func (s *Session) Run() {
	defer s.cleanup()

	if s.deps.Registry != nil {
		s.deps.Registry.Register(s)
		defer s.deps.Registry.Unregister(s.id)
	}

	reqCh := make(chan inbound, 1)
	go s.readLoop(reqCh)

	ticker := time.NewTicker(accountingFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case in, ok := <-reqCh:
			if !ok {
				s.disconnectReason = "peer closed"
				return
			}
			if in.err != nil {
				s.disconnectReason = "framing error"
				log.Printf("session: %s: frame read: %v", s.remoteAddr, in.err)
				return
			}
			if !s.handle(in.req) {
				return
			}

		case chunk, ok := <-s.broadcastCh:
			if !ok {
				s.disconnectReason = "tuner torn down"
				return
			}
			if err := s.forwardChunk(chunk); err != nil {
				s.disconnectReason = "write error"
				return
			}

		case <-s.shutdownCh:
			s.disconnectReason = "remote_shutdown"
			return

		case <-ticker.C:
			s.flushAccounting(false)
		}
	}
}

type inbound struct {
	req wire.Request
	err error
}

// readLoop decodes frames off the connection and feeds them to Run's select
// loop; it exits (closing reqCh) when the connection errors or closes.
func (s *Session) readLoop(out chan<- inbound) {
	defer close(out)
	for {
		hdr, payload, err := s.fr.ReadFrame()
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(hdr.MessageType, payload)
		out <- inbound{req: req, err: err}
		if err != nil {
			return
		}
	}
}

// forwardChunk emits one broadcast chunk as a TsData frame and updates
// per-session accounting.
func (s *Session) forwardChunk(chunk sharedtuner.Chunk) error {
	delta := s.analyzer.Feed(chunk.Data)
	_ = delta // quality counters accumulate inside s.analyzer; read via Counters()
	s.bytesSent += int64(len(chunk.Data))
	s.packetsSent += int64(delta.PacketsTotal)
	return s.fw.WriteResponse(wire.TsData{Bytes: chunk.Data})
}

func (s *Session) sendError(code wire.ErrorCode, msg string) {
	if err := s.fw.WriteResponse(wire.Error{Code: code, Message: msg}); err != nil {
		log.Printf("session: %s: write error response: %v", s.remoteAddr, err)
	}
}

func (s *Session) cleanup() {
	s.state = StateClosing
	if s.hasTuner && s.tuner != nil {
		s.releaseCurrentTuner()
	}
	s.flushAccounting(true)
}

// releaseCurrentTuner unsubscribes from the active tuner and schedules its
// keep-alive close if this was the last subscriber.
func (s *Session) releaseCurrentTuner() {
	s.tuner.Unsubscribe(s.subID)
	s.hasTuner = false
	if s.tuner.SubscriberCount() == 0 {
		s.deps.Pool.ScheduleIdleClose(s.key, s.tuner)
		if s.deps.Registry != nil {
			s.deps.Registry.ClearPriority(s.key)
		}
	}
	s.tuner = nil
	s.adapter = nil
	s.broadcastCh = nil
}

func (s *Session) flushAccounting(final bool) {
	if s.deps.DB == nil {
		return
	}
	now := time.Now()
	if !final && now.Sub(s.lastFlush) < accountingFlushInterval {
		return
	}
	s.lastFlush = now

	delta := s.analyzer.Counters()
	if s.historyOpen {
		entry := channeldb.SessionHistoryEntry{
			DurationSecs:     int64(now.Sub(s.lastFlush).Seconds()),
			BytesSent:        s.bytesSent,
			PacketsSent:      s.packetsSent,
			PacketsDropped:   int64(delta.PacketsDropped),
			PacketsScrambled: int64(delta.PacketsScrambled),
			PacketsError:     int64(delta.PacketsError),
			DisconnectReason: s.disconnectReason,
		}
		if err := s.deps.DB.EndSession(s.historyID, entry); err != nil {
			log.Printf("session: %s: flush accounting: %v", s.remoteAddr, err)
		}
	}
	if final {
		s.historyOpen = false
	}
}

// ctxWithTimeout is a small helper most tune operations share.
func ctxWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
