package session

import (
	"errors"
	"log"

	"github.com/tunerproxy/tunerproxyd/internal/wire"
)

// handle dispatches one decoded request against the current state and
// writes the corresponding response(s). It returns false when the session
// should close (a framing-level write failure, not a protocol-level Ack
// failure).
func (s *Session) handle(req wire.Request) bool {
	// Messages legal in every state once a tuner is open.
	switch m := req.(type) {
	case wire.Ping:
		return s.writeOK(wire.Pong{})
	case wire.GetSignalLevel:
		if s.hasTuner {
			return s.writeOK(wire.GetSignalLevelAck{Ack: ackOK(), Level: s.tuner.SignalLevel()})
		}
	case wire.SetLnbPower:
		if s.hasTuner {
			return s.handleSetLnbPower(m)
		}
	}

	switch s.state {
	case StateInitial:
		return s.handleInitial(req)
	case StateReady:
		return s.handleReady(req)
	case StateTunerOpen:
		return s.handleTunerOpen(req)
	case StateStreaming:
		return s.handleStreaming(req)
	default:
		return s.rejectInvalidState()
	}
}

func ackOK() wire.Ack                          { return wire.Ack{Success: true} }
func ackFail(code wire.ErrorCode, msg string) wire.Ack { return wire.Ack{Success: false, Code: code, Message: msg} }

func (s *Session) writeOK(resp wire.Response) bool {
	if err := s.fw.WriteResponse(resp); err != nil {
		log.Printf("session: %s: write response: %v", s.remoteAddr, err)
		return false
	}
	return true
}

func (s *Session) rejectInvalidState() bool {
	return s.writeOK(wire.Error{Code: wire.ErrInvalidState, Message: "message illegal in state " + s.state.String()})
}

func (s *Session) handleInitial(req wire.Request) bool {
	hello, ok := req.(wire.Hello)
	if !ok {
		return s.rejectInvalidState()
	}
	if hello.Version != ProtocolVersion {
		return s.writeOK(wire.HelloAck{Version: ProtocolVersion, Success: false})
	}
	s.state = StateReady
	return s.writeOK(wire.HelloAck{Version: ProtocolVersion, Success: true})
}

func (s *Session) handleReady(req wire.Request) bool {
	ot, ok := req.(wire.OpenTuner)
	if !ok {
		return s.rejectInvalidState()
	}
	resolved, err := s.resolveTuner(ot)
	if err != nil {
		return s.writeOK(wire.OpenTunerAck{Ack: ackFail(wire.ErrTunerOpenFailed, err.Error())})
	}
	s.driverPath = resolved
	s.state = StateTunerOpen
	return s.writeOK(wire.OpenTunerAck{Ack: ackOK(), ResolvedPath: resolved})
}

func (s *Session) handleTunerOpen(req wire.Request) bool {
	switch m := req.(type) {
	case wire.SetChannel:
		return s.handleSetChannelSimple(m)
	case wire.SetChannelSpace:
		return s.handleSetChannelSpace(m)
	case wire.StartStream:
		return s.handleStartStream()
	case wire.EnumTuningSpace:
		return s.handleEnumTuningSpace(m)
	case wire.EnumChannelName:
		return s.handleEnumChannelName(m)
	case wire.SelectLogicalChannel:
		return s.handleSelectLogicalChannel(m)
	case wire.GetChannelList:
		return s.handleGetChannelList(m)
	case wire.CloseTuner:
		return s.handleCloseTuner()
	default:
		return s.rejectInvalidState()
	}
}

func (s *Session) handleStreaming(req wire.Request) bool {
	switch m := req.(type) {
	case wire.SetChannel:
		return s.handleSetChannelSimple(m)
	case wire.SetChannelSpace:
		return s.handleSetChannelSpace(m)
	case wire.StopStream:
		return s.handleStopStream()
	case wire.PurgeStream:
		return s.handlePurgeStream()
	default:
		return s.rejectInvalidState()
	}
}

func (s *Session) handleSetLnbPower(m wire.SetLnbPower) bool {
	ctx, cancel := ctxWithTimeout(lnbTimeout)
	defer cancel()
	if s.adapter == nil {
		return s.writeOK(wire.SetLnbPowerAck{Ack: ackFail(wire.ErrUnsupported, "no open adapter")})
	}
	if err := s.adapter.SetLNBPower(ctx, m.Enable); err != nil {
		return s.writeOK(wire.SetLnbPowerAck{Ack: ackFail(wire.ErrGeneric, err.Error())})
	}
	return s.writeOK(wire.SetLnbPowerAck{Ack: ackOK()})
}

func (s *Session) handleCloseTuner() bool {
	if s.hasTuner {
		s.releaseCurrentTuner()
	}
	s.adapter = nil
	s.state = StateReady
	return s.writeOK(wire.CloseTunerAck{Ack: ackOK()})
}

func (s *Session) handleStartStream() bool {
	if !s.hasTuner {
		return s.writeOK(wire.StartStreamAck{Ack: ackFail(wire.ErrInvalidState, "no tuner open")})
	}
	s.deps.Pool.CancelIdleClose(s.key)
	s.state = StateStreaming
	s.streaming = true
	s.openHistoryIfNeeded()
	return s.writeOK(wire.StartStreamAck{Ack: ackOK()})
}

func (s *Session) handleStopStream() bool {
	s.streaming = false
	s.state = StateTunerOpen
	if s.hasTuner && s.tuner.SubscriberCount() == 0 {
		s.deps.Pool.ScheduleIdleClose(s.key, s.tuner)
	}
	return s.writeOK(wire.StopStreamAck{Ack: ackOK()})
}

func (s *Session) handlePurgeStream() bool {
	// Drain whatever is already queued on the broadcast channel without
	// blocking; the producer keeps running.
	for {
		select {
		case <-s.broadcastCh:
		default:
			return s.writeOK(wire.PurgeStreamAck{Ack: ackOK()})
		}
	}
}

func (s *Session) handleEnumTuningSpace(m wire.EnumTuningSpace) bool {
	if err := s.ensureSpaces(); err != nil {
		return s.writeOK(wire.EnumTuningSpaceAck{Ack: ackFail(wire.ErrGeneric, err.Error())})
	}
	if int(m.Space) >= len(s.spaces) {
		return s.writeOK(wire.EnumTuningSpaceAck{Ack: ackFail(wire.ErrInvalidParameter, "no such space")})
	}
	return s.writeOK(wire.EnumTuningSpaceAck{Ack: ackOK(), Name: s.spaces[m.Space].DisplayName})
}

func (s *Session) handleEnumChannelName(m wire.EnumChannelName) bool {
	if err := s.ensureSpaces(); err != nil {
		return s.writeOK(wire.EnumChannelNameAck{Ack: ackFail(wire.ErrGeneric, err.Error())})
	}
	if int(m.Space) >= len(s.spaces) {
		return s.writeOK(wire.EnumChannelNameAck{Ack: ackFail(wire.ErrInvalidParameter, "no such space")})
	}
	chans := s.spaces[m.Space].Channels
	if int(m.Channel) >= len(chans) {
		return s.writeOK(wire.EnumChannelNameAck{Ack: ackFail(wire.ErrInvalidParameter, "no such channel")})
	}
	return s.writeOK(wire.EnumChannelNameAck{Ack: ackOK(), Name: chans[m.Channel].Name})
}

var errNoCandidates = errors.New("session: no candidate channel")
