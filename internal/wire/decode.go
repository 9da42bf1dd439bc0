package wire

// DecodeRequest parses payload according to messageType into one of the
// Request variants declared in messages.go. The returned value's concrete
// type matches the opcode (e.g. OpOpenTuner -> OpenTuner).
func DecodeRequest(messageType uint16, payload []byte) (Request, error) {
	r := &reader{buf: payload}
	switch messageType {
	case OpHello:
		v, err := r.u16()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return Hello{Version: v}, nil

	case OpPing:
		return Ping{}, nil

	case OpOpenTuner:
		isGroup, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		target, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return OpenTuner{Target: target, IsGroup: isGroup}, nil

	case OpCloseTuner:
		return CloseTuner{}, nil

	case OpSetChannel:
		ch, err := r.u8()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		prio, err := r.i32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		excl, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetChannel{Channel: ch, Priority: prio, Exclusive: excl}, nil

	case OpSetChannelSpace:
		inGroup, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		group, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		space, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		ch, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		prio, err := r.i32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		excl, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetChannelSpace{
			InGroup: inGroup, GroupName: group, Space: space,
			Channel: ch, Priority: prio, Exclusive: excl,
		}, nil

	case OpGetSignalLevel:
		return GetSignalLevel{}, nil

	case OpEnumTuningSpace:
		space, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return EnumTuningSpace{Space: space}, nil

	case OpEnumChannelName:
		space, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		ch, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return EnumChannelName{Space: space, Channel: ch}, nil

	case OpStartStream:
		return StartStream{}, nil

	case OpStopStream:
		return StopStream{}, nil

	case OpPurgeStream:
		return PurgeStream{}, nil

	case OpSetLnbPower:
		enable, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetLnbPower{Enable: enable}, nil

	case OpSelectLogicalChannel:
		nid, err := r.u16()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		tsid, err := r.u16()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		sid, has, err := r.optU32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SelectLogicalChannel{NID: nid, TSID: tsid, SID: sid, HasSID: has}, nil

	case OpGetChannelList:
		filter, has, err := r.optStr()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return GetChannelList{Filter: filter, HasFilter: has}, nil

	default:
		return nil, ErrUnknownMessageType
	}
}

// DecodeResponse parses payload according to messageType into one of the
// Response variants declared in messages.go.
func DecodeResponse(messageType uint16, payload []byte) (Response, error) {
	r := &reader{buf: payload}
	switch messageType {
	case OpHelloAck:
		v, err := r.u16()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		ok, err := r.bool()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return HelloAck{Version: v, Success: ok}, nil

	case OpPong:
		return Pong{}, nil

	case OpOpenTunerAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		path, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return OpenTunerAck{Ack: ack, ResolvedPath: path}, nil

	case OpCloseTunerAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return CloseTunerAck{Ack: ack}, nil

	case OpSetChannelAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetChannelAck{Ack: ack}, nil

	case OpSetChannelSpaceAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		path, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		space, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		ch, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetChannelSpaceAck{Ack: ack, TunerPath: path, ActualSpace: space, ActualChannel: ch}, nil

	case OpGetSignalLevelAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		level, err := r.f32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return GetSignalLevelAck{Ack: ack, Level: level}, nil

	case OpEnumTuningSpaceAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		name, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return EnumTuningSpaceAck{Ack: ack, Name: name}, nil

	case OpEnumChannelNameAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		name, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return EnumChannelNameAck{Ack: ack, Name: name}, nil

	case OpStartStreamAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return StartStreamAck{Ack: ack}, nil

	case OpStopStreamAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return StopStreamAck{Ack: ack}, nil

	case OpPurgeStreamAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return PurgeStreamAck{Ack: ack}, nil

	case OpSetLnbPowerAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SetLnbPowerAck{Ack: ack}, nil

	case OpTsData:
		return TsData{Bytes: append([]byte(nil), r.rest()...)}, nil

	case OpSelectLogicalChannelAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		path, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		space, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		ch, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return SelectLogicalChannelAck{Ack: ack, TunerPath: path, ActualSpace: space, ActualChannel: ch}, nil

	case OpGetChannelListAck:
		ack, err := decodeAck(r)
		if err != nil {
			return nil, fmtShort(messageType)
		}
		count, err := r.u32()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		entries := make([]ChannelListEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			var e ChannelListEntry
			if e.NID, err = r.u16(); err != nil {
				return nil, fmtShort(messageType)
			}
			if e.TSID, err = r.u16(); err != nil {
				return nil, fmtShort(messageType)
			}
			if e.SID, err = r.u16(); err != nil {
				return nil, fmtShort(messageType)
			}
			if e.Name, err = r.str(); err != nil {
				return nil, fmtShort(messageType)
			}
			if e.Space, err = r.u32(); err != nil {
				return nil, fmtShort(messageType)
			}
			if e.Channel, err = r.u32(); err != nil {
				return nil, fmtShort(messageType)
			}
			entries = append(entries, e)
		}
		return GetChannelListAck{Ack: ack, Entries: entries}, nil

	case OpError:
		code, err := r.u16()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		msg, err := r.str()
		if err != nil {
			return nil, fmtShort(messageType)
		}
		return Error{Code: ErrorCode(code), Message: msg}, nil

	default:
		return nil, ErrUnknownMessageType
	}
}
