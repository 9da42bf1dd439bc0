package wire

import "testing"

func roundTripRequest(t *testing.T, req Request) Request {
	t.Helper()
	frame, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	hdr, err := PeekHeader(frame)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	got, err := DecodeRequest(hdr.MessageType, frame[HeaderSize:HeaderSize+int(hdr.PayloadLen)])
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	return got
}

func roundTripResponse(t *testing.T, resp Response) Response {
	t.Helper()
	frame, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	hdr, err := PeekHeader(frame)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	got, err := DecodeResponse(hdr.MessageType, frame[HeaderSize:HeaderSize+int(hdr.PayloadLen)])
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	return got
}

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		Hello{Version: 3},
		Ping{},
		OpenTuner{Target: "/dev/bon0", IsGroup: false},
		OpenTuner{Target: "group-a", IsGroup: true},
		CloseTuner{},
		SetChannel{Channel: 12, Priority: 5, Exclusive: true},
		SetChannelSpace{InGroup: false, Space: 2, Channel: 7, Priority: 1, Exclusive: false},
		SetChannelSpace{InGroup: true, GroupName: "group-a", Space: 2, Channel: 7, Priority: 1, Exclusive: true},
		GetSignalLevel{},
		EnumTuningSpace{Space: 4},
		EnumChannelName{Space: 4, Channel: 9},
		StartStream{},
		StopStream{},
		PurgeStream{},
		SetLnbPower{Enable: true},
		SelectLogicalChannel{NID: 1, TSID: 2, SID: 3, HasSID: true},
		SelectLogicalChannel{NID: 1, TSID: 2, HasSID: false},
		GetChannelList{HasFilter: false},
		GetChannelList{Filter: "BS", HasFilter: true},
	}
	for i, want := range cases {
		got := roundTripRequest(t, want)
		if got != want {
			t.Errorf("case %d: got %#v, want %#v", i, got, want)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		HelloAck{Version: 3, Success: true},
		Pong{},
		OpenTunerAck{Ack: Ack{Success: true}, ResolvedPath: "/dev/bon0"},
		CloseTunerAck{Ack: Ack{Success: true}},
		SetChannelAck{Ack: Ack{Success: false, Code: ErrChannelSetFailed, Message: "no lock"}},
		SetChannelSpaceAck{Ack: Ack{Success: true}, TunerPath: "/dev/bon1", ActualSpace: 2, ActualChannel: 7},
		GetSignalLevelAck{Ack: Ack{Success: true}, Level: 12.5},
		EnumTuningSpaceAck{Ack: Ack{Success: true}, Name: "BS/110CS"},
		EnumChannelNameAck{Ack: Ack{Success: true}, Name: "NHK"},
		StartStreamAck{Ack: Ack{Success: true}},
		StopStreamAck{Ack: Ack{Success: true}},
		PurgeStreamAck{Ack: Ack{Success: true}},
		SetLnbPowerAck{Ack: Ack{Success: true}},
		SelectLogicalChannelAck{Ack: Ack{Success: true}, TunerPath: "/dev/bon0", ActualSpace: 1, ActualChannel: 3},
		GetChannelListAck{Ack: Ack{Success: true}, Entries: []ChannelListEntry{
			{NID: 1, TSID: 2, SID: 3, Name: "NHK", Space: 0, Channel: 1},
		}},
		Error{Code: ErrInvalidState, Message: "not streaming"},
	}
	for i, want := range cases {
		got := roundTripResponse(t, want)
		switch w := want.(type) {
		case GetChannelListAck:
			g := got.(GetChannelListAck)
			if g.Ack != w.Ack || len(g.Entries) != len(w.Entries) {
				t.Errorf("case %d: got %#v, want %#v", i, g, w)
				continue
			}
			for j := range w.Entries {
				if g.Entries[j] != w.Entries[j] {
					t.Errorf("case %d entry %d: got %#v, want %#v", i, j, g.Entries[j], w.Entries[j])
				}
			}
		default:
			if got != want {
				t.Errorf("case %d: got %#v, want %#v", i, got, want)
			}
		}
	}
}

func TestTsDataRoundTrip(t *testing.T) {
	payload := make([]byte, 188*7)
	for i := range payload {
		payload[i] = byte(i)
	}
	got := roundTripResponse(t, TsData{Bytes: payload})
	ts := got.(TsData)
	if len(ts.Bytes) != len(payload) {
		t.Fatalf("len = %d, want %d", len(ts.Bytes), len(payload))
	}
	for i := range payload {
		if ts.Bytes[i] != payload[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	if _, err := DecodeRequest(0xDEAD, nil); err != ErrUnknownMessageType {
		t.Fatalf("err = %v, want ErrUnknownMessageType", err)
	}
	if _, err := DecodeResponse(0xDEAD, nil); err != ErrUnknownMessageType {
		t.Fatalf("err = %v, want ErrUnknownMessageType", err)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	if _, err := DecodeRequest(OpHello, nil); err == nil {
		t.Fatal("expected error decoding truncated Hello payload")
	}
}
