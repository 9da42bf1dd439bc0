package wire

// Request is implemented by every client->server message variant.
type Request interface {
	messageType() uint16
	encode() *writer
}

// Response is implemented by every server->client message variant.
type Response interface {
	messageType() uint16
	encode() *writer
}

// EncodeRequest serializes a Request into a complete frame.
func EncodeRequest(r Request) ([]byte, error) {
	w := r.encode()
	return w.frame(r.messageType())
}

// EncodeResponse serializes a Response into a complete frame.
func EncodeResponse(r Response) ([]byte, error) {
	w := r.encode()
	return w.frame(r.messageType())
}

// ── requests ─────────────────────────────────────────────────────────────

type Hello struct{ Version uint16 }

func (Hello) messageType() uint16 { return OpHello }
func (m Hello) encode() *writer   { w := &writer{}; w.u16(m.Version); return w }

type Ping struct{}

func (Ping) messageType() uint16 { return OpPing }
func (Ping) encode() *writer     { return &writer{} }

// OpenTuner carries either a direct driver path or a group name; IsGroup
// disambiguates the payload shape since both encode to OpOpenTuner.
type OpenTuner struct {
	Target  string
	IsGroup bool
}

func (OpenTuner) messageType() uint16 { return OpOpenTuner }
func (m OpenTuner) encode() *writer {
	w := &writer{}
	w.boolean(m.IsGroup)
	w.str(m.Target)
	return w
}

type CloseTuner struct{}

func (CloseTuner) messageType() uint16 { return OpCloseTuner }
func (CloseTuner) encode() *writer     { return &writer{} }

// SetChannel is the legacy (v1 ABI) single-byte channel addressing form.
type SetChannel struct {
	Channel   byte
	Priority  int32
	Exclusive bool
}

func (SetChannel) messageType() uint16 { return OpSetChannel }
func (m SetChannel) encode() *writer {
	w := &writer{}
	w.u8(m.Channel)
	w.i32(m.Priority)
	w.boolean(m.Exclusive)
	return w
}

// SetChannelSpace is the modern (v2/v3 ABI) (space,channel) addressing form.
// GroupName is non-empty for the group-aware variant, which shares this
// opcode; InGroup disambiguates.
type SetChannelSpace struct {
	InGroup   bool
	GroupName string
	Space     uint32
	Channel   uint32
	Priority  int32
	Exclusive bool
}

func (SetChannelSpace) messageType() uint16 { return OpSetChannelSpace }
func (m SetChannelSpace) encode() *writer {
	w := &writer{}
	w.boolean(m.InGroup)
	w.str(m.GroupName)
	w.u32(m.Space)
	w.u32(m.Channel)
	w.i32(m.Priority)
	w.boolean(m.Exclusive)
	return w
}

type GetSignalLevel struct{}

func (GetSignalLevel) messageType() uint16 { return OpGetSignalLevel }
func (GetSignalLevel) encode() *writer     { return &writer{} }

type EnumTuningSpace struct{ Space uint32 }

func (EnumTuningSpace) messageType() uint16 { return OpEnumTuningSpace }
func (m EnumTuningSpace) encode() *writer   { w := &writer{}; w.u32(m.Space); return w }

type EnumChannelName struct {
	Space   uint32
	Channel uint32
}

func (EnumChannelName) messageType() uint16 { return OpEnumChannelName }
func (m EnumChannelName) encode() *writer {
	w := &writer{}
	w.u32(m.Space)
	w.u32(m.Channel)
	return w
}

type StartStream struct{}

func (StartStream) messageType() uint16 { return OpStartStream }
func (StartStream) encode() *writer     { return &writer{} }

type StopStream struct{}

func (StopStream) messageType() uint16 { return OpStopStream }
func (StopStream) encode() *writer     { return &writer{} }

type PurgeStream struct{}

func (PurgeStream) messageType() uint16 { return OpPurgeStream }
func (PurgeStream) encode() *writer     { return &writer{} }

type SetLnbPower struct{ Enable bool }

func (SetLnbPower) messageType() uint16 { return OpSetLnbPower }
func (m SetLnbPower) encode() *writer   { w := &writer{}; w.boolean(m.Enable); return w }

type SelectLogicalChannel struct {
	NID uint16
	TSID uint16
	SID  uint32
	HasSID bool
}

func (SelectLogicalChannel) messageType() uint16 { return OpSelectLogicalChannel }
func (m SelectLogicalChannel) encode() *writer {
	w := &writer{}
	w.u16(m.NID)
	w.u16(m.TSID)
	w.optU32(m.SID, m.HasSID)
	return w
}

type GetChannelList struct {
	Filter     string
	HasFilter  bool
}

func (GetChannelList) messageType() uint16 { return OpGetChannelList }
func (m GetChannelList) encode() *writer {
	w := &writer{}
	w.optStr(m.Filter, m.HasFilter)
	return w
}

// ── responses ────────────────────────────────────────────────────────────

type HelloAck struct {
	Version uint16
	Success bool
}

func (HelloAck) messageType() uint16 { return OpHelloAck }
func (m HelloAck) encode() *writer {
	w := &writer{}
	w.u16(m.Version)
	w.boolean(m.Success)
	return w
}

type Pong struct{}

func (Pong) messageType() uint16 { return OpPong }
func (Pong) encode() *writer     { return &writer{} }

// Ack is the generic {success, error_code, message} shape shared by every
// ...Ack response that carries no extra payload of its own.
type Ack struct {
	Success bool
	Code    ErrorCode
	Message string
}

func (a Ack) encodeInto(w *writer) {
	w.boolean(a.Success)
	w.u16(uint16(a.Code))
	w.str(a.Message)
}

func decodeAck(r *reader) (Ack, error) {
	var a Ack
	var err error
	if a.Success, err = r.bool(); err != nil {
		return a, err
	}
	code, err := r.u16()
	if err != nil {
		return a, err
	}
	a.Code = ErrorCode(code)
	if a.Message, err = r.str(); err != nil {
		return a, err
	}
	return a, nil
}

type OpenTunerAck struct {
	Ack
	ResolvedPath string
}

func (OpenTunerAck) messageType() uint16 { return OpOpenTunerAck }
func (m OpenTunerAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.str(m.ResolvedPath)
	return w
}

type CloseTunerAck struct{ Ack }

func (CloseTunerAck) messageType() uint16 { return OpCloseTunerAck }
func (m CloseTunerAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

type SetChannelAck struct{ Ack }

func (SetChannelAck) messageType() uint16 { return OpSetChannelAck }
func (m SetChannelAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

// SetChannelSpaceAck additionally reports the physical tuner path, space,
// and channel that were actually tuned (§4.9.5 resolved-tuner reporting).
type SetChannelSpaceAck struct {
	Ack
	TunerPath    string
	ActualSpace  uint32
	ActualChannel uint32
}

func (SetChannelSpaceAck) messageType() uint16 { return OpSetChannelSpaceAck }
func (m SetChannelSpaceAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.str(m.TunerPath)
	w.u32(m.ActualSpace)
	w.u32(m.ActualChannel)
	return w
}

type GetSignalLevelAck struct {
	Ack
	Level float32
}

func (GetSignalLevelAck) messageType() uint16 { return OpGetSignalLevelAck }
func (m GetSignalLevelAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.f32(m.Level)
	return w
}

type EnumTuningSpaceAck struct {
	Ack
	Name string
}

func (EnumTuningSpaceAck) messageType() uint16 { return OpEnumTuningSpaceAck }
func (m EnumTuningSpaceAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.str(m.Name)
	return w
}

type EnumChannelNameAck struct {
	Ack
	Name string
}

func (EnumChannelNameAck) messageType() uint16 { return OpEnumChannelNameAck }
func (m EnumChannelNameAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.str(m.Name)
	return w
}

type StartStreamAck struct{ Ack }

func (StartStreamAck) messageType() uint16 { return OpStartStreamAck }
func (m StartStreamAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

type StopStreamAck struct{ Ack }

func (StopStreamAck) messageType() uint16 { return OpStopStreamAck }
func (m StopStreamAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

type PurgeStreamAck struct{ Ack }

func (PurgeStreamAck) messageType() uint16 { return OpPurgeStreamAck }
func (m PurgeStreamAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

type SetLnbPowerAck struct{ Ack }

func (SetLnbPowerAck) messageType() uint16 { return OpSetLnbPowerAck }
func (m SetLnbPowerAck) encode() *writer   { w := &writer{}; m.Ack.encodeInto(w); return w }

// TsData is unsolicited server->client bulk stream data.
type TsData struct{ Bytes []byte }

func (TsData) messageType() uint16 { return OpTsData }
func (m TsData) encode() *writer   { w := &writer{}; w.bytes(m.Bytes); return w }

type SelectLogicalChannelAck struct {
	Ack
	TunerPath    string
	ActualSpace  uint32
	ActualChannel uint32
}

func (SelectLogicalChannelAck) messageType() uint16 { return OpSelectLogicalChannelAck }
func (m SelectLogicalChannelAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.str(m.TunerPath)
	w.u32(m.ActualSpace)
	w.u32(m.ActualChannel)
	return w
}

// ChannelListEntry is one row of a GetChannelListAck.
type ChannelListEntry struct {
	NID         uint16
	TSID        uint16
	SID         uint16
	Name        string
	Space       uint32
	Channel     uint32
}

type GetChannelListAck struct {
	Ack
	Entries []ChannelListEntry
}

func (GetChannelListAck) messageType() uint16 { return OpGetChannelListAck }
func (m GetChannelListAck) encode() *writer {
	w := &writer{}
	m.Ack.encodeInto(w)
	w.u32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		w.u16(e.NID)
		w.u16(e.TSID)
		w.u16(e.SID)
		w.str(e.Name)
		w.u32(e.Space)
		w.u32(e.Channel)
	}
	return w
}

// Error is the generic free-text error response.
type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) messageType() uint16 { return OpError }
func (m Error) encode() *writer {
	w := &writer{}
	w.u16(uint16(m.Code))
	w.str(m.Message)
	return w
}
