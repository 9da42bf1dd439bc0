package tsanalyzer

import "encoding/binary"

const (
	tablePAT = 0x00
	tableNIT = 0x40 // NIT actual_network
	tableSDT = 0x42 // SDT actual_transport_stream
	tablePMT = 0x02
)

// pidBuffer accumulates payload bytes for one PID across packets until a
// complete section is available.
type pidBuffer struct {
	buf        []byte
	ccSeen     bool
	lastCC     byte
	want       int // declared total section length once known, -1 until then
	gotSection bool
}

// sectionCollector reassembles PSI sections for PAT, NIT, SDT, and any PMT
// PIDs discovered from PAT.
type sectionCollector struct {
	fixed map[uint16]*pidBuffer // pidPAT, pidNIT, pidSDT
	pmt   map[uint16]*pidBuffer // dynamic PMT pid -> buffer

	result ScanResult
}

func newSectionCollector() *sectionCollector {
	return &sectionCollector{
		fixed: map[uint16]*pidBuffer{
			pidPAT: {want: -1},
			pidNIT: {want: -1},
			pidSDT: {want: -1},
		},
		pmt: make(map[uint16]*pidBuffer),
		result: ScanResult{
			Services:    make(map[uint16]ServiceInfo),
			PMTPrograms: make(map[uint16]bool),
			Programs:    make(map[uint16]uint16),
		},
	}
}

func (c *sectionCollector) feedPacket(pid uint16, pusi bool, adaptationFieldControl byte, pkt []byte) {
	var b *pidBuffer
	isPMT := false
	if fb, ok := c.fixed[pid]; ok {
		b = fb
	} else if pb, ok := c.pmt[pid]; ok {
		b = pb
		isPMT = true
	} else {
		return
	}
	if b.gotSection {
		return
	}

	hasPayload := adaptationFieldControl == 0x1 || adaptationFieldControl == 0x3
	if !hasPayload {
		return
	}
	cc := pkt[3] & 0x0F
	if b.ccSeen {
		expected := (b.lastCC + 1) & 0x0F
		if cc != expected {
			// Discontinuity: drop partial section, restart on next PUSI.
			b.buf = nil
			b.want = -1
		}
	}
	b.lastCC = cc
	b.ccSeen = true

	payload := tsPayload(pkt)
	if payload == nil {
		return
	}

	if pusi {
		if len(payload) < 1 {
			return
		}
		pointer := int(payload[0])
		rest := payload[1:]
		if pointer > len(rest) {
			return
		}
		// Bytes before the pointer belong to a section already in progress;
		// this collector only needs the first section per PID so it discards them.
		b.buf = append([]byte(nil), rest[pointer:]...)
	} else if b.buf != nil {
		b.buf = append(b.buf, payload...)
	} else {
		return
	}

	if b.want < 0 && len(b.buf) >= 3 {
		sectionLen := int(uint16(b.buf[1]&0x0F)<<8 | uint16(b.buf[2]))
		b.want = 3 + sectionLen
	}
	if b.want >= 0 && len(b.buf) >= b.want {
		section := b.buf[:b.want]
		b.gotSection = true
		if isPMT {
			c.parsePMT(pid, section)
		} else {
			c.parseFixed(pid, section)
		}
	}
}

func (c *sectionCollector) parseFixed(pid uint16, d []byte) {
	switch pid {
	case pidPAT:
		c.parsePAT(d)
	case pidNIT:
		c.parseNIT(d)
	case pidSDT:
		c.parseSDT(d)
	}
}

func (c *sectionCollector) parsePAT(d []byte) {
	if len(d) < 8 || d[0] != tablePAT {
		return
	}
	c.result.TransportStreamID = binary.BigEndian.Uint16(d[3:5])
	c.result.HasTSID = true
	c.result.HasPAT = true

	pos := 8
	end := len(d) - 4 // trim CRC-32
	for pos+4 <= end {
		program := binary.BigEndian.Uint16(d[pos : pos+2])
		pmtPID := binary.BigEndian.Uint16(d[pos+2:pos+4]) & 0x1FFF
		pos += 4
		if program == 0 {
			continue // network PID entry, not a program
		}
		c.result.Programs[program] = pmtPID
		if _, exists := c.pmt[pmtPID]; !exists {
			c.pmt[pmtPID] = &pidBuffer{want: -1}
		}
	}
}

func (c *sectionCollector) parseNIT(d []byte) {
	if len(d) < 10 || d[0] != tableNIT {
		return
	}
	c.result.NetworkID = binary.BigEndian.Uint16(d[3:5])
	c.result.HasNetworkID = true
	c.result.HasNIT = true
}

func (c *sectionCollector) parseSDT(d []byte) {
	const hdrLen = 11
	if len(d) < hdrLen+4 || d[0] != tableSDT {
		return
	}
	sectionLen := int(uint16(d[1]&0x0F)<<8|uint16(d[2])) + 3
	if sectionLen > len(d) {
		sectionLen = len(d)
	}
	if c.result.TransportStreamID == 0 {
		c.result.TransportStreamID = binary.BigEndian.Uint16(d[3:5])
		c.result.HasTSID = true
	}
	if !c.result.HasNetworkID {
		c.result.NetworkID = binary.BigEndian.Uint16(d[8:10])
		c.result.HasNetworkID = true
	}
	c.result.HasSDT = true

	pos := hdrLen
	end := sectionLen - 4
	for pos+5 <= end {
		svcID := binary.BigEndian.Uint16(d[pos : pos+2])
		descLoopLen := int(uint16(d[pos+3]&0x0F)<<8 | uint16(d[pos+4]))
		pos += 5
		descEnd := pos + descLoopLen
		if descEnd > end {
			descEnd = end
		}
		for pos+2 <= descEnd {
			tag := d[pos]
			dLen := int(d[pos+1])
			pos += 2
			if pos+dLen > descEnd {
				break
			}
			if tag == 0x48 && dLen >= 3 { // service_descriptor
				svcType := d[pos]
				nameLen := int(d[pos+2])
				if 3+nameLen <= dLen {
					name := string(d[pos+3 : pos+3+nameLen])
					c.result.Services[svcID] = ServiceInfo{Name: name, ServiceType: svcType}
				}
			}
			pos += dLen
		}
		pos = descEnd
	}
}

func (c *sectionCollector) parsePMT(pid uint16, d []byte) {
	if len(d) < 4 || d[0] != tablePMT {
		return
	}
	program := binary.BigEndian.Uint16(d[3:5])
	c.result.PMTPrograms[program] = true
}

func (c *sectionCollector) resultCopy() ScanResult {
	return c.result
}
