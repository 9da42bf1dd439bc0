package tsanalyzer

import "encoding/binary"

// buildPATSection constructs a minimal PAT section with one program entry
// mapping program_number -> pmt_pid, and the given transport_stream_id.
func buildPATSection(tsid uint16, program uint16, pmtPID uint16) []byte {
	// table_id(1) section_syntax+len(2) tsid(2) ver/cni(1) sec#(1) last_sec#(1)
	// program_number(2) reserved|pmt_pid(2) ... crc32(4)
	sectionBody := make([]byte, 0)
	sectionBody = append(sectionBody, byte(tsid>>8), byte(tsid))
	sectionBody = append(sectionBody, 0xC1, 0x00, 0x00) // version/current_next, section#, last_section#
	progBuf := make([]byte, 4)
	binary.BigEndian.PutUint16(progBuf[0:2], program)
	binary.BigEndian.PutUint16(progBuf[2:4], pmtPID|0xE000)
	sectionBody = append(sectionBody, progBuf...)
	sectionBody = append(sectionBody, 0, 0, 0, 0) // fake crc32

	sectionLen := len(sectionBody)
	d := make([]byte, 0, 3+len(sectionBody))
	d = append(d, tablePAT)
	d = append(d, byte(0xB0|((sectionLen>>8)&0x0F)), byte(sectionLen))
	d = append(d, sectionBody...)
	return d
}
