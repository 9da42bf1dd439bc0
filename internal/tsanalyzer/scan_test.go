package tsanalyzer

import "testing"

func wrapInPacket(pid uint16, cc byte, section []byte) []byte {
	payload := append([]byte{0x00}, section...) // pointer_field = 0
	return makePacket(pid, cc, true, payload)
}

func TestScannerParsesPAT(t *testing.T) {
	a := NewScanner()
	section := buildPATSection(0x1234, 1, 0x0100)
	a.Feed(wrapInPacket(pidPAT, 0, section))

	r := a.Result()
	if !r.HasPAT {
		t.Fatal("HasPAT = false")
	}
	if !r.HasTSID || r.TransportStreamID != 0x1234 {
		t.Fatalf("TransportStreamID = 0x%04x, has=%v, want 0x1234", r.TransportStreamID, r.HasTSID)
	}
	if pid, ok := r.Programs[1]; !ok || pid != 0x0100 {
		t.Fatalf("Programs[1] = 0x%04x, ok=%v, want 0x0100", pid, ok)
	}
}

func TestCompletePredicateRequiresPAT(t *testing.T) {
	a := NewScanner()
	if a.Complete(false, false, false) {
		t.Fatal("Complete() = true before any PAT fed")
	}
	a.Feed(wrapInPacket(pidPAT, 0, buildPATSection(1, 1, 0x0100)))
	if !a.Complete(false, false, false) {
		t.Fatal("Complete(false,false,false) = false after PAT only")
	}
	if a.Complete(true, false, false) {
		t.Fatal("Complete(true,...) = true without NIT")
	}
}

func TestQualityTrackingUnaffectedByScanMode(t *testing.T) {
	a := NewScanner()
	d := a.Feed(makePacket(0x100, 0, false, nil))
	if d.PacketsTotal != 1 {
		t.Fatalf("PacketsTotal = %d, want 1", d.PacketsTotal)
	}
}
