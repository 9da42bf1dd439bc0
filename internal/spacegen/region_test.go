package spacegen

import "testing"

func TestRegionIDFromNID(t *testing.T) {
	cases := []struct {
		nid     uint16
		want    uint8
		wantOK  bool
	}{
		{0x7EE0, 17, true}, // 宮城
		{0x7FE0, 1, true},  // 関東広域
		{0x0004, 0, false}, // BS, not terrestrial
		{0x7FF0, 0, false}, // region_id computes to 0, outside 1-62
	}
	for _, c := range cases {
		got, ok := RegionIDFromNID(c.nid)
		if ok != c.wantOK {
			t.Errorf("RegionIDFromNID(0x%04x) ok = %v, want %v", c.nid, ok, c.wantOK)
			continue
		}
		if ok && got != c.want {
			t.Errorf("RegionIDFromNID(0x%04x) = %d, want %d", c.nid, got, c.want)
		}
	}
}

func TestClassifyNIDBands(t *testing.T) {
	if band, _, _ := ClassifyNID(0x0004); band != BandBS {
		t.Errorf("0x0004 = %v, want BS", band)
	}
	if band, _, _ := ClassifyNID(0x0006); band != BandCS {
		t.Errorf("0x0006 = %v, want CS", band)
	}
	if band, _, _ := ClassifyNID(0x000B); band != BandFourK {
		t.Errorf("0x000B = %v, want FourK", band)
	}
	if band, _, _ := ClassifyNID(0x000A); band != BandSKY {
		t.Errorf("0x000A = %v, want SKY", band)
	}
	if band, region, _ := ClassifyNID(0x7FE8); band != BandTerrestrial || region != 1 {
		t.Errorf("0x7FE8 = %v, region %d, want Terrestrial, 1", band, region)
	}
}

func TestPrefectureNameUnknownRegion(t *testing.T) {
	if name := PrefectureName(200); name != "" {
		t.Errorf("PrefectureName(200) = %q, want empty", name)
	}
}
