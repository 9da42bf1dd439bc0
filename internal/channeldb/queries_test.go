package channeldb

import "testing"

func TestGetTuningSpacesDistinctAndOrdered(t *testing.T) {
	db := openTestDB(t)
	driverID := newDriver(t, db, "/dev/d0")

	if err := db.MergeScanResults(driverID, []ChannelInfo{
		{NID: 1, SID: 1, TSID: 1, BonSpace: 3},
		{NID: 1, SID: 2, TSID: 1, BonSpace: 1},
		{NID: 1, SID: 3, TSID: 1, BonSpace: 3},
	}); err != nil {
		t.Fatalf("MergeScanResults: %v", err)
	}

	spaces, err := db.GetTuningSpaces(driverID)
	if err != nil {
		t.Fatalf("GetTuningSpaces: %v", err)
	}
	if len(spaces) != 2 || spaces[0] != 1 || spaces[1] != 3 {
		t.Errorf("spaces = %v, want [1 3]", spaces)
	}
}
