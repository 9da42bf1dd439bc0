package channeldb

import (
	"testing"
	"time"
)

func newDriver(t *testing.T, db *DB, path string) int64 {
	t.Helper()
	id, err := db.CreateDriver(Driver{Path: path, MaxInstances: 1, NextScanAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	return id
}

func TestMergeScanResultsInsertsNewChannels(t *testing.T) {
	db := openTestDB(t)
	driverID := newDriver(t, db, "/dev/d0")

	err := db.MergeScanResults(driverID, []ChannelInfo{
		{NID: 1, SID: 100, TSID: 10, Name: "NHK"},
		{NID: 1, SID: 101, TSID: 10, Name: "ETV"},
	})
	if err != nil {
		t.Fatalf("MergeScanResults: %v", err)
	}

	chans, err := db.GetAllChannelsWithDrivers(driverID)
	if err != nil {
		t.Fatalf("GetAllChannelsWithDrivers: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("len = %d, want 2", len(chans))
	}
	for _, c := range chans {
		if !c.IsEnabled {
			t.Errorf("channel %+v should be enabled after first merge", c)
		}
	}
}

func TestMergeScanResultsDisablesOmittedChannels(t *testing.T) {
	db := openTestDB(t)
	driverID := newDriver(t, db, "/dev/d1")

	if err := db.MergeScanResults(driverID, []ChannelInfo{
		{NID: 1, SID: 100, TSID: 10, Name: "NHK"},
		{NID: 1, SID: 101, TSID: 10, Name: "ETV"},
	}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	if err := db.MergeScanResults(driverID, []ChannelInfo{
		{NID: 1, SID: 100, TSID: 10, Name: "NHK"},
	}); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	enabled, err := db.GetAllChannelsWithDrivers(driverID)
	if err != nil {
		t.Fatalf("GetAllChannelsWithDrivers: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled count = %d, want 1", len(enabled))
	}
	if enabled[0].SID != 100 {
		t.Errorf("surviving channel sid = %d, want 100", enabled[0].SID)
	}
}

func TestMergeScanResultsReenablesReturningChannel(t *testing.T) {
	db := openTestDB(t)
	driverID := newDriver(t, db, "/dev/d2")

	full := []ChannelInfo{{NID: 1, SID: 100, TSID: 10, Name: "NHK"}, {NID: 1, SID: 101, TSID: 10, Name: "ETV"}}
	if err := db.MergeScanResults(driverID, full); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	if err := db.MergeScanResults(driverID, full[:1]); err != nil {
		t.Fatalf("merge 2: %v", err)
	}
	if err := db.MergeScanResults(driverID, full); err != nil {
		t.Fatalf("merge 3: %v", err)
	}

	enabled, err := db.GetAllChannelsWithDrivers(driverID)
	if err != nil {
		t.Fatalf("GetAllChannelsWithDrivers: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("enabled count = %d, want 2", len(enabled))
	}
}

func TestGetChannelsByNIDTSIDOrderedBreaksTiesByScanPriority(t *testing.T) {
	db := openTestDB(t)
	lowDriverID := newDriver(t, db, "/dev/low")
	highDriverID := newDriver(t, db, "/dev/high")

	highDriver, err := db.GetDriver(highDriverID)
	if err != nil {
		t.Fatalf("GetDriver: %v", err)
	}
	highDriver.ScanPriority = 10
	if err := db.UpdateDriver(highDriver); err != nil {
		t.Fatalf("UpdateDriver: %v", err)
	}

	if _, err := db.CreateChannel(Channel{DriverID: lowDriverID, NID: 5, SID: 1, TSID: 20, IsEnabled: true, Priority: 0}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := db.CreateChannel(Channel{DriverID: highDriverID, NID: 5, SID: 2, TSID: 20, IsEnabled: true, Priority: 0}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	got, err := db.GetChannelsByNIDTSIDOrdered(5, 20)
	if err != nil {
		t.Fatalf("GetChannelsByNIDTSIDOrdered: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DriverID != highDriverID {
		t.Errorf("expected driver with higher scan_priority first, got driver_id=%d", got[0].DriverID)
	}
}

func TestGetChannelNameAndPriority(t *testing.T) {
	db := openTestDB(t)
	driverID := newDriver(t, db, "/dev/d3")
	id, err := db.CreateChannel(Channel{DriverID: driverID, NID: 1, SID: 1, TSID: 1, Name: "Test", Priority: 7, IsEnabled: true})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	name, err := db.GetChannelName(id)
	if err != nil || name != "Test" {
		t.Errorf("GetChannelName = %q, %v", name, err)
	}
	pri, err := db.GetChannelPriority(id)
	if err != nil || pri != 7 {
		t.Errorf("GetChannelPriority = %d, %v", pri, err)
	}
}
