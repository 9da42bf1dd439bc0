package channeldb

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetDriver(t *testing.T) {
	db := openTestDB(t)
	id, err := db.CreateDriver(Driver{
		Path: "/dev/driver0", DisplayName: "Tuner 0", MaxInstances: 1,
		AutoScanEnabled: true, IntervalHours: 24, NextScanAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	d, err := db.GetDriver(id)
	if err != nil {
		t.Fatalf("GetDriver: %v", err)
	}
	if d.Path != "/dev/driver0" || d.DisplayName != "Tuner 0" {
		t.Errorf("GetDriver = %+v", d)
	}
}

func TestGetDriverByPathNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetDriverByPath("/dev/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateDriverCreatesOnce(t *testing.T) {
	db := openTestDB(t)
	defaults := Driver{DisplayName: "New", MaxInstances: 2, IntervalHours: 24, NextScanAt: time.Now()}
	first, err := db.GetOrCreateDriver("/dev/driver1", defaults)
	if err != nil {
		t.Fatalf("GetOrCreateDriver: %v", err)
	}
	second, err := db.GetOrCreateDriver("/dev/driver1", defaults)
	if err != nil {
		t.Fatalf("GetOrCreateDriver again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %d vs %d", first.ID, second.ID)
	}
}

func TestGetGroupDriversOrderedByScanPriority(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	_, _ = db.CreateDriver(Driver{Path: "/dev/a", GroupName: "g", ScanPriority: 1, NextScanAt: now})
	_, _ = db.CreateDriver(Driver{Path: "/dev/b", GroupName: "g", ScanPriority: 5, NextScanAt: now})
	_, _ = db.CreateDriver(Driver{Path: "/dev/c", GroupName: "other", ScanPriority: 9, NextScanAt: now})

	got, err := db.GetGroupDrivers("g")
	if err != nil {
		t.Fatalf("GetGroupDrivers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Path != "/dev/b" {
		t.Errorf("highest scan_priority first: got %q", got[0].Path)
	}
}

func TestGetMaxInstancesForPath(t *testing.T) {
	db := openTestDB(t)
	_, _ = db.CreateDriver(Driver{Path: "/dev/x", MaxInstances: 4, NextScanAt: time.Now()})
	n, err := db.GetMaxInstancesForPath("/dev/x")
	if err != nil {
		t.Fatalf("GetMaxInstancesForPath: %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
}

func TestDeleteDriverCascadesChannels(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.CreateDriver(Driver{Path: "/dev/y", NextScanAt: time.Now()})
	if _, err := db.CreateChannel(Channel{DriverID: id, NID: 1, SID: 2, TSID: 3, IsEnabled: true}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if err := db.DeleteDriver(id); err != nil {
		t.Fatalf("DeleteDriver: %v", err)
	}
	chans, err := db.GetAllChannelsWithDrivers(id)
	if err != nil {
		t.Fatalf("GetAllChannelsWithDrivers: %v", err)
	}
	if len(chans) != 0 {
		t.Errorf("channels survived cascade delete: %+v", chans)
	}
}
