package channeldb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("channeldb: not found")

// CreateDriver inserts a new driver record. Path must be unique.
func (db *DB) CreateDriver(d Driver) (int64, error) {
	now := unixNow()
	res, err := db.sql.Exec(`
		INSERT INTO bon_drivers (path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Path, d.DisplayName, d.GroupName, d.MaxInstances,
		boolToInt(d.AutoScanEnabled), d.IntervalHours, d.NextScanAt.Unix(), d.ScanPriority, now, now)
	if err != nil {
		return 0, fmt.Errorf("channeldb: create driver: %w", err)
	}
	return res.LastInsertId()
}

// GetDriverByPath looks up a driver by its filesystem path.
func (db *DB) GetDriverByPath(path string) (Driver, error) {
	row := db.sql.QueryRow(`
		SELECT id, path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at
		FROM bon_drivers WHERE path = ?`, path)
	return scanDriver(row)
}

// GetDriver looks up a driver by id.
func (db *DB) GetDriver(id int64) (Driver, error) {
	row := db.sql.QueryRow(`
		SELECT id, path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at
		FROM bon_drivers WHERE id = ?`, id)
	return scanDriver(row)
}

// GetOrCreateDriver returns the existing driver for path, or creates one
// with the given defaults if it has never been seen.
func (db *DB) GetOrCreateDriver(path string, defaults Driver) (Driver, error) {
	d, err := db.GetDriverByPath(path)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Driver{}, err
	}
	defaults.Path = path
	id, err := db.CreateDriver(defaults)
	if err != nil {
		return Driver{}, err
	}
	return db.GetDriver(id)
}

// UpdateDriver persists changed fields for an existing driver record.
func (db *DB) UpdateDriver(d Driver) error {
	_, err := db.sql.Exec(`
		UPDATE bon_drivers SET display_name=?, group_name=?, max_instances=?,
			auto_scan_enabled=?, interval_hours=?, next_scan_at=?, scan_priority=?, updated_at=?
		WHERE id=?`,
		d.DisplayName, d.GroupName, d.MaxInstances,
		boolToInt(d.AutoScanEnabled), d.IntervalHours, d.NextScanAt.Unix(), d.ScanPriority, unixNow(), d.ID)
	return err
}

// DeleteDriver removes a driver and, via ON DELETE CASCADE, its channels
// and history.
func (db *DB) DeleteDriver(id int64) error {
	_, err := db.sql.Exec(`DELETE FROM bon_drivers WHERE id=?`, id)
	return err
}

// ListDrivers returns every driver record.
func (db *DB) ListDrivers() ([]Driver, error) {
	rows, err := db.sql.Query(`
		SELECT id, path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at
		FROM bon_drivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Driver
	for rows.Next() {
		d, err := scanDriverRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetGroupDrivers returns every driver sharing groupName, ordered by
// scan_priority DESC (used to pick a fungible member for a group tune).
func (db *DB) GetGroupDrivers(groupName string) ([]Driver, error) {
	rows, err := db.sql.Query(`
		SELECT id, path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at
		FROM bon_drivers WHERE group_name = ? ORDER BY scan_priority DESC, id`, groupName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Driver
	for rows.Next() {
		d, err := scanDriverRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetMaxInstancesForPath returns the max_instances cap for the driver at
// path, or an error if the driver is unknown.
func (db *DB) GetMaxInstancesForPath(path string) (int, error) {
	d, err := db.GetDriverByPath(path)
	if err != nil {
		return 0, err
	}
	return d.MaxInstances, nil
}

// ListDueDrivers returns every auto-scan-enabled driver whose next_scan_at
// has elapsed, ordered by scan_priority descending, for the scan
// scheduler's per-tick dispatch.
func (db *DB) ListDueDrivers(now time.Time) ([]Driver, error) {
	rows, err := db.sql.Query(`
		SELECT id, path, display_name, group_name, max_instances,
			auto_scan_enabled, interval_hours, next_scan_at, scan_priority, created_at, updated_at
		FROM bon_drivers
		WHERE auto_scan_enabled = 1 AND next_scan_at <= ?
		ORDER BY scan_priority DESC, id`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Driver
	for rows.Next() {
		d, err := scanDriverRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetNextScanAt advances a driver's next_scan_at without touching its other
// fields, so a concurrent admin edit of the same row is never clobbered by
// the scheduler's own bookkeeping write.
func (db *DB) SetNextScanAt(id int64, next time.Time) error {
	_, err := db.sql.Exec(`UPDATE bon_drivers SET next_scan_at=?, updated_at=? WHERE id=?`,
		next.Unix(), unixNow(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row *sql.Row) (Driver, error) {
	return scanDriverGeneric(row)
}

func scanDriverRows(rows *sql.Rows) (Driver, error) {
	return scanDriverGeneric(rows)
}

func scanDriverGeneric(s rowScanner) (Driver, error) {
	var d Driver
	var autoScan int
	var nextScanAt, createdAt, updatedAt int64
	err := s.Scan(&d.ID, &d.Path, &d.DisplayName, &d.GroupName, &d.MaxInstances,
		&autoScan, &d.IntervalHours, &nextScanAt, &d.ScanPriority, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Driver{}, ErrNotFound
	}
	if err != nil {
		return Driver{}, err
	}
	d.AutoScanEnabled = autoScan != 0
	d.NextScanAt = time.Unix(nextScanAt, 0)
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
