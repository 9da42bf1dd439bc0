package channeldb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const channelColumns = `id, driver_id, nid, sid, tsid, manual_sheet, bon_space, bon_channel,
	name, band_type, region, is_enabled, priority, failure_count, scan_time, last_seen`

const channelColumnsAliased = `c.id, c.driver_id, c.nid, c.sid, c.tsid, c.manual_sheet, c.bon_space, c.bon_channel,
	c.name, c.band_type, c.region, c.is_enabled, c.priority, c.failure_count, c.scan_time, c.last_seen`

// GetChannel looks up a channel by id.
func (db *DB) GetChannel(id int64) (Channel, error) {
	row := db.sql.QueryRow(`SELECT `+channelColumns+` FROM channels WHERE id=?`, id)
	return scanChannel(row)
}

// CreateChannel inserts a new channel record.
func (db *DB) CreateChannel(ch Channel) (int64, error) {
	now := unixNow()
	res, err := db.sql.Exec(`
		INSERT INTO channels (driver_id, nid, sid, tsid, manual_sheet, bon_space, bon_channel,
			name, band_type, region, is_enabled, priority, failure_count, scan_time, last_seen)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ch.DriverID, ch.NID, ch.SID, ch.TSID, ch.ManualSheet, ch.BonSpace, ch.BonChannel,
		ch.Name, ch.BandType, ch.Region, boolToInt(ch.IsEnabled), ch.Priority, ch.FailureCount, now, now)
	if err != nil {
		return 0, fmt.Errorf("channeldb: create channel: %w", err)
	}
	return res.LastInsertId()
}

// UpdateChannel persists changed fields for an existing channel record.
func (db *DB) UpdateChannel(ch Channel) error {
	_, err := db.sql.Exec(`
		UPDATE channels SET bon_space=?, bon_channel=?, name=?, band_type=?, region=?,
			is_enabled=?, priority=?, failure_count=?, scan_time=?, last_seen=?
		WHERE id=?`,
		ch.BonSpace, ch.BonChannel, ch.Name, ch.BandType, ch.Region,
		boolToInt(ch.IsEnabled), ch.Priority, ch.FailureCount, ch.ScanTime.Unix(), ch.LastSeen.Unix(), ch.ID)
	return err
}

// DeleteChannel removes a channel record outright (distinct from disabling
// it, which scanning does via MergeScanResults).
func (db *DB) DeleteChannel(id int64) error {
	_, err := db.sql.Exec(`DELETE FROM channels WHERE id=?`, id)
	return err
}

// MergeScanResults is the atomic transactional diff a completed scan
// applies: observed channels are inserted or updated (matched by
// (driver_id, nid, sid, tsid, manual_sheet)), and any channel previously
// enabled for this driver but absent from observed is flipped to
// is_enabled=false (never deleted — history and re-enablement depend on it).
func (db *DB) MergeScanResults(driverID int64, observed []ChannelInfo) error {
	tx, err := db.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := unixNow()
	seen := make(map[channelKey]bool, len(observed))

	for _, info := range observed {
		key := channelKey{info.NID, info.SID, info.TSID, manualSheetKey(info.ManualSheet)}
		seen[key] = true

		var existingID int64
		err := tx.QueryRow(`
			SELECT id FROM channels WHERE driver_id=? AND nid=? AND sid=? AND tsid=? AND manual_sheet IS ?`,
			driverID, info.NID, info.SID, info.TSID, info.ManualSheet).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.Exec(`
				INSERT INTO channels (driver_id, nid, sid, tsid, manual_sheet, bon_space, bon_channel,
					name, band_type, region, is_enabled, priority, failure_count, scan_time, last_seen)
				VALUES (?,?,?,?,?,?,?,?,?,?,1,0,0,?,?)`,
				driverID, info.NID, info.SID, info.TSID, info.ManualSheet, info.BonSpace, info.BonChannel,
				info.Name, info.BandType, info.Region, now, now); err != nil {
				return fmt.Errorf("channeldb: insert channel: %w", err)
			}
		case err != nil:
			return err
		default:
			if _, err := tx.Exec(`
				UPDATE channels SET bon_space=?, bon_channel=?, name=?, band_type=?, region=?,
					is_enabled=1, scan_time=?, last_seen=? WHERE id=?`,
				info.BonSpace, info.BonChannel, info.Name, info.BandType, info.Region, now, now, existingID); err != nil {
				return fmt.Errorf("channeldb: update channel: %w", err)
			}
		}
	}

	rows, err := tx.Query(`SELECT id, nid, sid, tsid, manual_sheet FROM channels WHERE driver_id=? AND is_enabled=1`, driverID)
	if err != nil {
		return err
	}
	var toDisable []int64
	for rows.Next() {
		var id int64
		var nid, sid, tsid uint16
		var manualSheet sql.NullInt64
		if err := rows.Scan(&id, &nid, &sid, &tsid, &manualSheet); err != nil {
			rows.Close()
			return err
		}
		var msKey any
		if manualSheet.Valid {
			msKey = manualSheet.Int64
		}
		key := channelKey{nid, sid, tsid, msKey}
		if !seen[key] {
			toDisable = append(toDisable, id)
		}
	}
	rows.Close()

	for _, id := range toDisable {
		if _, err := tx.Exec(`UPDATE channels SET is_enabled=0 WHERE id=?`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type channelKey struct {
	nid, sid, tsid uint16
	manualSheet    any
}

func manualSheetKey(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// GetChannelsByNIDTSIDOrdered returns enabled channels matching (nid,tsid),
// ordered by channel.priority DESC then driver.scan_priority DESC.
func (db *DB) GetChannelsByNIDTSIDOrdered(nid, tsid uint16) ([]Channel, error) {
	rows, err := db.sql.Query(`
		SELECT `+channelColumnsAliased+` FROM channels c
		JOIN bon_drivers d ON d.id = c.driver_id
		WHERE c.nid=? AND c.tsid=? AND c.is_enabled=1
		ORDER BY c.priority DESC, d.scan_priority DESC`, nid, tsid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetAllChannelsWithDrivers returns every enabled channel for driverID.
func (db *DB) GetAllChannelsWithDrivers(driverID int64) ([]Channel, error) {
	rows, err := db.sql.Query(`SELECT `+channelColumns+` FROM channels WHERE driver_id=? AND is_enabled=1 ORDER BY priority DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetChannelName returns the display name of a channel, or "" if unknown.
func (db *DB) GetChannelName(id int64) (string, error) {
	var name string
	err := db.sql.QueryRow(`SELECT name FROM channels WHERE id=?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

// GetChannelPriority returns a channel's priority field.
func (db *DB) GetChannelPriority(id int64) (int32, error) {
	var p int32
	err := db.sql.QueryRow(`SELECT priority FROM channels WHERE id=?`, id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return p, err
}

func scanChannel(s rowScanner) (Channel, error) {
	var ch Channel
	var manualSheet sql.NullInt64
	var isEnabled int
	var scanTime, lastSeen int64
	err := s.Scan(&ch.ID, &ch.DriverID, &ch.NID, &ch.SID, &ch.TSID, &manualSheet,
		&ch.BonSpace, &ch.BonChannel, &ch.Name, &ch.BandType, &ch.Region,
		&isEnabled, &ch.Priority, &ch.FailureCount, &scanTime, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	if manualSheet.Valid {
		v := manualSheet.Int64
		ch.ManualSheet = &v
	}
	ch.IsEnabled = isEnabled != 0
	ch.ScanTime = time.Unix(scanTime, 0)
	ch.LastSeen = time.Unix(lastSeen, 0)
	return ch, nil
}
