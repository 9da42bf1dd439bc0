package channeldb

import (
	"database/sql"
	"errors"
	"time"
)

// AppendScanHistory records the outcome of one completed scan.
func (db *DB) AppendScanHistory(e ScanHistoryEntry) (int64, error) {
	res, err := db.sql.Exec(`
		INSERT INTO scan_history (driver_id, success, channels_found, error_message, duration_ms, created_at)
		VALUES (?,?,?,?,?,?)`,
		e.DriverID, boolToInt(e.Success), e.ChannelsFound, e.ErrorMessage, e.DurationMS, unixNow())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListScanHistory returns scan history for driverID, most recent first,
// capped at limit rows (0 means unbounded).
func (db *DB) ListScanHistory(driverID int64, limit int) ([]ScanHistoryEntry, error) {
	query := `SELECT id, driver_id, success, channels_found, error_message, duration_ms, created_at
		FROM scan_history WHERE driver_id=? ORDER BY id DESC`
	args := []any{driverID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScanHistoryEntry
	for rows.Next() {
		var e ScanHistoryEntry
		var success int
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DriverID, &success, &e.ChannelsFound, &e.ErrorMessage, &e.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		e.Success = success != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StartSession inserts the opening row of a session's history; the
// returned id is passed to EndSession once the client disconnects.
func (db *DB) StartSession(remoteAddr, driverPath string, nid, tsid, sid uint16) (int64, error) {
	res, err := db.sql.Exec(`
		INSERT INTO session_history (remote_addr, driver_path, nid, tsid, sid, started_at)
		VALUES (?,?,?,?,?,?)`,
		remoteAddr, driverPath, nid, tsid, sid, unixNow())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EndSession closes out a session_history row with final accounting,
// called both on graceful close and on the periodic 30s flush.
func (db *DB) EndSession(id int64, e SessionHistoryEntry) error {
	now := unixNow()
	_, err := db.sql.Exec(`
		UPDATE session_history SET ended_at=?, duration_secs=?, bytes_sent=?,
			packets_sent=?, packets_dropped=?, packets_scrambled=?, packets_error=?,
			avg_bitrate_bps=?, avg_signal=?, disconnect_reason=?
		WHERE id=?`,
		now, e.DurationSecs, e.BytesSent, e.PacketsSent, e.PacketsDropped,
		e.PacketsScrambled, e.PacketsError, e.AvgBitrateBPS, e.AvgSignal, e.DisconnectReason, id)
	return err
}

// ListSessionHistory returns the most recent session history rows, capped
// at limit (0 means unbounded).
func (db *DB) ListSessionHistory(limit int) ([]SessionHistoryEntry, error) {
	query := `SELECT id, remote_addr, driver_path, nid, tsid, sid, started_at, ended_at,
		duration_secs, bytes_sent, packets_sent, packets_dropped, packets_scrambled, packets_error,
		avg_bitrate_bps, avg_signal, disconnect_reason FROM session_history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionHistoryEntry
	for rows.Next() {
		var e SessionHistoryEntry
		var startedAt int64
		var endedAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RemoteAddr, &e.DriverPath, &e.NID, &e.TSID, &e.SID, &startedAt, &endedAt,
			&e.DurationSecs, &e.BytesSent, &e.PacketsSent, &e.PacketsDropped, &e.PacketsScrambled, &e.PacketsError,
			&e.AvgBitrateBPS, &e.AvgSignal, &e.DisconnectReason); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			t := time.Unix(endedAt.Int64, 0)
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccumulateQualityStats adds one session's tallies to the running
// per-driver quality row, creating it on first use.
func (db *DB) AccumulateQualityStats(driverID int64, handled, dropped, scrambled, errored int64) error {
	_, err := db.sql.Exec(`
		INSERT INTO driver_quality_stats (driver_id, total_sessions, packets_handled, packets_dropped, packets_scrambled, packets_error)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(driver_id) DO UPDATE SET
			total_sessions = total_sessions + 1,
			packets_handled = packets_handled + excluded.packets_handled,
			packets_dropped = packets_dropped + excluded.packets_dropped,
			packets_scrambled = packets_scrambled + excluded.packets_scrambled,
			packets_error = packets_error + excluded.packets_error`,
		driverID, handled, dropped, scrambled, errored)
	return err
}

// GetQualityStats returns the accumulated quality row for driverID, or a
// zero-value row if none has been recorded yet.
func (db *DB) GetQualityStats(driverID int64) (QualityStats, error) {
	var q QualityStats
	q.DriverID = driverID
	err := db.sql.QueryRow(`
		SELECT total_sessions, packets_handled, packets_dropped, packets_scrambled, packets_error
		FROM driver_quality_stats WHERE driver_id=?`, driverID).
		Scan(&q.TotalSessions, &q.PacketsHandled, &q.PacketsDropped, &q.PacketsScrambled, &q.PacketsError)
	if errors.Is(err, sql.ErrNoRows) {
		return q, nil
	}
	return q, err
}
