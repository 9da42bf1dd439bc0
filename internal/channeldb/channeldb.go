// Package channeldb is the durable store of driver records, channel
// records, scan/session history, and quality stats, backed by sqlite.
//
// Schema changes are additive only: startup migration probes scan_history
// with PRAGMA table_info and issues ALTER TABLE ... ADD COLUMN for any
// column a newer build introduced, never a destructive rewrite.
package channeldb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection and exposes the logical operations the
// session and scan scheduler use.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// the startup migration.
func Open(path string) (*DB, error) {
	// Foreign keys are off by default in SQLite; the ON DELETE CASCADE
	// clauses of the schema need them on.
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("channeldb: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers
	db := &DB{sql: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("channeldb: migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.sql.Close() }

const schemaV1 = `
CREATE TABLE IF NOT EXISTS bon_drivers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	group_name TEXT NOT NULL DEFAULT '',
	max_instances INTEGER NOT NULL DEFAULT 1,
	auto_scan_enabled INTEGER NOT NULL DEFAULT 1,
	interval_hours INTEGER NOT NULL DEFAULT 24,
	next_scan_at INTEGER NOT NULL DEFAULT 0,
	scan_priority INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	driver_id INTEGER NOT NULL REFERENCES bon_drivers(id) ON DELETE CASCADE,
	nid INTEGER NOT NULL,
	sid INTEGER NOT NULL,
	tsid INTEGER NOT NULL,
	manual_sheet INTEGER,
	bon_space INTEGER NOT NULL,
	bon_channel INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	band_type INTEGER NOT NULL DEFAULT 0,
	region TEXT NOT NULL DEFAULT '',
	is_enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	scan_time INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL DEFAULT 0,
	UNIQUE(driver_id, nid, sid, tsid, manual_sheet)
);
CREATE INDEX IF NOT EXISTS idx_channels_driver ON channels(driver_id);
CREATE INDEX IF NOT EXISTS idx_channels_nid_tsid ON channels(nid, tsid);

CREATE TABLE IF NOT EXISTS scan_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	driver_id INTEGER NOT NULL REFERENCES bon_drivers(id) ON DELETE CASCADE,
	success INTEGER NOT NULL,
	channels_found INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_addr TEXT NOT NULL DEFAULT '',
	driver_path TEXT NOT NULL DEFAULT '',
	nid INTEGER NOT NULL DEFAULT 0,
	tsid INTEGER NOT NULL DEFAULT 0,
	sid INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	duration_secs INTEGER NOT NULL DEFAULT 0,
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	packets_sent INTEGER NOT NULL DEFAULT 0,
	packets_dropped INTEGER NOT NULL DEFAULT 0,
	packets_scrambled INTEGER NOT NULL DEFAULT 0,
	packets_error INTEGER NOT NULL DEFAULT 0,
	avg_bitrate_bps REAL NOT NULL DEFAULT 0,
	avg_signal REAL NOT NULL DEFAULT 0,
	disconnect_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS driver_quality_stats (
	driver_id INTEGER PRIMARY KEY REFERENCES bon_drivers(id) ON DELETE CASCADE,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	packets_handled INTEGER NOT NULL DEFAULT 0,
	packets_dropped INTEGER NOT NULL DEFAULT 0,
	packets_scrambled INTEGER NOT NULL DEFAULT 0,
	packets_error INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	condition TEXT NOT NULL,
	threshold REAL NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS alert_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
	message TEXT NOT NULL DEFAULT '',
	fired_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// migrate creates the schema if absent, then brings any existing tables up
// to date by probing PRAGMA table_info for columns a newer schema version
// added and issuing ALTER TABLE ... ADD COLUMN for each gap.
func (db *DB) migrate() error {
	if _, err := db.sql.Exec(schemaV1); err != nil {
		return err
	}
	return db.addMissingColumns("scan_history", map[string]string{
		"duration_ms": "INTEGER NOT NULL DEFAULT 0",
	})
}

// addMissingColumns adds any column in want not already present on table,
// per the additive-migration discipline: never rewrite existing columns,
// only add new ones.
func (db *DB) addMissingColumns(table string, want map[string]string) error {
	rows, err := db.sql.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	for col, ddl := range want {
		if have[col] {
			continue
		}
		if _, err := db.sql.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, col, ddl)); err != nil {
			return err
		}
	}
	return nil
}

func unixNow() int64 { return time.Now().Unix() }
