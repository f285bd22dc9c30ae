package store

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

var migrations = []string{
	// v1
	`
	CREATE TABLE IF NOT EXISTS alert_rules (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		metric      TEXT NOT NULL,
		metric_name TEXT NOT NULL DEFAULT '',
		condition   TEXT NOT NULL,
		threshold   REAL NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		severity    TEXT NOT NULL,
		enabled     INTEGER NOT NULL DEFAULT 1,
		channels    TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS alert_records (
		id           TEXT PRIMARY KEY,
		rule_id      TEXT NOT NULL,
		status       TEXT NOT NULL,
		message      TEXT NOT NULL,
		value        REAL NOT NULL,
		triggered_at INTEGER NOT NULL,
		resolved_at  INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_records_open
		ON alert_records(rule_id) WHERE status IN ('FIRING', 'SILENCED');
	CREATE INDEX IF NOT EXISTS idx_alert_records_triggered
		ON alert_records(triggered_at);

	CREATE TABLE IF NOT EXISTS notification_configs (
		user_id  TEXT PRIMARY KEY,
		channels TEXT NOT NULL DEFAULT '{}',
		rules    TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS notification_records (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		type       TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '{}',
		channel    TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		sent_at    INTEGER,
		error      TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_notification_records_user
		ON notification_records(user_id, created_at);
	`,
}

// migrate brings db up to currentSchemaVersion. Each migration runs in its
// own transaction together with the version bump.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported (max %d)", version, currentSchemaVersion)
	}

	for v := version; v < currentSchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration v%d: begin: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, v+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d: bump version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d: commit: %w", v+1, err)
		}
	}
	return nil
}
