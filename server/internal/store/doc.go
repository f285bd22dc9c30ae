// Package store persists alert rules, alert records, notification configs
// and notification records.
//
// Two implementations satisfy the Store interface:
//   - Memory: mutex-guarded maps, used in tests and for storage.driver=memory
//   - SQLite: modernc.org/sqlite with versioned migrations
//
// Both enforce the one-open-alert-per-rule invariant inside
// CreateAlertRecord, so a concurrent duplicate trigger fails with
// ErrAlertExists instead of producing a second FIRING record. The SQLite
// store does this with a partial unique index on alert_records(rule_id).
package store
