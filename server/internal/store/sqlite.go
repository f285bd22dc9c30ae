package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/obsidianstack/alertd/pkg/types"
)

var _ Store = (*SQLite)(nil)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db    *sql.DB
	newID func() string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// Single connection: all writes are serialised.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	return &SQLite{db: db, newID: uuid.NewString}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// --- rules ------------------------------------------------------------------

const ruleColumns = `id, name, metric, metric_name, condition, threshold, duration_ms, severity, enabled, channels`

func (s *SQLite) FindEnabledRules(ctx context.Context) ([]types.AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLite) ListRules(ctx context.Context) ([]types.AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id`)
}

func (s *SQLite) queryRules(ctx context.Context, query string) ([]types.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: query rules: %w", err)
	}
	defer rows.Close()

	var out []types.AlertRule
	for rows.Next() {
		var (
			r          types.AlertRule
			durationMs int64
			enabled    int
			channels   string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Metric, &r.MetricName, &r.Condition,
			&r.Threshold, &durationMs, &r.Severity, &enabled, &channels); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
			return nil, fmt.Errorf("store: rule %q channels: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertRule(ctx context.Context, r types.AlertRule) error {
	if r.ID == "" {
		return fmt.Errorf("store: upsert rule: empty id")
	}
	channels, err := json.Marshal(nonNil(r.Channels))
	if err != nil {
		return fmt.Errorf("store: upsert rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			metric = excluded.metric,
			metric_name = excluded.metric_name,
			condition = excluded.condition,
			threshold = excluded.threshold,
			duration_ms = excluded.duration_ms,
			severity = excluded.severity,
			enabled = excluded.enabled,
			channels = excluded.channels`,
		r.ID, r.Name, string(r.Metric), r.MetricName, string(r.Condition), r.Threshold,
		r.Duration.Milliseconds(), string(r.Severity), boolInt(r.Enabled), string(channels))
	if err != nil {
		return fmt.Errorf("store: upsert rule %q: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) DisableMissingRules(ctx context.Context, keep []string) (int, error) {
	query := `UPDATE alert_rules SET enabled = 0 WHERE enabled = 1`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: disable rules: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- alert records ----------------------------------------------------------

const alertColumns = `id, rule_id, status, message, value, triggered_at, resolved_at`

func (s *SQLite) FindOpenAlert(ctx context.Context, ruleID string) (*types.AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alert_records
		WHERE rule_id = ? AND status IN ('FIRING', 'SILENCED')`, ruleID)
	return scanAlert(row)
}

func (s *SQLite) CreateAlertRecord(ctx context.Context, rec types.AlertRecord) (*types.AlertRecord, error) {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO alert_records (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RuleID, string(rec.Status), rec.Message, rec.Value,
		rec.TriggeredAt.UnixNano(), nullTime(rec.ResolvedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlertExists
		}
		return nil, fmt.Errorf("store: create alert for rule %q: %w", rec.RuleID, err)
	}
	return &rec, nil
}

func (s *SQLite) UpdateAlertRecord(ctx context.Context, id string, upd AlertUpdate) (*types.AlertRecord, error) {
	query := `UPDATE alert_records SET status = ?, resolved_at = COALESCE(?, resolved_at) WHERE id = ?`
	args := []any{string(upd.Status), nullTime(upd.ResolvedAt), id}
	if upd.Expect != "" {
		query += ` AND status = ?`
		args = append(args, string(upd.Expect))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlertExists
		}
		return nil, fmt.Errorf("store: update alert %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAlert(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetAlert(ctx, id)
}

func (s *SQLite) GetAlert(ctx context.Context, id string) (*types.AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alert_records WHERE id = ?`, id)
	return scanAlert(row)
}

func (s *SQLite) ListAlerts(ctx context.Context, f AlertFilter) ([]types.AlertRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	query := `SELECT ` + alertColumns + ` FROM alert_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY triggered_at DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]types.AlertRecord, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*types.AlertRecord, error) {
	var (
		a           types.AlertRecord
		triggeredAt int64
		resolvedAt  sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.RuleID, &a.Status, &a.Message, &a.Value, &triggeredAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan alert: %w", err)
	}
	a.TriggeredAt = time.Unix(0, triggeredAt).UTC()
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}

// --- notification configs --------------------------------------------------

func (s *SQLite) FindNotificationConfig(ctx context.Context, userID string) (*types.NotificationConfig, error) {
	var channels, rules string
	err := s.db.QueryRowContext(ctx,
		`SELECT channels, rules FROM notification_configs WHERE user_id = ?`, userID).
		Scan(&channels, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find notification config %q: %w", userID, err)
	}

	cfg := &types.NotificationConfig{UserID: userID}
	if err := json.Unmarshal([]byte(channels), &cfg.Channels); err != nil {
		return nil, fmt.Errorf("store: config %q channels: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(rules), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("store: config %q rules: %w", userID, err)
	}
	return cfg, nil
}

func (s *SQLite) UpsertNotificationConfig(ctx context.Context, cfg types.NotificationConfig) error {
	if cfg.UserID == "" {
		return fmt.Errorf("store: upsert notification config: empty user id")
	}
	channels, err := json.Marshal(cfg.Channels)
	if err != nil {
		return fmt.Errorf("store: upsert notification config: %w", err)
	}
	rules, err := json.Marshal(nonNil(cfg.Rules))
	if err != nil {
		return fmt.Errorf("store: upsert notification config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_configs (user_id, channels, rules) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET channels = excluded.channels, rules = excluded.rules`,
		cfg.UserID, string(channels), string(rules))
	if err != nil {
		return fmt.Errorf("store: upsert notification config %q: %w", cfg.UserID, err)
	}
	return nil
}

// --- notification records --------------------------------------------------

const notificationColumns = `id, user_id, type, title, message, data, channel, status, created_at, sent_at, error`

func (s *SQLite) CreateNotificationRecord(ctx context.Context, rec types.NotificationRecord) (*types.NotificationRecord, error) {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("store: encode notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO notification_records (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Type, rec.Title, rec.Message, string(data), string(rec.Channel),
		string(rec.Status), rec.CreatedAt.UnixNano(), nullTime(rec.SentAt), rec.Error)
	if err != nil {
		return nil, fmt.Errorf("store: create notification record: %w", err)
	}
	return &rec, nil
}

func (s *SQLite) UpdateNotificationRecordStatus(ctx context.Context, id string, status types.NotificationStatus, errMsg string, sentAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_records SET status = ?, error = ?, sent_at = COALESCE(?, sent_at) WHERE id = ?`,
		string(status), errMsg, nullTime(sentAt), id)
	if err != nil {
		return fmt.Errorf("store: update notification %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListNotifications(ctx context.Context, f NotificationFilter) ([]types.NotificationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + notificationColumns + ` FROM notification_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]types.NotificationRecord, 0)
	for rows.Next() {
		var (
			n         types.NotificationRecord
			data      string
			createdAt int64
			sentAt    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data,
			&n.Channel, &n.Status, &createdAt, &sentAt, &n.Error); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("store: notification %q data: %w", n.ID, err)
		}
		n.CreatedAt = time.Unix(0, createdAt).UTC()
		n.SentAt = timePtr(sentAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- retention --------------------------------------------------------------

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: prune: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	c := cutoff.UnixNano()
	a, err := tx.ExecContext(ctx,
		`DELETE FROM alert_records WHERE status = 'RESOLVED' AND triggered_at < ?`, c)
	if err != nil {
		return 0, fmt.Errorf("store: prune alerts: %w", err)
	}
	n, err := tx.ExecContext(ctx,
		`DELETE FROM notification_records WHERE status != 'PENDING' AND created_at < ?`, c)
	if err != nil {
		return 0, fmt.Errorf("store: prune notifications: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: prune: commit: %w", err)
	}
	na, _ := a.RowsAffected()
	nn, _ := n.RowsAffected()
	return int(na + nn), nil
}

// --- helpers ----------------------------------------------------------------

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
