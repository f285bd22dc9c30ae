package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

var (
	// ErrNotFound is returned when the requested rule, alert, config or
	// notification record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlertExists is returned by CreateAlertRecord when the rule already
	// has an open (FIRING or SILENCED) alert.
	ErrAlertExists = errors.New("store: open alert already exists for rule")

	// ErrConflict is returned by UpdateAlertRecord when AlertUpdate.Expect is
	// set and the record's current status differs.
	ErrConflict = errors.New("store: alert status changed concurrently")
)

// AlertUpdate describes a status transition of an alert record.
type AlertUpdate struct {
	Status     types.AlertStatus
	ResolvedAt *time.Time

	// Expect, when non-empty, makes the update conditional on the record
	// currently being in this status.
	Expect types.AlertStatus
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Status types.AlertStatus
	RuleID string
	Limit  int
}

// NotificationFilter narrows ListNotifications. Zero values match everything.
type NotificationFilter struct {
	UserID string
	Status types.NotificationStatus
	Limit  int
}

// Store is the persistence contract used by the alert engine, the
// notification dispatcher and the HTTP API.
type Store interface {
	FindEnabledRules(ctx context.Context) ([]types.AlertRule, error)
	ListRules(ctx context.Context) ([]types.AlertRule, error)
	UpsertRule(ctx context.Context, rule types.AlertRule) error
	// DisableMissingRules disables every enabled rule whose ID is not in
	// keep and returns how many were disabled.
	DisableMissingRules(ctx context.Context, keep []string) (int, error)

	// FindOpenAlert returns the rule's FIRING or SILENCED record, or
	// ErrNotFound.
	FindOpenAlert(ctx context.Context, ruleID string) (*types.AlertRecord, error)
	// CreateAlertRecord inserts rec, assigning an ID when rec.ID is empty.
	// It fails with ErrAlertExists if rec is open and the rule already has
	// an open record.
	CreateAlertRecord(ctx context.Context, rec types.AlertRecord) (*types.AlertRecord, error)
	UpdateAlertRecord(ctx context.Context, id string, upd AlertUpdate) (*types.AlertRecord, error)
	GetAlert(ctx context.Context, id string) (*types.AlertRecord, error)
	// ListAlerts returns matching records, newest first.
	ListAlerts(ctx context.Context, f AlertFilter) ([]types.AlertRecord, error)

	FindNotificationConfig(ctx context.Context, userID string) (*types.NotificationConfig, error)
	UpsertNotificationConfig(ctx context.Context, cfg types.NotificationConfig) error
	CreateNotificationRecord(ctx context.Context, rec types.NotificationRecord) (*types.NotificationRecord, error)
	UpdateNotificationRecordStatus(ctx context.Context, id string, status types.NotificationStatus, errMsg string, sentAt *time.Time) error
	// ListNotifications returns matching records, newest first.
	ListNotifications(ctx context.Context, f NotificationFilter) ([]types.NotificationRecord, error)

	// Prune deletes resolved alerts and terminal notification records
	// created before cutoff. It returns the number of rows removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// RunRetention prunes st every interval, removing history older than
// retention. It blocks until ctx is cancelled. A non-positive retention
// disables pruning and returns immediately.
func RunRetention(ctx context.Context, st Store, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := st.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Error("store: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: pruned history", "count", n)
			}
		}
	}
}

func limitOrDefault(n int) int {
	if n <= 0 || n > maxListLimit {
		return maxListLimit
	}
	return n
}

const maxListLimit = 500
