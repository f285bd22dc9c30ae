package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/store"
)

// Notification types emitted by the engine.
const (
	TypeAlert         = "ALERT"
	TypeAlertResolved = "ALERT_RESOLVED"
)

// Store is the subset of store.Store the engine needs.
type Store interface {
	FindEnabledRules(ctx context.Context) ([]types.AlertRule, error)
	FindOpenAlert(ctx context.Context, ruleID string) (*types.AlertRecord, error)
	CreateAlertRecord(ctx context.Context, rec types.AlertRecord) (*types.AlertRecord, error)
	UpdateAlertRecord(ctx context.Context, id string, upd store.AlertUpdate) (*types.AlertRecord, error)
}

// Dispatcher sends rule notifications. Rules belong to no user, so the
// engine always uses the system path.
type Dispatcher interface {
	SendSystem(ctx context.Context, in notify.Intent) ([]types.NotificationRecord, error)
}

// Engine applies alert state transitions. It holds no state of its own and
// is safe for concurrent use; the store enforces one open alert per rule.
type Engine struct {
	store      Store
	dispatcher Dispatcher
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(st Store, d Dispatcher, opts ...Option) *Engine {
	e := &Engine{store: st, dispatcher: d, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LoadRules returns every enabled rule. Store errors are returned as is.
func (e *Engine) LoadRules(ctx context.Context) ([]types.AlertRule, error) {
	return e.store.FindEnabledRules(ctx)
}

// TriggerAlert opens a FIRING alert for rule unless one is already open.
// It returns the new record, or nil when the call was deduplicated.
// Notification failures are logged and never undo the record.
func (e *Engine) TriggerAlert(ctx context.Context, rule types.AlertRule, value float64) (*types.AlertRecord, error) {
	if _, err := e.store.FindOpenAlert(ctx, rule.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("alerts: find open alert for %q: %w", rule.ID, err)
	}

	rec, err := e.store.CreateAlertRecord(ctx, types.AlertRecord{
		RuleID:      rule.ID,
		Status:      types.AlertFiring,
		Message:     renderMessage(rule, value),
		Value:       value,
		TriggeredAt: e.now(),
	})
	if errors.Is(err, store.ErrAlertExists) {
		// Lost the race against a concurrent trigger of the same rule.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alerts: create alert for %q: %w", rule.ID, err)
	}

	slog.Warn("alert fired",
		"rule", rule.ID,
		"alert", rec.ID,
		"value", value,
		"severity", rule.Severity,
	)

	e.notify(ctx, rule, notify.Intent{
		Type:     TypeAlert,
		Title:    fmt.Sprintf("%s is firing", rule.Name),
		Message:  rec.Message,
		Data:     alertData(rule, rec, value),
		Channels: rule.Channels,
	})
	return rec, nil
}

// ResolveAlert resolves the rule's open alert. Without an open alert it
// does nothing. A SILENCED alert is resolved quietly, without a
// notification.
func (e *Engine) ResolveAlert(ctx context.Context, rule types.AlertRule, value float64) (*types.AlertRecord, error) {
	open, err := e.store.FindOpenAlert(ctx, rule.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alerts: find open alert for %q: %w", rule.ID, err)
	}

	now := e.now()
	rec, err := e.store.UpdateAlertRecord(ctx, open.ID, store.AlertUpdate{
		Status:     types.AlertResolved,
		ResolvedAt: &now,
		Expect:     open.Status,
	})
	if errors.Is(err, store.ErrConflict) {
		slog.Info("alerts: alert changed while resolving, skipping", "rule", rule.ID, "alert", open.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alerts: resolve alert %q: %w", open.ID, err)
	}

	slog.Info("alert resolved", "rule", rule.ID, "alert", rec.ID, "value", value)

	if open.Status != types.AlertFiring {
		return rec, nil
	}
	e.notify(ctx, rule, notify.Intent{
		Type:     TypeAlertResolved,
		Title:    fmt.Sprintf("%s resolved", rule.Name),
		Message:  fmt.Sprintf("%s is back to normal: %s = %.2f", rule.Name, metricLabel(rule), value),
		Data:     alertData(rule, rec, value),
		Channels: rule.Channels,
	})
	return rec, nil
}

// notify dispatches in and logs any failure.
func (e *Engine) notify(ctx context.Context, rule types.AlertRule, in notify.Intent) {
	if len(rule.Channels) == 0 {
		slog.Debug("alerts: rule has no channels, not notifying", "rule", rule.ID, "type", in.Type)
		return
	}
	recs, err := e.dispatcher.SendSystem(ctx, in)
	if err != nil {
		slog.Error("alerts: notification failed",
			"rule", rule.ID,
			"type", in.Type,
			"records", len(recs),
			"err", err,
		)
	}
}

func renderMessage(rule types.AlertRule, value float64) string {
	return fmt.Sprintf("[%s] %s: %s = %.2f (threshold %s %.2f)",
		rule.Severity, rule.Name, metricLabel(rule), value, rule.Condition.Symbol(), rule.Threshold)
}

func metricLabel(rule types.AlertRule) string {
	if rule.MetricName == "" {
		return string(rule.Metric)
	}
	return string(rule.Metric) + "/" + rule.MetricName
}

func alertData(rule types.AlertRule, rec *types.AlertRecord, value float64) map[string]any {
	return map[string]any{
		"alertId":   rec.ID,
		"ruleId":    rule.ID,
		"ruleName":  rule.Name,
		"metric":    string(rule.Metric),
		"condition": string(rule.Condition),
		"threshold": rule.Threshold,
		"value":     value,
		"severity":  string(rule.Severity),
	}
}
