package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/alertd/pkg/types"
)

var _ Store = (*Memory)(nil)

// Memory is a thread-safe in-memory Store. Everything is lost on restart.
type Memory struct {
	mu            sync.RWMutex
	rules         map[string]types.AlertRule
	alerts        map[string]*types.AlertRecord
	open          map[string]string // ruleID -> open alert ID
	configs       map[string]types.NotificationConfig
	notifications map[string]*types.NotificationRecord

	newID func() string // injectable for deterministic tests
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:         make(map[string]types.AlertRule),
		alerts:        make(map[string]*types.AlertRecord),
		open:          make(map[string]string),
		configs:       make(map[string]types.NotificationConfig),
		notifications: make(map[string]*types.NotificationRecord),
		newID:         uuid.NewString,
	}
}

func (m *Memory) FindEnabledRules(_ context.Context) ([]types.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, cloneRule(r))
		}
	}
	sortRules(out)
	return out, nil
}

func (m *Memory) ListRules(_ context.Context) ([]types.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	sortRules(out)
	return out, nil
}

func (m *Memory) UpsertRule(_ context.Context, rule types.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("store: upsert rule: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (m *Memory) DisableMissingRules(_ context.Context, keep []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rules {
		if r.Enabled && !slices.Contains(keep, id) {
			r.Enabled = false
			m.rules[id] = r
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindOpenAlert(_ context.Context, ruleID string) (*types.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[ruleID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.alerts[id]
	return &cp, nil
}

func (m *Memory) CreateAlertRecord(_ context.Context, rec types.AlertRecord) (*types.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status.Open() {
		if _, exists := m.open[rec.RuleID]; exists {
			return nil, ErrAlertExists
		}
	}
	if rec.ID == "" {
		rec.ID = m.newID()
	}
	stored := rec
	m.alerts[rec.ID] = &stored
	if rec.Status.Open() {
		m.open[rec.RuleID] = rec.ID
	}
	return &rec, nil
}

func (m *Memory) UpdateAlertRecord(_ context.Context, id string, upd AlertUpdate) (*types.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Expect != "" && a.Status != upd.Expect {
		return nil, ErrConflict
	}
	if upd.Status.Open() {
		if other, exists := m.open[a.RuleID]; exists && other != id {
			return nil, ErrAlertExists
		}
		m.open[a.RuleID] = id
	} else if m.open[a.RuleID] == id {
		delete(m.open, a.RuleID)
	}
	a.Status = upd.Status
	if upd.ResolvedAt != nil {
		t := *upd.ResolvedAt
		a.ResolvedAt = &t
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (*types.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAlerts(_ context.Context, f AlertFilter) ([]types.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AlertRecord, 0)
	for _, a := range m.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.RuleID != "" && a.RuleID != f.RuleID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if n := limitOrDefault(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) FindNotificationConfig(_ context.Context, userID string) (*types.NotificationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneConfig(c)
	return &cp, nil
}

func (m *Memory) UpsertNotificationConfig(_ context.Context, cfg types.NotificationConfig) error {
	if cfg.UserID == "" {
		return fmt.Errorf("store: upsert notification config: empty user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.UserID] = cloneConfig(cfg)
	return nil
}

func (m *Memory) CreateNotificationRecord(_ context.Context, rec types.NotificationRecord) (*types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = m.newID()
	}
	stored := rec
	stored.Data = maps.Clone(rec.Data)
	m.notifications[rec.ID] = &stored
	return &rec, nil
}

func (m *Memory) UpdateNotificationRecordStatus(_ context.Context, id string, status types.NotificationStatus, errMsg string, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = status
	n.Error = errMsg
	if sentAt != nil {
		t := *sentAt
		n.SentAt = &t
	}
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, f NotificationFilter) ([]types.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.NotificationRecord, 0)
	for _, n := range m.notifications {
		if f.UserID != "" && n.UserID != f.UserID {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		cp := *n
		cp.Data = maps.Clone(n.Data)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := limitOrDefault(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, a := range m.alerts {
		if a.Status == types.AlertResolved && a.TriggeredAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	for id, n := range m.notifications {
		if n.Status != types.NotificationPending && n.CreatedAt.Before(cutoff) {
			delete(m.notifications, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }

func cloneRule(r types.AlertRule) types.AlertRule {
	r.Channels = slices.Clone(r.Channels)
	return r
}

func cloneConfig(c types.NotificationConfig) types.NotificationConfig {
	c.Channels = maps.Clone(c.Channels)
	c.Rules = slices.Clone(c.Rules)
	return c
}

func sortRules(rules []types.AlertRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}
