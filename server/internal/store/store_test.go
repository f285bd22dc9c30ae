package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// implementations runs fn against every Store implementation.
func implementations(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := OpenSQLite(filepath.Join(t.TempDir(), "alertd.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func rule(id string, enabled bool) types.AlertRule {
	return types.AlertRule{
		ID:        id,
		Name:      "rule " + id,
		Metric:    types.MetricResponseTime,
		Condition: types.GreaterThan,
		Threshold: 1000,
		Duration:  30 * time.Second,
		Severity:  types.SeverityWarning,
		Enabled:   enabled,
		Channels:  []types.Channel{types.ChannelEmail, types.ChannelSystem},
	}
}

func firing(ruleID string, at time.Time) types.AlertRecord {
	return types.AlertRecord{
		RuleID:      ruleID,
		Status:      types.AlertFiring,
		Message:     "too slow",
		Value:       1500,
		TriggeredAt: at,
	}
}

func TestFindEnabledRules(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, r := range []types.AlertRule{rule("a", true), rule("b", false), rule("c", true)} {
			if err := st.UpsertRule(ctx, r); err != nil {
				t.Fatalf("UpsertRule: %v", err)
			}
		}

		got, err := st.FindEnabledRules(ctx)
		if err != nil {
			t.Fatalf("FindEnabledRules: %v", err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
			t.Fatalf("enabled rules: got %+v, want a and c", got)
		}
		if got[0].Duration != 30*time.Second {
			t.Errorf("duration: got %v, want 30s", got[0].Duration)
		}
		if len(got[0].Channels) != 2 || got[0].Channels[1] != types.ChannelSystem {
			t.Errorf("channels: got %v", got[0].Channels)
		}
	})
}

func TestDisableMissingRules(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			st.UpsertRule(ctx, rule(id, true)) //nolint:errcheck
		}

		n, err := st.DisableMissingRules(ctx, []string{"b"})
		if err != nil {
			t.Fatalf("DisableMissingRules: %v", err)
		}
		if n != 2 {
			t.Errorf("disabled: got %d, want 2", n)
		}
		got, _ := st.FindEnabledRules(ctx)
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("enabled after disable: got %+v, want only b", got)
		}
	})
}

func TestCreateAlertRecord_OneOpenPerRule(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		first, err := st.CreateAlertRecord(ctx, firing("r1", now))
		if err != nil {
			t.Fatalf("CreateAlertRecord: %v", err)
		}
		if first.ID == "" {
			t.Fatal("CreateAlertRecord: expected generated id")
		}

		_, err = st.CreateAlertRecord(ctx, firing("r1", now.Add(time.Second)))
		if !errors.Is(err, ErrAlertExists) {
			t.Fatalf("second FIRING: got %v, want ErrAlertExists", err)
		}

		// A different rule is unaffected.
		if _, err := st.CreateAlertRecord(ctx, firing("r2", now)); err != nil {
			t.Fatalf("other rule: %v", err)
		}

		open, err := st.FindOpenAlert(ctx, "r1")
		if err != nil {
			t.Fatalf("FindOpenAlert: %v", err)
		}
		if open.ID != first.ID {
			t.Errorf("open alert: got %q, want %q", open.ID, first.ID)
		}
	})
}

func TestCreateAlertRecord_Concurrent(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := st.CreateAlertRecord(ctx, firing("r1", now)); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if created != 1 {
			t.Errorf("created: got %d, want exactly 1", created)
		}
	})
}

func TestUpdateAlertRecord_ResolveReopens(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		a, _ := st.CreateAlertRecord(ctx, firing("r1", now))
		resolvedAt := now.Add(time.Minute)
		got, err := st.UpdateAlertRecord(ctx, a.ID, AlertUpdate{
			Status:     types.AlertResolved,
			ResolvedAt: &resolvedAt,
			Expect:     types.AlertFiring,
		})
		if err != nil {
			t.Fatalf("UpdateAlertRecord: %v", err)
		}
		if got.Status != types.AlertResolved || got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolvedAt) {
			t.Errorf("resolved record: got %+v", got)
		}

		if _, err := st.FindOpenAlert(ctx, "r1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("FindOpenAlert after resolve: got %v, want ErrNotFound", err)
		}
		if _, err := st.CreateAlertRecord(ctx, firing("r1", now.Add(2*time.Minute))); err != nil {
			t.Fatalf("re-trigger after resolve: %v", err)
		}

		all, _ := st.ListAlerts(ctx, AlertFilter{RuleID: "r1"})
		if len(all) != 2 {
			t.Fatalf("ListAlerts: got %d records, want 2", len(all))
		}
		if all[0].Status != types.AlertFiring || all[1].Status != types.AlertResolved {
			t.Errorf("order/status: got %s then %s", all[0].Status, all[1].Status)
		}
	})
}

func TestUpdateAlertRecord_ExpectConflict(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a, _ := st.CreateAlertRecord(ctx, firing("r1", time.Now().UTC()))

		if _, err := st.UpdateAlertRecord(ctx, a.ID, AlertUpdate{Status: types.AlertSilenced, Expect: types.AlertFiring}); err != nil {
			t.Fatalf("silence: %v", err)
		}
		_, err := st.UpdateAlertRecord(ctx, a.ID, AlertUpdate{Status: types.AlertSilenced, Expect: types.AlertFiring})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("second silence: got %v, want ErrConflict", err)
		}
		if _, err := st.UpdateAlertRecord(ctx, "missing", AlertUpdate{Status: types.AlertResolved}); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}

		// SILENCED still counts as open.
		if _, err := st.CreateAlertRecord(ctx, firing("r1", time.Now().UTC())); !errors.Is(err, ErrAlertExists) {
			t.Errorf("create while silenced: got %v, want ErrAlertExists", err)
		}
	})
}

func TestNotificationConfig(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		if _, err := st.FindNotificationConfig(ctx, "u1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing config: got %v, want ErrNotFound", err)
		}

		cfg := types.NotificationConfig{
			UserID: "u1",
			Channels: map[types.Channel]types.ChannelSettings{
				types.ChannelEmail:   {Enabled: true, Address: "ops@example.com"},
				types.ChannelWebhook: {Enabled: false, URL: "http://hook"},
			},
			Rules: []types.TypeRule{{Type: "ALERT", Enabled: true, Channels: []types.Channel{types.ChannelEmail}}},
		}
		if err := st.UpsertNotificationConfig(ctx, cfg); err != nil {
			t.Fatalf("UpsertNotificationConfig: %v", err)
		}

		got, err := st.FindNotificationConfig(ctx, "u1")
		if err != nil {
			t.Fatalf("FindNotificationConfig: %v", err)
		}
		if got.Channels[types.ChannelEmail].Address != "ops@example.com" {
			t.Errorf("email address: got %q", got.Channels[types.ChannelEmail].Address)
		}
		if r, ok := got.RuleFor("ALERT"); !ok || len(r.Channels) != 1 {
			t.Errorf("RuleFor(ALERT): got %+v, %v", r, ok)
		}
	})
}

func TestNotificationRecords(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		rec, err := st.CreateNotificationRecord(ctx, types.NotificationRecord{
			UserID:    "u1",
			Type:      "ALERT",
			Title:     "t",
			Message:   "m",
			Data:      map[string]any{"severity": "CRITICAL"},
			Channel:   types.ChannelEmail,
			Status:    types.NotificationPending,
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateNotificationRecord: %v", err)
		}

		sentAt := now.Add(time.Second)
		if err := st.UpdateNotificationRecordStatus(ctx, rec.ID, types.NotificationSent, "", &sentAt); err != nil {
			t.Fatalf("UpdateNotificationRecordStatus: %v", err)
		}
		if err := st.UpdateNotificationRecordStatus(ctx, "missing", types.NotificationSent, "", nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}

		list, err := st.ListNotifications(ctx, NotificationFilter{UserID: "u1"})
		if err != nil {
			t.Fatalf("ListNotifications: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("ListNotifications: got %d, want 1", len(list))
		}
		got := list[0]
		if got.Status != types.NotificationSent || got.SentAt == nil {
			t.Errorf("status: got %s sentAt=%v", got.Status, got.SentAt)
		}
		if got.Data["severity"] != "CRITICAL" {
			t.Errorf("data: got %v", got.Data)
		}

		other, _ := st.ListNotifications(ctx, NotificationFilter{UserID: "u2"})
		if len(other) != 0 {
			t.Errorf("other user: got %d records, want 0", len(other))
		}
	})
}

func TestPrune(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		old := time.Now().UTC().Add(-48 * time.Hour)

		a, _ := st.CreateAlertRecord(ctx, firing("r1", old))
		_, _ = st.UpdateAlertRecord(ctx, a.ID, AlertUpdate{Status: types.AlertResolved, ResolvedAt: &old})
		_, _ = st.CreateAlertRecord(ctx, firing("r2", old))
		_, _ = st.CreateNotificationRecord(ctx, types.NotificationRecord{
			Type: "ALERT", Channel: types.ChannelSystem, Status: types.NotificationSent, CreatedAt: old,
		})

		n, err := st.Prune(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if n != 2 {
			t.Errorf("pruned: got %d, want 2 (resolved alert + sent notification)", n)
		}
		if _, err := st.FindOpenAlert(ctx, "r2"); err != nil {
			t.Errorf("firing alert must survive prune: %v", err)
		}
	})
}
