package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/store"
)

var (
	// ErrNoChannels is returned by SendSystem when the intent names no
	// channels. No record is created.
	ErrNoChannels = errors.New("notify: system notification requires at least one channel")

	// ErrAllChannelsFailed is returned when every targeted channel failed.
	ErrAllChannelsFailed = errors.New("all channels failed")

	// ErrChannelUnavailable is the email failure for a channel that is
	// disabled or has no address.
	ErrChannelUnavailable = errors.New("channel not enabled or address missing")

	// ErrWebhookUnavailable is the webhook failure for a channel that is
	// disabled or has no url.
	ErrWebhookUnavailable = errors.New("channel not enabled or url missing")
)

// Store is the subset of store.Store the dispatcher needs.
type Store interface {
	FindNotificationConfig(ctx context.Context, userID string) (*types.NotificationConfig, error)
	CreateNotificationRecord(ctx context.Context, rec types.NotificationRecord) (*types.NotificationRecord, error)
	UpdateNotificationRecordStatus(ctx context.Context, id string, status types.NotificationStatus, errMsg string, sentAt *time.Time) error
}

// Publisher receives every delivered system-channel record. The WebSocket
// hub implements it.
type Publisher interface {
	PublishNotification(rec types.NotificationRecord)
}

// Intent is one logical notification to be fanned out.
type Intent struct {
	// UserID selects the recipient's NotificationConfig. Empty for
	// SendSystem.
	UserID  string
	Type    string
	Title   string
	Message string
	Data    map[string]any

	// Channels overrides channel resolution. Required for SendSystem.
	Channels []types.Channel
}

// SystemWebhook is the process-level webhook used by SendSystem.
type SystemWebhook struct {
	URL    string
	Secret string
	// Format is one of generic | slack | teams. Empty means generic.
	Format string
}

// Dispatcher resolves target channels, persists one record per channel and
// invokes the channel adapters concurrently.
type Dispatcher struct {
	store       Store
	mailer      Mailer
	webhooks    WebhookSender
	publisher   Publisher
	systemHook  SystemWebhook
	systemEmail string
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMailer sets the email transport. Without one, email sends fail.
func WithMailer(m Mailer) Option { return func(d *Dispatcher) { d.mailer = m } }

// WithWebhookSender replaces the default HTTP webhook transport.
func WithWebhookSender(s WebhookSender) Option { return func(d *Dispatcher) { d.webhooks = s } }

// WithPublisher sets the subscriber for system-channel records.
func WithPublisher(p Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

// WithSystemWebhook sets the webhook target for system notifications.
func WithSystemWebhook(h SystemWebhook) Option { return func(d *Dispatcher) { d.systemHook = h } }

// WithSystemEmail sets the operator mailbox for system notifications.
func WithSystemEmail(addr string) Option { return func(d *Dispatcher) { d.systemEmail = addr } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// New creates a Dispatcher persisting records to st.
func New(st Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    st,
		webhooks: NewHTTPWebhookSender(defaultWebhookTimeout),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// target is one resolved channel together with the settings to send with.
type target struct {
	channel  types.Channel
	settings types.ChannelSettings
	format   string
}

// Send delivers a user-scoped notification. A recipient without a
// NotificationConfig, or whose config disables in.Type, gets nothing and
// the call succeeds with no records.
func (d *Dispatcher) Send(ctx context.Context, in Intent) ([]types.NotificationRecord, error) {
	cfg, err := d.store.FindNotificationConfig(ctx, in.UserID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("notify: no notification config, skipping", "user", in.UserID, "type", in.Type)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify: load config for %q: %w", in.UserID, err)
	}

	rule, hasRule := cfg.RuleFor(in.Type)
	if hasRule && !rule.Enabled {
		slog.Debug("notify: type disabled for user", "user", in.UserID, "type", in.Type)
		return nil, nil
	}

	var requested []types.Channel
	switch {
	case len(in.Channels) > 0:
		requested = in.Channels
	case hasRule && len(rule.Channels) > 0:
		requested = rule.Channels
	default:
		requested = types.AllChannels
	}

	var targets []target
	for _, ch := range dedupe(requested) {
		s, ok := cfg.Channels[ch]
		if !ok || !s.Enabled {
			continue
		}
		targets = append(targets, target{channel: ch, settings: s})
	}

	return d.dispatch(ctx, in, targets)
}

// SendSystem delivers a notification that belongs to no user. Channels are
// mandatory; the email channel goes to the operator mailbox and the webhook
// channel to the system webhook.
func (d *Dispatcher) SendSystem(ctx context.Context, in Intent) ([]types.NotificationRecord, error) {
	if len(in.Channels) == 0 {
		return nil, ErrNoChannels
	}
	for _, ch := range in.Channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("notify: system notification: unknown channel %q", ch)
		}
	}
	in.UserID = ""

	targets := make([]target, 0, len(in.Channels))
	for _, ch := range dedupe(in.Channels) {
		t := target{channel: ch}
		switch ch {
		case types.ChannelEmail:
			t.settings = types.ChannelSettings{Enabled: d.systemEmail != "", Address: d.systemEmail}
		case types.ChannelWebhook:
			t.settings = types.ChannelSettings{
				Enabled: d.systemHook.URL != "",
				URL:     d.systemHook.URL,
				Secret:  d.systemHook.Secret,
			}
			t.format = d.systemHook.Format
		case types.ChannelSystem:
			t.settings = types.ChannelSettings{Enabled: true}
		}
		targets = append(targets, t)
	}

	return d.dispatch(ctx, in, targets)
}

type outcome struct {
	rec     *types.NotificationRecord
	channel types.Channel
	err     error
}

// dispatch runs one task per target and waits for all of them.
func (d *Dispatcher) dispatch(ctx context.Context, in Intent, targets []target) ([]types.NotificationRecord, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	results := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.run(ctx, in, t)
		}()
	}
	wg.Wait()

	records := make([]types.NotificationRecord, 0, len(results))
	var failures []string
	for _, r := range results {
		if r.rec != nil {
			records = append(records, *r.rec)
		}
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.channel, r.err))
		}
	}

	if len(failures) == len(targets) {
		return records, fmt.Errorf("notify: %w: %s", ErrAllChannelsFailed, strings.Join(failures, "; "))
	}
	return records, nil
}

// run persists the PENDING record, invokes the adapter and records the
// terminal status. A store failure while creating the record counts as a
// failed channel.
func (d *Dispatcher) run(ctx context.Context, in Intent, t target) outcome {
	rec, err := d.store.CreateNotificationRecord(ctx, types.NotificationRecord{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Data:      maps.Clone(in.Data),
		Channel:   t.channel,
		Status:    types.NotificationPending,
		CreatedAt: d.now(),
	})
	if err != nil {
		slog.Error("notify: create record failed", "type", in.Type, "channel", t.channel, "err", err)
		return outcome{channel: t.channel, err: fmt.Errorf("create record: %w", err)}
	}

	sendErr := d.deliver(ctx, rec, t)

	if sendErr != nil {
		rec.Status = types.NotificationFailed
		rec.Error = sendErr.Error()
		slog.Warn("notify: channel send failed",
			"type", in.Type, "channel", t.channel, "record", rec.ID, "err", sendErr)
	} else {
		sentAt := d.now()
		rec.Status = types.NotificationSent
		rec.SentAt = &sentAt
	}

	if err := d.store.UpdateNotificationRecordStatus(ctx, rec.ID, rec.Status, rec.Error, rec.SentAt); err != nil {
		slog.Error("notify: update record status failed",
			"record", rec.ID, "status", rec.Status, "err", err)
	}

	if sendErr == nil && t.channel == types.ChannelSystem && d.publisher != nil {
		d.publisher.PublishNotification(*rec)
	}
	return outcome{rec: rec, channel: t.channel, err: sendErr}
}

// deliver invokes the adapter for t.channel.
func (d *Dispatcher) deliver(ctx context.Context, rec *types.NotificationRecord, t target) error {
	switch t.channel {
	case types.ChannelEmail:
		return d.sendEmail(ctx, rec, t.settings)
	case types.ChannelWebhook:
		return d.sendWebhook(ctx, rec, t.settings, t.format)
	case types.ChannelSystem:
		return nil
	default:
		return fmt.Errorf("unknown channel %q", t.channel)
	}
}

func dedupe(chs []types.Channel) []types.Channel {
	out := make([]types.Channel, 0, len(chs))
	for _, c := range chs {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
