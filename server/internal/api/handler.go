package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/store"
)

const maxRequestBytes = 64 << 10

// Store is the subset of store.Store the API reads and writes.
type Store interface {
	ListRules(ctx context.Context) ([]types.AlertRule, error)
	GetAlert(ctx context.Context, id string) (*types.AlertRecord, error)
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]types.AlertRecord, error)
	UpdateAlertRecord(ctx context.Context, id string, upd store.AlertUpdate) (*types.AlertRecord, error)
	ListNotifications(ctx context.Context, f store.NotificationFilter) ([]types.NotificationRecord, error)
}

// Sender delivers user-scoped notifications. notify.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, in notify.Intent) ([]types.NotificationRecord, error)
}

// SampleCounter reports how many samples are buffered. metrics.Buffer
// implements it.
type SampleCounter interface {
	Count() int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store   Store
	samples SampleCounter
	sender  Sender
	now     func() time.Time
	mux     *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithSampleCounter reports the buffer size in the health payload.
func WithSampleCounter(c SampleCounter) Option { return func(h *Handler) { h.samples = c } }

// WithSender enables POST /api/v1/notifications.
func WithSender(s Sender) Option { return func(h *Handler) { h.sender = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// New creates a Handler wired to st and registers all routes.
func New(st Store, opts ...Option) http.Handler {
	h := &Handler{store: st, now: time.Now, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/rules", h.rules)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alert) // subtree: {id} and {id}/silence
	h.mux.HandleFunc("/api/v1/notifications", h.notifications)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	rules, err := h.store.ListRules(ctx)
	if err != nil {
		h.storeErr(w, "list rules", err)
		return
	}
	firing, err := h.store.ListAlerts(ctx, store.AlertFilter{Status: types.AlertFiring})
	if err != nil {
		h.storeErr(w, "list alerts", err)
		return
	}
	silenced, err := h.store.ListAlerts(ctx, store.AlertFilter{Status: types.AlertSilenced})
	if err != nil {
		h.storeErr(w, "list alerts", err)
		return
	}

	resp := HealthResponse{
		Status:        "ok",
		RuleCount:     len(rules),
		FiringCount:   len(firing),
		SilencedCount: len(silenced),
		GeneratedAt:   h.now().UTC().Format(time.RFC3339),
	}
	for _, rule := range rules {
		if rule.Enabled {
			resp.EnabledRules++
		}
	}
	if h.samples != nil {
		resp.BufferedSamples = h.samples.Count()
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		h.storeErr(w, "list rules", err)
		return
	}
	out := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	f := store.AlertFilter{
		Status: types.AlertStatus(strings.ToUpper(q.Get("status"))),
		RuleID: q.Get("rule"),
		Limit:  limit,
	}
	recs, err := h.store.ListAlerts(r.Context(), f)
	if err != nil {
		h.storeErr(w, "list alerts", err)
		return
	}
	out := make([]AlertResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, NewAlertResponse(rec))
	}
	jsonResp(w, http.StatusOK, out)
}

// alert serves GET /api/v1/alerts/{id} and POST /api/v1/alerts/{id}/silence.
func (h *Handler) alert(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/")
	if rest == "" {
		h.listAlerts(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		h.getAlert(w, r, id)
	case "silence":
		h.silence(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := h.store.GetAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.storeErr(w, "get alert", err)
		return
	}
	jsonResp(w, http.StatusOK, NewAlertResponse(*rec))
}

func (h *Handler) silence(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := h.store.UpdateAlertRecord(r.Context(), id, store.AlertUpdate{
		Status: types.AlertSilenced,
		Expect: types.AlertFiring,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	case errors.Is(err, store.ErrConflict):
		jsonErr(w, http.StatusConflict, "alert is not firing")
		return
	case err != nil:
		h.storeErr(w, "silence alert", err)
		return
	}
	slog.Info("api: alert silenced", "alert", rec.ID, "rule", rec.RuleID)
	jsonResp(w, http.StatusOK, NewAlertResponse(*rec))
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		h.sendNotification(w, r)
		return
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	recs, err := h.store.ListNotifications(r.Context(), store.NotificationFilter{
		UserID: q.Get("user"),
		Status: types.NotificationStatus(strings.ToUpper(q.Get("status"))),
		Limit:  limit,
	})
	if err != nil {
		h.storeErr(w, "list notifications", err)
		return
	}
	out := make([]NotificationResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, NewNotificationResponse(rec))
	}
	jsonResp(w, http.StatusOK, out)
}

// sendNotification delivers a notification to one user through the
// channels their config allows.
func (h *Handler) sendNotification(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Type == "" || req.Title == "" {
		jsonErr(w, http.StatusBadRequest, "user_id, type and title are required")
		return
	}
	in := notify.Intent{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	}
	for _, c := range req.Channels {
		ch, err := types.ParseChannel(c)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		in.Channels = append(in.Channels, ch)
	}

	recs, err := h.sender.Send(r.Context(), in)
	out := make([]NotificationResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, NewNotificationResponse(rec))
	}
	switch {
	case errors.Is(err, notify.ErrAllChannelsFailed):
		jsonResp(w, http.StatusBadGateway, out)
	case err != nil:
		h.storeErr(w, "send notification", err)
	default:
		jsonResp(w, http.StatusOK, out)
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func (h *Handler) storeErr(w http.ResponseWriter, op string, err error) {
	slog.Error("api: store error", "op", op, "err", err)
	jsonErr(w, http.StatusInternalServerError, "internal error")
}

// parseLimit reads ?limit=. Empty means the store default.
func parseLimit(w http.ResponseWriter, s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toRuleResponse(r types.AlertRule) RuleResponse {
	chans := make([]string, 0, len(r.Channels))
	for _, c := range r.Channels {
		chans = append(chans, string(c))
	}
	return RuleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Metric:          string(r.Metric),
		MetricName:      r.MetricName,
		Condition:       string(r.Condition),
		Threshold:       r.Threshold,
		DurationSeconds: r.Duration.Seconds(),
		Severity:        string(r.Severity),
		Enabled:         r.Enabled,
		Channels:        chans,
	}
}

// NewAlertResponse maps an alert record to its JSON representation.
func NewAlertResponse(a types.AlertRecord) AlertResponse {
	return AlertResponse{
		ID:          a.ID,
		RuleID:      a.RuleID,
		Status:      string(a.Status),
		Message:     a.Message,
		Value:       a.Value,
		TriggeredAt: formatTime(&a.TriggeredAt),
		ResolvedAt:  formatTime(a.ResolvedAt),
	}
}

// NewNotificationResponse maps a delivery record to its JSON representation.
func NewNotificationResponse(n types.NotificationRecord) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Channel:   string(n.Channel),
		Status:    string(n.Status),
		Error:     n.Error,
		CreatedAt: formatTime(&n.CreatedAt),
		SentAt:    formatTime(n.SentAt),
	}
}
