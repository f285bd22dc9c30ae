package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"`
	RuleCount       int    `json:"rule_count"`
	EnabledRules    int    `json:"enabled_rules"`
	FiringCount     int    `json:"firing_count"`
	SilencedCount   int    `json:"silenced_count"`
	BufferedSamples int    `json:"buffered_samples"`
	GeneratedAt     string `json:"generated_at"` // RFC3339
}

// RuleResponse is one entry of GET /api/v1/rules.
type RuleResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Metric          string   `json:"metric"`
	MetricName      string   `json:"metric_name,omitempty"`
	Condition       string   `json:"condition"`
	Threshold       float64  `json:"threshold"`
	DurationSeconds float64  `json:"duration_seconds"`
	Severity        string   `json:"severity"`
	Enabled         bool     `json:"enabled"`
	Channels        []string `json:"channels"`
}

// AlertResponse is one alert record.
type AlertResponse struct {
	ID          string  `json:"id"`
	RuleID      string  `json:"rule_id"`
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Value       float64 `json:"value"`
	TriggeredAt string  `json:"triggered_at"`          // RFC3339
	ResolvedAt  string  `json:"resolved_at,omitempty"` // RFC3339
}

// NotificationResponse is one delivery attempt.
type NotificationResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Channel   string         `json:"channel"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at"`        // RFC3339
	SentAt    string         `json:"sent_at,omitempty"` // RFC3339
}

// SendRequest is the body of POST /api/v1/notifications. An empty Channels
// list lets the recipient's config choose.
type SendRequest struct {
	UserID   string         `json:"user_id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Channels []string       `json:"channels,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
