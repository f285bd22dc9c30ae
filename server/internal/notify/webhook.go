package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	// SignatureHeader carries "sha256=<hex HMAC-SHA256(secret, ts.body)>"
	// when the channel has a secret, where ts is the TimestampHeader value.
	SignatureHeader = "X-Alertd-Signature"
	// TimestampHeader carries the signing time in Unix seconds.
	TimestampHeader = "X-Alertd-Timestamp"
)

// Webhook is one outgoing webhook call. Payload is encoded as JSON.
type Webhook struct {
	URL     string
	Secret  string
	Payload any
}

// WebhookSender performs the HTTP side of the webhook channel.
type WebhookSender interface {
	SendWebhook(ctx context.Context, wh Webhook) error
}

// Payload is the body of a generic webhook notification.
type Payload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (d *Dispatcher) sendWebhook(ctx context.Context, rec *types.NotificationRecord, s types.ChannelSettings, format string) error {
	if !s.Enabled || s.URL == "" {
		return ErrWebhookUnavailable
	}

	var payload any
	switch format {
	case "slack":
		payload = slackPayload(rec)
	case "teams":
		payload = teamsPayload(rec)
	default:
		payload = Payload{
			ID:        rec.ID,
			Type:      rec.Type,
			Title:     rec.Title,
			Message:   rec.Message,
			Data:      rec.Data,
			CreatedAt: rec.CreatedAt,
		}
	}
	return d.webhooks.SendWebhook(ctx, Webhook{URL: s.URL, Secret: s.Secret, Payload: payload})
}

func slackPayload(rec *types.NotificationRecord) map[string]string {
	return map[string]string{
		"text": fmt.Sprintf("*%s* %s: %s", severityLabel(rec.Data), rec.Title, rec.Message),
	}
}

func teamsPayload(rec *types.NotificationRecord) map[string]any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(rec.Data),
		"summary":    rec.Title,
		"title":      rec.Title,
		"text":       rec.Message,
	}
}

func severityOf(data map[string]any) types.Severity {
	switch v := data["severity"].(type) {
	case types.Severity:
		return v
	case string:
		return types.Severity(v)
	}
	return types.SeverityInfo
}

func severityLabel(data map[string]any) string {
	switch severityOf(data) {
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityError:
		return "[ERROR]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(data map[string]any) string {
	switch severityOf(data) {
	case types.SeverityCritical, types.SeverityError:
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// HTTPWebhookSender POSTs JSON payloads. A response status of 400 or above
// is a delivery failure.
type HTTPWebhookSender struct {
	client *http.Client
	now    func() time.Time
}

// NewHTTPWebhookSender creates a sender whose requests time out after
// timeout.
func NewHTTPWebhookSender(timeout time.Duration) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &HTTPWebhookSender{client: &http.Client{Timeout: timeout}, now: time.Now}
}

// SendWebhook implements WebhookSender.
func (s *HTTPWebhookSender) SendWebhook(ctx context.Context, wh Webhook) error {
	body, err := json.Marshal(wh.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if wh.Secret != "" {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set(TimestampHeader, ts)
		req.Header.Set(SignatureHeader, Sign(wh.Secret, ts, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the SignatureHeader value for body sent at timestamp.
// Receivers should reject timestamps outside their replay window.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
