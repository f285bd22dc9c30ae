package types

import (
	"fmt"
	"time"
)

// Channel is a notification delivery mechanism. The set is closed: every
// switch over Channel must handle all three values.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelSystem  Channel = "system"
)

// AllChannels lists every channel in resolution order.
var AllChannels = []Channel{ChannelEmail, ChannelWebhook, ChannelSystem}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWebhook, ChannelSystem:
		return true
	}
	return false
}

// ParseChannel converts s to a Channel, rejecting unknown names.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q: want email|webhook|system", s)
	}
	return c, nil
}

// ChannelSettings is the per-recipient configuration of one channel.
type ChannelSettings struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address,omitempty" yaml:"address"`
	URL     string `json:"url,omitempty" yaml:"url"`
	Secret  string `json:"secret,omitempty" yaml:"secret"`
}

// TypeRule overrides delivery for one notification type.
type TypeRule struct {
	Type     string    `json:"type" yaml:"type"`
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	Channels []Channel `json:"channels,omitempty" yaml:"channels"`
}

// NotificationConfig is a recipient's channel configuration.
type NotificationConfig struct {
	UserID   string                      `json:"userId"`
	Channels map[Channel]ChannelSettings `json:"channels"`
	Rules    []TypeRule                  `json:"rules,omitempty"`
}

// RuleFor returns the type rule for typ, if one is configured.
func (c *NotificationConfig) RuleFor(typ string) (TypeRule, bool) {
	for _, r := range c.Rules {
		if r.Type == typ {
			return r, true
		}
	}
	return TypeRule{}, false
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// NotificationRecord is the audit trail of one delivery attempt on one
// channel. UserID is empty for system notifications.
type NotificationRecord struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId,omitempty"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Data      map[string]any     `json:"data,omitempty"`
	Channel   Channel            `json:"channel"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
	Error     string             `json:"error,omitempty"`
}
