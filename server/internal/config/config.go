package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultEvaluationInterval = 15 * time.Second
	DefaultSampleRetention    = 1 * time.Hour
	DefaultScrapeInterval     = 30 * time.Second
	DefaultWebhookTimeout     = 10 * time.Second
	DefaultSMTPPort           = 587
	DefaultSMTPTimeout        = 30 * time.Second
	DefaultHostName           = "host"

	DefaultSystemWebhookURLEnv    = "SYSTEM_ALERT_WEBHOOK_URL"
	DefaultSystemWebhookSecretEnv = "SYSTEM_ALERT_WEBHOOK_SECRET"
)

// Config is the top-level configuration parsed from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Notify     NotifyConfig     `yaml:"notify"`

	// Rules is the alert rule catalog. It is synced into the store on
	// startup and on every reload.
	Rules []RuleConfig `yaml:"rules"`

	// Users holds per-recipient notification configs, synced like Rules.
	Users []UserConfig `yaml:"users"`

	// Sources are Prometheus endpoints scraped for metric samples.
	Sources []Source `yaml:"sources"`

	// Host samples this machine's CPU and memory usage.
	Host HostConfig `yaml:"host"`
}

// HostConfig controls the local CPU_USAGE / MEMORY_USAGE collector.
type HostConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// Name is the sample name recorded for both metrics (default "host").
	Name string `yaml:"name"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, sample receiver and WebSocket hub
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// AuthConfig controls client authentication on the HTTP API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

type LoggingConfig struct {
	// Level is one of: debug | info | warn | error (default info).
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is one of: memory | sqlite (default memory).
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Required when Driver == "sqlite".
	Path string `yaml:"path"`

	// Retention prunes resolved alerts and delivered notifications older
	// than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// EvaluationConfig controls the rule evaluation loop.
type EvaluationConfig struct {
	// Interval between evaluation ticks (default 15s).
	Interval time.Duration `yaml:"interval"`

	// SampleRetention is how long metric samples are kept in memory
	// (default 1h). It must cover the longest rule duration.
	SampleRetention time.Duration `yaml:"sample_retention"`
}

// NotifyConfig holds process-level notification settings.
type NotifyConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`

	// SystemEmail receives email-channel system notifications.
	SystemEmail string `yaml:"system_email"`

	SystemWebhook SystemWebhookConfig `yaml:"system_webhook"`

	// WebhookTimeout bounds each webhook POST (default 10s).
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// SMTPConfig configures the outgoing mail relay. Email is disabled when
// Host is empty.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	From        string `yaml:"from"`
	// Timeout bounds one delivery from dial to QUIT (default 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// Password returns the SMTP password resolved from the environment.
func (s SMTPConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// SystemWebhookConfig locates the webhook used for system notifications.
type SystemWebhookConfig struct {
	URLEnv    string `yaml:"url_env"`
	SecretEnv string `yaml:"secret_env"`

	// Format is one of: generic | slack | teams (default generic).
	Format string `yaml:"format"`
}

// URL returns the webhook URL resolved from the environment.
func (w SystemWebhookConfig) URL() string { return os.Getenv(w.URLEnv) }

// Secret returns the signing secret resolved from the environment.
func (w SystemWebhookConfig) Secret() string { return os.Getenv(w.SecretEnv) }

// RuleConfig is one alert rule in the catalog.
type RuleConfig struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Metric     string        `yaml:"metric"`
	MetricName string        `yaml:"metric_name"`
	Condition  string        `yaml:"condition"`
	Threshold  float64       `yaml:"threshold"`
	Duration   time.Duration `yaml:"duration"`
	Severity   string        `yaml:"severity"`

	// Enabled defaults to true when omitted.
	Enabled  *bool    `yaml:"enabled"`
	Channels []string `yaml:"channels"`
}

// Rule converts r into a types.AlertRule.
func (r RuleConfig) Rule() (types.AlertRule, error) {
	rule := types.AlertRule{
		ID:         r.ID,
		Name:       r.Name,
		Metric:     types.Metric(r.Metric),
		MetricName: r.MetricName,
		Condition:  types.Condition(r.Condition),
		Threshold:  r.Threshold,
		Duration:   r.Duration,
		Severity:   types.Severity(r.Severity),
		Enabled:    r.Enabled == nil || *r.Enabled,
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	if rule.Severity == "" {
		rule.Severity = types.SeverityWarning
	}
	for _, c := range r.Channels {
		ch, err := types.ParseChannel(c)
		if err != nil {
			return types.AlertRule{}, err
		}
		rule.Channels = append(rule.Channels, ch)
	}
	return rule, nil
}

// UserConfig is one recipient's notification config.
type UserConfig struct {
	ID       string                   `yaml:"id"`
	Channels map[string]ChannelConfig `yaml:"channels"`
	Rules    []TypeRuleConfig         `yaml:"rules"`
}

// ChannelConfig configures one channel for a user. The webhook secret is
// read from SecretEnv so it never appears in the file.
type ChannelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	URL       string `yaml:"url"`
	SecretEnv string `yaml:"secret_env"`
}

// TypeRuleConfig overrides delivery for one notification type.
type TypeRuleConfig struct {
	Type     string   `yaml:"type"`
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"`
}

// NotificationConfig converts u into a types.NotificationConfig.
func (u UserConfig) NotificationConfig() (types.NotificationConfig, error) {
	cfg := types.NotificationConfig{
		UserID:   u.ID,
		Channels: make(map[types.Channel]types.ChannelSettings, len(u.Channels)),
	}
	for name, c := range u.Channels {
		ch, err := types.ParseChannel(name)
		if err != nil {
			return types.NotificationConfig{}, err
		}
		s := types.ChannelSettings{Enabled: c.Enabled, Address: c.Address, URL: c.URL}
		if c.SecretEnv != "" {
			s.Secret = os.Getenv(c.SecretEnv)
		}
		cfg.Channels[ch] = s
	}
	for _, r := range u.Rules {
		tr := types.TypeRule{Type: r.Type, Enabled: r.Enabled}
		for _, c := range r.Channels {
			ch, err := types.ParseChannel(c)
			if err != nil {
				return types.NotificationConfig{}, err
			}
			tr.Channels = append(tr.Channels, ch)
		}
		cfg.Rules = append(cfg.Rules, tr)
	}
	return cfg, nil
}

// Source is one Prometheus text endpoint scraped for samples.
type Source struct {
	ID       string        `yaml:"id"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
	Auth     SourceAuth    `yaml:"auth"`

	// Metrics maps metric families in the scrape onto alert metrics.
	Metrics []MetricMapping `yaml:"metrics"`
}

// SourceAuth configures how the scraper authenticates to a source.
type SourceAuth struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header is the API key header (apikey mode).
	Header   string `yaml:"header"`
	TokenEnv string `yaml:"token_env"`
}

// Token returns the credential resolved from the environment.
func (a SourceAuth) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// MetricMapping turns one metric family into samples of one alert metric.
type MetricMapping struct {
	// Family is the Prometheus metric family name.
	Family string `yaml:"family"`
	Metric string `yaml:"metric"`

	// Name is the sample name (defaults to the source ID).
	Name string `yaml:"name"`

	// Aggregate is one of: sum | mean (default sum). mean divides the
	// histogram or summary sample sum by its count.
	Aggregate string `yaml:"aggregate"`

	// Scale multiplies the value, e.g. 1000 for seconds to milliseconds.
	// Zero means 1.
	Scale float64 `yaml:"scale"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applySourceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Evaluation: EvaluationConfig{
			Interval:        DefaultEvaluationInterval,
			SampleRetention: DefaultSampleRetention,
		},
		Notify: NotifyConfig{
			SMTP: SMTPConfig{Port: DefaultSMTPPort, Timeout: DefaultSMTPTimeout},
			SystemWebhook: SystemWebhookConfig{
				URLEnv:    DefaultSystemWebhookURLEnv,
				SecretEnv: DefaultSystemWebhookSecretEnv,
			},
			WebhookTimeout: DefaultWebhookTimeout,
		},
		Host: HostConfig{
			Interval: DefaultScrapeInterval,
			Name:     DefaultHostName,
		},
	}
}

func applySourceDefaults(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Interval == 0 {
			s.Interval = DefaultScrapeInterval
		}
		for j := range s.Metrics {
			m := &s.Metrics[j]
			if m.Name == "" {
				m.Name = s.ID
			}
			if m.Scale == 0 {
				m.Scale = 1
			}
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	switch cfg.Server.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.logging.level %q unknown: want debug|info|warn|error", cfg.Server.Logging.Level)
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver %q unknown: want memory|sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.Retention < 0 {
		return errors.New("storage.retention must not be negative")
	}

	if cfg.Evaluation.Interval <= 0 {
		return errors.New("evaluation.interval must be positive")
	}
	if cfg.Evaluation.SampleRetention <= 0 {
		return errors.New("evaluation.sample_retention must be positive")
	}
	if cfg.Host.Enabled && cfg.Host.Interval <= 0 {
		return errors.New("host.interval must be positive")
	}

	switch cfg.Notify.SystemWebhook.Format {
	case "generic", "slack", "teams", "":
	default:
		return fmt.Errorf("notify.system_webhook.format %q unknown: want generic|slack|teams", cfg.Notify.SystemWebhook.Format)
	}
	if cfg.Notify.SMTP.Host != "" && cfg.Notify.SMTP.From == "" {
		return errors.New("notify.smtp.from is required when notify.smtp.host is set")
	}

	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("rules[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rules[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		rule, err := r.Rule()
		if err != nil {
			return fmt.Errorf("rules[%d] %q: %w", i, r.ID, err)
		}
		if rule.Metric == "" {
			return fmt.Errorf("rules[%d] %q: metric is required", i, r.ID)
		}
		if !rule.Condition.Valid() {
			return fmt.Errorf("rules[%d] %q: condition %q unknown: want GREATER_THAN|LESS_THAN|EQUAL_TO", i, r.ID, r.Condition)
		}
		if !rule.Severity.Valid() {
			return fmt.Errorf("rules[%d] %q: severity %q unknown: want INFO|WARNING|ERROR|CRITICAL", i, r.ID, r.Severity)
		}
		if rule.Duration < 0 {
			return fmt.Errorf("rules[%d] %q: duration must not be negative", i, r.ID)
		}
		if rule.Duration >= cfg.Evaluation.SampleRetention {
			return fmt.Errorf("rules[%d] %q: duration %v must be shorter than evaluation.sample_retention %v",
				i, r.ID, rule.Duration, cfg.Evaluation.SampleRetention)
		}
	}

	for i, u := range cfg.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if _, err := u.NotificationConfig(); err != nil {
			return fmt.Errorf("users[%d] %q: %w", i, u.ID, err)
		}
	}

	for i, s := range cfg.Sources {
		if s.ID == "" || s.Endpoint == "" {
			return fmt.Errorf("sources[%d]: id and endpoint are required", i)
		}
		switch s.Auth.Mode {
		case "apikey", "bearer", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: auth.mode %q unknown: want apikey|bearer|none", i, s.ID, s.Auth.Mode)
		}
		if len(s.Metrics) == 0 {
			return fmt.Errorf("sources[%d] %q: at least one metric mapping is required", i, s.ID)
		}
		for j, m := range s.Metrics {
			if m.Family == "" || m.Metric == "" {
				return fmt.Errorf("sources[%d].metrics[%d]: family and metric are required", i, j)
			}
			switch m.Aggregate {
			case "sum", "mean", "":
			default:
				return fmt.Errorf("sources[%d].metrics[%d]: aggregate %q unknown: want sum|mean", i, j, m.Aggregate)
			}
		}
	}
	return nil
}
