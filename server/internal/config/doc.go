// Package config loads the alertd configuration from config.yaml.
//
// Sections:
//   - server    : HTTP port, API key auth, log level
//   - storage   : memory | sqlite, database path, history retention
//   - evaluation: tick interval and in-memory sample retention
//   - notify    : SMTP relay, operator mailbox, system webhook env vars
//     (SYSTEM_ALERT_WEBHOOK_URL / SYSTEM_ALERT_WEBHOOK_SECRET by default)
//   - rules     : the alert rule catalog
//   - users     : per-recipient notification configs
//   - sources   : Prometheus endpoints scraped for samples
//
// Secrets are never stored in the file; *_env fields name the environment
// variables that hold them. Load(path) applies defaults before
// unmarshalling, then validates. Watch(ctx, path, fn) reloads on change.
package config
