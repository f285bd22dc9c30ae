// Package notify fans a notification out to email, webhook and in-system
// channels and keeps a per-channel NotificationRecord for every attempt.
//
// Dispatcher.Send resolves channels from the recipient's NotificationConfig;
// Dispatcher.SendSystem takes an explicit channel list and uses
// process-level settings (the operator mailbox and the system webhook read
// from SYSTEM_ALERT_WEBHOOK_URL / SYSTEM_ALERT_WEBHOOK_SECRET).
//
// Every channel is attempted concurrently and the dispatcher waits for all
// of them before deciding the result. The call fails with
// ErrAllChannelsFailed only when every targeted channel failed; the FAILED
// records are still persisted.
package notify
