// Package types defines the domain types shared by the alert engine, the
// notification dispatcher, the store and the HTTP layer: rules, alert
// records, notification configs and records, and metric samples.
package types
