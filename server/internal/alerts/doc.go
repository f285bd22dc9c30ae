// Package alerts implements the alert rule engine and the evaluation loop
// that drives it.
//
// Engine turns (rule, value) pairs into alert state transitions: a violated
// rule without an open alert gets a new FIRING record and an ALERT
// notification; a rule whose condition clears has its open record resolved
// and an ALERT_RESOLVED notification sent. All state lives in the store;
// the engine keeps nothing between calls.
//
// Evaluator is the driver: every tick it loads the enabled rules, reads
// recent samples for each from a Source and calls the engine. Rules with a
// non-zero Duration only fire once the condition has held for the whole
// window.
package alerts
