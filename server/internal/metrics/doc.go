// Package metrics holds the recent metric samples the alert evaluator reads.
//
// Buffer keeps a bounded, time-ordered series per (metric, name) and evicts
// samples older than its retention in a background loop. Samples arrive
// from two places: the HTTP receiver (pushed by the application's
// instrumentation) and Scraper, which polls Prometheus text endpoints and
// maps selected metric families onto alert metrics.
package metrics
