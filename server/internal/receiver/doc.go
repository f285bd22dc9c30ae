// Package receiver implements the HTTP endpoint that accepts metric samples
// from the application's instrumentation.
//
//	POST /api/v1/samples
//
// The body is one sample or a JSON array of samples:
//
//	{"type": "RESPONSE_TIME", "name": "/users", "value": 182, "unit": "ms",
//	 "tags": {"method": "GET"}, "timestamp": "2026-03-01T12:00:00Z"}
//
// type is required and value must be finite; a missing timestamp is set on
// arrival. A batch is rejected as a whole (400) if any sample is invalid.
// Accepted samples are appended to the sample sink and the handler replies
// 202 with the accepted count. Authentication is applied by the auth
// middleware wrapping the handler.
package receiver
