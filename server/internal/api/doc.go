// Package api implements the HTTP REST API for alertd-server.
//
// New(store, opts...) returns an http.Handler that serves:
//
//	GET  /api/v1/health                 : rule and alert counts, buffered samples
//	GET  /api/v1/rules                  : the rule catalog ([]RuleResponse)
//	GET  /api/v1/alerts                 : alert history, filter by ?status= ?rule= ?limit=
//	GET  /api/v1/alerts/{id}            : a single alert record; 404 if unknown
//	POST /api/v1/alerts/{id}/silence    : FIRING to SILENCED; 409 from any other state
//	GET  /api/v1/notifications          : delivery history, filter by ?user= ?status= ?limit=
//	POST /api/v1/notifications          : send to one user (SendRequest); 502 if every channel failed
//
// All endpoints respond with Content-Type: application/json and return 405
// for the wrong method. JSON types are defined in types.go. No external HTTP
// framework is used.
package api
