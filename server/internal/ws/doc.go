// Package ws implements the WebSocket hub for alertd-server.
//
// Hub keeps the set of connected clients. Every interval it broadcasts the
// open (FIRING or SILENCED) alerts; it also implements notify.Publisher, so
// records delivered on the system channel are pushed to clients as they
// settle.
//
// Message format sent to clients:
//
//	{"event": "alerts",       "data": [ /* api.AlertResponse */ ]}
//	{"event": "notification", "data": { /* api.NotificationResponse */ }}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream by
// the server.
package ws
