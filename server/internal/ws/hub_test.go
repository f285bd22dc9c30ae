package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/store"
	wsHub "github.com/obsidianstack/alertd/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func fire(t *testing.T, st store.Store, ruleID string) *types.AlertRecord {
	t.Helper()
	rec, err := st.CreateAlertRecord(context.Background(), types.AlertRecord{
		RuleID: ruleID, Status: types.AlertFiring, Message: "over threshold", Value: 9, TriggeredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateAlertRecord: %v", err)
	}
	return rec
}

// startHub starts a test HTTP server with the hub as its handler and runs
// the hub's broadcast loop until the test ends or cancel is called.
func startHub(t *testing.T, st store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// readEvent skips messages until one with the given event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if m := readMessage(t, conn); m.Event == event {
			return m
		}
	}
	t.Fatalf("no %q event received", event)
	return message{}
}

func alertsIn(t *testing.T, m message) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(m.Data, &out); err != nil {
		t.Fatalf("unmarshal alerts: %v", err)
	}
	return out
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesOpenAlerts(t *testing.T) {
	st := store.NewMemory()
	fire(t, st, "cpu")
	wsURL, _, _ := startHub(t, st)

	m := readMessage(t, dial(t, wsURL))
	if m.Event != wsHub.EventAlerts {
		t.Fatalf("event: got %v, want alerts", m.Event)
	}
	alerts := alertsIn(t, m)
	if len(alerts) != 1 || alerts[0]["rule_id"] != "cpu" {
		t.Errorf("alerts: got %v", alerts)
	}
}

func TestHub_ResolvedAlertsExcluded(t *testing.T) {
	st := store.NewMemory()
	rec := fire(t, st, "cpu")
	now := time.Now()
	if _, err := st.UpdateAlertRecord(context.Background(), rec.ID, store.AlertUpdate{
		Status: types.AlertResolved, ResolvedAt: &now,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wsURL, _, _ := startHub(t, st)

	if alerts := alertsIn(t, readMessage(t, dial(t, wsURL))); len(alerts) != 0 {
		t.Errorf("alerts: got %d, want 0", len(alerts))
	}
}

func TestHub_OldFiringAlertSurvivesNewerHistory(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now()
	if _, err := st.CreateAlertRecord(ctx, types.AlertRecord{
		RuleID: "disk", Status: types.AlertFiring, Message: "still firing", TriggeredAt: now.Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateAlertRecord: %v", err)
	}
	for i := 0; i < 600; i++ {
		resolvedAt := now.Add(-time.Duration(i) * time.Second)
		st.CreateAlertRecord(ctx, types.AlertRecord{ //nolint:errcheck
			RuleID: "flappy", Status: types.AlertResolved, Message: "recovered",
			TriggeredAt: resolvedAt.Add(-time.Second), ResolvedAt: &resolvedAt,
		})
	}
	wsURL, _, _ := startHub(t, st)

	alerts := alertsIn(t, readMessage(t, dial(t, wsURL)))
	if len(alerts) != 1 || alerts[0]["rule_id"] != "disk" {
		t.Errorf("alerts: got %d entries, want the single firing disk alert", len(alerts))
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	st := store.NewMemory()
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn) // initial state, no alerts

	fire(t, st, "memory")

	for i := 0; i < 50; i++ {
		if alerts := alertsIn(t, readEvent(t, conn, wsHub.EventAlerts)); len(alerts) == 1 {
			return
		}
	}
	t.Error("tick broadcast never contained the new alert")
}

func TestHub_PublishNotification(t *testing.T) {
	wsURL, hub, _ := startHub(t, store.NewMemory())
	conns := []*websocket.Conn{dial(t, wsURL), dial(t, wsURL)}
	for _, c := range conns {
		readMessage(t, c)
	}
	time.Sleep(10 * time.Millisecond)

	sent := time.Now()
	hub.PublishNotification(types.NotificationRecord{
		ID: "n1", Type: "ALERT", Title: "High CPU", Channel: types.ChannelSystem,
		Status: types.NotificationSent, CreatedAt: sent, SentAt: &sent,
	})

	for i, c := range conns {
		m := readEvent(t, c, wsHub.EventNotification)
		var rec map[string]any
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			t.Fatalf("client %d: unmarshal: %v", i, err)
		}
		if rec["id"] != "n1" || rec["title"] != "High CPU" || rec["status"] != "SENT" {
			t.Errorf("client %d: got %v", i, rec)
		}
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, store.NewMemory())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, store.NewMemory())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(store.NewMemory(), testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
