package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/twin-gateway/internal/testutil"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON() welcome error = %v", err)
	}
	if hello.Type != TypeStatus || hello.Content != StatusConnected {
		t.Fatalf("welcome = %+v, want status %q", hello, StatusConnected)
	}
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	h := NewHub(testutil.DiscardLogger())
	h.now = func() time.Time { return time.UnixMilli(1000) }
	srv := httptest.NewServer(h)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitForClients(t, h, 2)

	h.SendOperationResult(true, "已聚焦", map[string]any{"target": "pump"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type      string          `json:"type"`
			Content   OperationResult `json:"content"`
			Timestamp int64           `json:"timestamp"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Type != TypeOperationResult {
			t.Errorf("Type = %q, want %q", msg.Type, TypeOperationResult)
		}
		if !msg.Content.Success || msg.Content.Message != "已聚焦" {
			t.Errorf("Content = %+v", msg.Content)
		}
		if msg.Timestamp != 1000 {
			t.Errorf("Timestamp = %d, want 1000", msg.Timestamp)
		}
	}
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	h := NewHub(testutil.DiscardLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)

	// Broadcasting with no clients must not block or panic.
	h.SendLog("noop")
}

func TestHub_MessageTypes(t *testing.T) {
	h := NewHub(testutil.DiscardLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	h.SendLog("l")
	h.SendError("e")
	h.SendStatus("s")

	for _, want := range []string{TypeLog, TypeError, TypeStatus} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Type != want {
			t.Errorf("Type = %q, want %q", msg.Type, want)
		}
	}
}
