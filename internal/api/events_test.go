package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialEvents(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub()
	conn := dialEvents(t, hub)

	hub.Publish("scan", map[string]int{"probed": 5})
	hub.Publish("guard", map[string]string{"phase": "idle"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"scan", "guard"} {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Type != want {
			t.Errorf("message type = %q, want %q", msg.Type, want)
		}
		if msg.Timestamp.IsZero() {
			t.Error("message timestamp should be set")
		}
	}
}

func TestHub_Disconnect(t *testing.T) {
	hub := NewHub()
	conn := dialEvents(t, hub)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d after disconnect, want 0", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Publishing with no clients is a no-op.
	hub.Publish("fleet", nil)
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	dialEvents(t, hub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*4; i++ {
			hub.Publish("fleet", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a client that is not reading")
	}
}
