package statusd

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialState(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/state"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	return snapshot
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count stuck at %d, want %d", s.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishFanOut(t *testing.T) {
	s := New(":0")
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	first := dialState(t, server)
	second := dialState(t, server)
	waitForClients(t, s, 2)

	s.Publish(map[string]any{"running": true, "pump_speed": 1.5})

	for _, conn := range []*websocket.Conn{first, second} {
		snapshot := readSnapshot(t, conn)
		if snapshot["running"] != true {
			t.Fatalf("snapshot = %v", snapshot)
		}
		if snapshot["pump_speed"] != 1.5 {
			t.Fatalf("snapshot = %v", snapshot)
		}
	}
}

func TestLateJoinerGetsLastSnapshot(t *testing.T) {
	s := New(":0")
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	s.Publish(map[string]any{"running": false})

	conn := dialState(t, server)
	snapshot := readSnapshot(t, conn)
	if snapshot["running"] != false {
		t.Fatalf("late joiner snapshot = %v", snapshot)
	}
}

func TestTrySendFullQueue(t *testing.T) {
	c := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	if !c.trySend([]byte("a")) {
		t.Fatal("first send must fit")
	}
	if c.trySend([]byte("b")) {
		t.Fatal("full queue must report failure")
	}
	close(c.done)
	if !c.trySend([]byte("c")) {
		t.Fatal("sends to a closing client are not failures")
	}
}

func TestPublishUnmarshalable(t *testing.T) {
	s := New(":0")
	// Channels have no JSON encoding; Publish must log and carry on.
	s.Publish(map[string]any{"bad": make(chan int)})
	if s.last != nil {
		t.Fatal("failed snapshot must not be retained")
	}
}

func TestClientDisconnectIsObserved(t *testing.T) {
	s := New(":0")
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	conn := dialState(t, server)
	waitForClients(t, s, 1)
	conn.Close()
	waitForClients(t, s, 0)
}
