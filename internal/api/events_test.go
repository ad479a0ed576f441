package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

func dialEvents(t *testing.T, server *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestEvents_PushesDeviceList(t *testing.T) {
	env := setupTestHandler(t)

	mux := http.NewServeMux()
	env.handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()
	defer env.handler.Close()

	conn := dialEvents(t, server, "/api/events", nil)
	defer conn.Close()

	msg := readEvent(t, conn)
	if msg.Type != "devices" || len(msg.Devices) != 1 || msg.Devices[0].Interface != "eth0" {
		t.Fatalf("Unexpected initial message %+v", msg)
	}

	// Wait for the subscription before changing the model.
	deadline := time.Now().Add(2 * time.Second)
	for env.handler.events.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	m := env.watcher.Model()
	m.Merge(testDevEth0, bus.DeviceInterface, map[string]any{"State": uint32(30)})
	m.Notifier().Flush()

	msg = readEvent(t, conn)
	if msg.Devices[0].State != "Disconnected" {
		t.Errorf("Expected pushed state Disconnected, got %q", msg.Devices[0].State)
	}
}

func TestEvents_AuthenticatedSubprotocol(t *testing.T) {
	env := setupTestHandler(t)

	mux := http.NewServeMux()
	env.handler.RegisterRoutes(mux)
	server := httptest.NewServer(AuthMiddleware("secret-token", mux))
	defer server.Close()
	defer env.handler.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("Expected unauthenticated dial to fail")
	}

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", "secret-token"}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.Subprotocol() != bearerProtocol {
		t.Errorf("Expected negotiated subprotocol %q, got %q", bearerProtocol, conn.Subprotocol())
	}
	if msg := readEvent(t, conn); msg.Type != "devices" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestEventClient_OfferKeepsLatest(t *testing.T) {
	c := &eventClient{latest: make(chan []model.Device, 1), done: make(chan struct{})}
	c.offer([]model.Device{{Interface: "a"}})
	c.offer([]model.Device{{Interface: "b"}})

	got := <-c.latest
	if got[0].Interface != "b" {
		t.Errorf("Expected latest list, got %+v", got)
	}
}
