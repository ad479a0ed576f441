package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
	eventReadTimeout  = 2 * eventPingInterval
)

// EventMessage is one message pushed to /api/events subscribers
type EventMessage struct {
	Type      string         `json:"type"` // "devices"
	Devices   []model.Device `json:"devices,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// eventHub fans change notifications out to websocket clients. Listeners
// run on the watcher's goroutine, so each client only keeps the most recent
// device list and a slow client never holds up the model.
type eventHub struct {
	model    Model
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*eventClient
	closed  bool
}

type eventClient struct {
	id     string
	latest chan []model.Device
	done   chan struct{}
	once   sync.Once
}

func (c *eventClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// offer replaces whatever list the client has not sent yet.
func (c *eventClient) offer(devices []model.Device) {
	for {
		select {
		case c.latest <- devices:
			return
		default:
		}
		select {
		case <-c.latest:
		default:
		}
	}
}

func newEventHub(m Model) *eventHub {
	return &eventHub{
		model: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			Subprotocols:    []string{bearerProtocol},
		},
		clients: make(map[string]*eventClient),
	}
}

func (h *eventHub) add(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *eventHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		c.stop()
	}
}

// serve handles GET /api/events. The current device list is sent on connect
// and again after every change notification.
func (h *eventHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	all := r.URL.Query().Get("all") == "1"
	client := &eventClient{
		id:     uuid.NewString(),
		latest: make(chan []model.Device, 1),
		done:   make(chan struct{}),
	}
	if !h.add(client) {
		return
	}
	defer h.remove(client.id)

	unsubscribe := h.model.Subscribe(client.offer)
	defer unsubscribe()
	client.offer(h.model.Devices())

	log.Debug("Event subscriber connected", "client_id", client.id, "remote_addr", r.RemoteAddr)
	defer log.Debug("Event subscriber disconnected", "client_id", client.id)

	go h.readLoop(conn, client)

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		var msg EventMessage
		select {
		case <-client.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case devices := <-client.latest:
			msg = EventMessage{Type: "devices", Devices: FilterDevices(devices, all), Timestamp: time.Now()}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("Event write failed", "client_id", client.id, "error", err)
			return
		}
	}
}

// readLoop discards client messages and stops the client when the
// connection goes away.
func (h *eventHub) readLoop(conn *websocket.Conn, client *eventClient) {
	defer client.stop()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(eventReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Event subscriber closed unexpectedly", "client_id", client.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(eventReadTimeout))
	}
}
