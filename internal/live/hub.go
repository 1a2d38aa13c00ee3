// Package live streams execution progress to WebSocket clients: every broker
// status transition and progress line is broadcast as a JSON event, and new
// clients receive a snapshot of current broker statuses on connect.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradecast/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Event is one message on the wire.
type Event struct {
	Type    string              `json:"type"` // "status" or "report"
	Target  string              `json:"target,omitempty"`
	Status  domain.BrokerStatus `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	At      time.Time           `json:"at"`
}

// client is a single WebSocket connection managed by the Hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages the set of connected clients and fans events out to all of
// them. A client that cannot keep up is dropped rather than blocking the
// broadcast.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu     sync.Mutex
	latest map[string]domain.BrokerStatus
}

// NewHub creates a Hub. Call Run before serving connections.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log.With("component", "live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		latest:     make(map[string]domain.BrokerStatus),
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, closing every
// client. Launch it as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*client]bool)
	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			clients[c] = true
			// The hub goroutine enqueues the snapshot itself, so an event
			// broadcast during registration is never lost between the two.
			for _, msg := range h.snapshot() {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.log.Info("client connected", "clients", len(clients))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.log.Info("client disconnected", "clients", len(clients))
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					delete(clients, c)
					close(c.send)
					h.log.Warn("dropped slow client")
				}
			}
		}
	}
}

// Status broadcasts one broker status transition and remembers it for the
// connect-time snapshot.
func (h *Hub) Status(targetName string, status domain.BrokerStatus) {
	h.mu.Lock()
	h.latest[targetName] = status
	h.mu.Unlock()
	h.emit(Event{Type: "status", Target: targetName, Status: status, At: time.Now().UTC()})
}

// Report broadcasts one progress line. Blank redraw hints are not forwarded.
func (h *Hub) Report(msg string, _ bool) {
	if msg == "" {
		return
	}
	h.emit(Event{Type: "report", Message: msg, At: time.Now().UTC()})
}

func (h *Hub) emit(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("broadcast buffer full, dropping event", "type", evt.Type)
	}
}

// snapshot renders the current status of every known broker, sorted by name,
// so a freshly connected client starts from a consistent view.
func (h *Hub) snapshot() [][]byte {
	h.mu.Lock()
	names := make([]string, 0, len(h.latest))
	for name := range h.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	events := make([][]byte, 0, len(names))
	now := time.Now().UTC()
	for _, name := range names {
		payload, err := json.Marshal(Event{Type: "status", Target: name, Status: h.latest[name], At: now})
		if err == nil {
			events = append(events, payload)
		}
	}
	h.mu.Unlock()
	return events
}

// ServeHTTP upgrades the connection and registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control messages and detect disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
