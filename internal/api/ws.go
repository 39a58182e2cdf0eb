package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a subscriber.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// refreshPeriod re-derives the health record between explicit
	// notifications, so time-driven transitions (the stale window expiring)
	// reach subscribers without a delivery event.
	refreshPeriod = 5 * time.Second

	// sendBufSize is the per-subscriber outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API binds to loopback; origin filtering belongs to a
	// reverse proxy if one is ever put in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope pushed to subscribers.
type Message struct {
	Event string         `json:"event"`
	Data  HealthResponse `json:"data"`
}

// Hub streams health records to WebSocket subscribers. Pushes are driven by
// Notify — fired on every health transition — with a slow periodic
// re-derivation underneath; a push goes out only when the record actually
// differs from the last one sent, so subscribers see transitions, not ticks.
type Hub struct {
	snapshot func() HealthResponse
	notify   chan struct{}

	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	lastSent []byte
}

// subscriber is one connected WebSocket client.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(snapshot func() HealthResponse) *Hub {
	return &Hub{
		snapshot: snapshot,
		notify:   make(chan struct{}, 1),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Notify asks the hub to push the current health record to subscribers.
// Coalesced and non-blocking, safe from any goroutine.
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Run drives the push loop until ctx is cancelled, then closes all active
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(refreshPeriod)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.notify:
			h.push()
		case <-t.C:
			h.push()
		}
	}
}

// ServeHTTP upgrades the connection and serves the subscriber. The current
// health record is sent immediately on connect; after that the subscriber
// receives transition pushes. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Hand the newcomer the current record before it joins the push set, so
	// it never waits a whole refresh period for its first data.
	if data, err := h.encode(); err == nil {
		sub.send <- data
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	defer h.drop(sub)

	go sub.writePump()
	sub.readPump() // blocks until the connection closes
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// --- internal ---------------------------------------------------------------

// push sends the current record to every subscriber if it changed since the
// last push.
func (h *Hub) push() {
	data, err := h.encode()
	if err != nil {
		return
	}

	h.mu.Lock()
	if bytes.Equal(data, h.lastSent) {
		h.mu.Unlock()
		return
	}
	h.lastSent = data
	targets := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.send <- data:
		default:
			// Subscriber's outgoing buffer is full — disconnect it.
			h.drop(sub)
		}
	}
}

func (h *Hub) encode() ([]byte, error) {
	return json.Marshal(Message{Event: "health", Data: h.snapshot()})
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		close(sub.send)
		delete(h.subs, sub)
	}
}

// writePump drains the subscriber's send channel onto the connection and
// keeps it alive with periodic ping frames. Runs in its own goroutine per
// subscriber.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub shutdown or subscriber dropped).
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes frames to process control messages (pong, close) and
// detect disconnects. Blocks until the connection closes.
func (s *subscriber) readPump() {
	defer s.conn.Close()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}
