// Package ws streams live counting-session snapshots to browsers.
//
// Clients receive {"event":"session","data":<snapshot>} whenever a session
// they may watch changes state, and again on every keepalive interval. A
// patient watches only their own session; clinicians watch all of them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claude/rehabai/internal/session"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string           `json:"event"`
	Data  session.Snapshot `json:"data"`
}

// Feed is the source of session snapshots. *session.Manager satisfies it.
type Feed interface {
	Subscribe() (<-chan session.Snapshot, func())
	Active() []session.Snapshot
}

// Hub manages WebSocket clients and fans session snapshots out to them.
type Hub struct {
	feed     Feed
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID int
	all    bool
}

func (c *client) watches(userID int) bool {
	return c.all || c.userID == userID
}

// New creates a Hub fed by feed that re-sends active snapshots every interval.
func New(feed Feed, interval time.Duration, log *slog.Logger) *Hub {
	return &Hub{
		feed:     feed,
		interval: interval,
		log:      log,
		clients:  make(map[*client]struct{}),
	}
}

// Run forwards feed updates to clients until ctx is cancelled, then closes
// all connections.
func (h *Hub) Run(ctx context.Context) {
	updates, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap, ok := <-updates:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(snap)
		case <-t.C:
			for _, snap := range h.feed.Active() {
				h.broadcast(snap)
			}
		}
	}
}

// ServeClient upgrades the connection and streams snapshots for userID, or
// for every user when all is set. Blocks until the connection closes.
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request, userID int, all bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		userID: userID,
		all:    all,
	}

	// Prime before registering; until then nothing else can close c.send.
	for _, snap := range h.feed.Active() {
		if !c.watches(snap.UserID) {
			continue
		}
		data, err := encode(snap)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(snap session.Snapshot) {
	data, err := encode(snap)
	if err != nil {
		h.log.Error("encoding session snapshot", "error", err)
		return
	}

	// Sends happen under the read lock so unregister cannot close a
	// channel mid-send. Slow clients are removed once it is released.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.watches(snap.UserID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Debug("websocket client too slow, disconnecting", "user_id", c.userID)
		h.unregister(c)
	}
}

func encode(snap session.Snapshot) ([]byte, error) {
	return json.Marshal(Message{Event: "session", Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
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
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
