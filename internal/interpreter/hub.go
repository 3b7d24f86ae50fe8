package interpreter

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/subtitle"
)

const (
	clientSendBuffer = 64
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingEvery  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Subtitle viewers are served from arbitrary local pages
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Event types sent to subtitle clients
const (
	EventStatus     = "status"
	EventOriginal   = "original"
	EventTranslated = "translated"
	EventSubtitle   = "subtitle"
	EventLevel      = "level"
	EventError      = "error"
	EventReset      = "reset"
	// EventClear drops the in-progress turn of a session that ended
	EventClear = "clear"
)

// Event is one message on the subtitle stream
type Event struct {
	Type    string            `json:"type"`
	Status  Status            `json:"status,omitempty"`
	Text    string            `json:"text,omitempty"`
	Message *subtitle.Message `json:"message,omitempty"`
	Level   float64           `json:"level,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Broadcaster delivers events to every subscriber
type Broadcaster interface {
	Broadcast(ev Event)
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	// joining holds live events until the initial snapshot is queued
	joining bool
	backlog []Event
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans subtitle events out to websocket clients. A client that cannot
// keep up is disconnected instead of stalling the session.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "subtitle_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Broadcast implements Broadcaster
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.joining && len(c.backlog) < clientSendBuffer {
			c.backlog = append(c.backlog, ev)
			continue
		}
		if !c.joining {
			select {
			case c.send <- data:
				continue
			default:
			}
		}
		h.logger.Warn().Msg("Subtitle client too slow, disconnecting")
		observability.RecordHubDrop()
		delete(h.clients, c)
		c.close()
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// attach registers c and queues initial() ahead of any event broadcast while
// the snapshot was being taken. Subtitles already in the snapshot are not
// repeated.
func (h *Hub) attach(c *client, initial func() []Event) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	c.joining = true
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	var events []Event
	if initial != nil {
		events = initial()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}

	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.Type == EventSubtitle && ev.Message != nil {
			seen[ev.Message.ID] = true
		}
	}
	for _, ev := range c.backlog {
		if ev.Type == EventSubtitle && ev.Message != nil && seen[ev.Message.ID] {
			continue
		}
		events = append(events, ev)
	}
	c.joining, c.backlog = false, nil

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
// initial supplies the events a new client receives first.
func (h *Hub) ServeWS(initial func() []Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client
			h.logger.Warn().Err(err).Msg("Failed to upgrade subtitle connection")
			return
		}

		c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
		if !h.attach(c, initial) {
			conn.Close()
			return
		}
		h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", h.Clients()).Msg("Subtitle client connected")

		go h.writePump(c)
		h.readPump(c)
	}
}

// readPump discards client messages and notices disconnects
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		h.logger.Debug().Msg("Subtitle client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Subtitle client read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(clientPingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
