package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/engine"
)

const (
	writeWait    = 10 * time.Second
	clientBuffer = 8
)

// Message types on the websocket.
const (
	MsgSnapshot = "snapshot"
	MsgAck      = "ack"
	MsgError    = "error"
)

// ServerMessage is sent to browsers.
type ServerMessage struct {
	Type  string            `json:"type"`
	Data  *display.Snapshot `json:"data,omitempty"`
	Seq   uint64            `json:"seq,omitempty"`
	Error string            `json:"error,omitempty"`
}

// ClientMessage is a command from a browser: {"type":"hide","arg":"<id>"}.
type ClientMessage struct {
	Type string `json:"type"`
	Arg  string `json:"arg"`
	Seq  uint64 `json:"seq"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub pushes every published snapshot to the connected browsers and
// forwards their commands to the engine.
type Hub struct {
	engine   Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(e Engine) *Hub {
	return &Hub{
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  log.With().Str("component", "ws").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Handle upgrades the request, sends the current snapshot and then serves
// commands until the browser disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", h.ClientCount()).Msg("client connected")

	go h.writeLoop(c)

	snap := h.engine.Snapshot()
	h.enqueue(c, ServerMessage{Type: MsgSnapshot, Data: &snap})
	h.readLoop(r.Context(), c)
	h.drop(c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Debug().Err(err).Msg("discarding malformed message")
			continue
		}

		reply := ServerMessage{Type: MsgAck, Seq: msg.Seq}
		if err := h.engine.Do(ctx, engine.CommandKind(msg.Type), msg.Arg); err != nil {
			reply = ServerMessage{Type: MsgError, Seq: msg.Seq, Error: err.Error()}
		}
		h.enqueue(c, reply)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// enqueue drops a client whose buffer is full rather than blocking the
// publisher.
func (h *Hub) enqueue(c *client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("marshal failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		go h.drop(c)
		h.logger.Warn().Msg("slow websocket client dropped")
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Broadcast sends s to every client. It is registered on the board.
func (h *Hub) Broadcast(s display.Snapshot) {
	data, err := json.Marshal(ServerMessage{Type: MsgSnapshot, Data: &s})
	if err != nil {
		h.logger.Warn().Err(err).Msg("snapshot marshal failed")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}
