package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/matzehuels/diagramzoom/pkg/preview"
)

// Message types.
const (
	msgHello    = "hello"
	msgDocument = "document"
	msgExported = "exported"
	msgError    = "error"

	msgAction = "action"
	msgModal  = "modal"
	msgTheme  = "theme"
	msgResize = "resize"
	msgKey    = "key"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// message is sent from the server to clients.
type message struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	HTML  string `json:"html,omitempty"`
	Dark  bool   `json:"dark,omitempty"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// request is sent from clients to the server.
type request struct {
	Type      string `json:"type"`
	Container int    `json:"container"`
	preview.Action
	Dark   bool    `json:"dark"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Key    string  `json:"key"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// writeLoop is the only writer of conn.
func (c *client) writeLoop(logger *log.Logger) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("websocket write", "client", c.id, "err", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// hub tracks connected clients.
type hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[string]*client
}

func newHub(logger *log.Logger) *hub {
	return &hub{logger: logger, clients: make(map[string]*client)}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	go c.writeLoop(h.logger)
	h.logger.Debug("client connected", "client", c.id, "clients", n)
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("client disconnected", "client", c.id)
}

// sendTo queues msg for c. A client too slow to drain its buffer is
// dropped.
func (h *hub) sendTo(c *client, msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", "type", msg.Type, "err", err)
		return
	}
	h.queue(c, data)
}

func (h *hub) queue(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow client", "client", c.id)
		delete(h.clients, c.id)
		c.close()
	}
}

func (h *hub) broadcast(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", "type", msg.Type, "err", err)
		return
	}
	for _, c := range h.snapshot() {
		h.queue(c, data)
	}
}

func (h *hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
