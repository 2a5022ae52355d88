package monitor

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/render"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans live messages out to websocket clients. It is a render.Redrawer
// and never blocks the render goroutine: a client whose queue is full is
// disconnected.
type Hub struct {
	cfg    Config
	logger logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	dropped atomic.Uint64
}

func NewHub(cfg Config, log logger.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  log,
		clients: make(map[*client]struct{}),
	}
}

// Redraw publishes a frame to every client.
func (h *Hub) Redraw(frame render.Frame) {
	if h.Clients() == 0 {
		return
	}

	h.Broadcast(Message{Type: "frame", At: frame.At, Data: frameData(frame)})
}

func frameData(frame render.Frame) FrameData {
	leads := make(map[string][]float64, len(frame.Leads))
	for l, v := range frame.Leads {
		leads[l.String()] = v
	}

	return FrameData{Seq: frame.Seq, Leads: leads}
}

func statusData(ev acquisition.Event) StatusData {
	d := StatusData{
		Status:    ev.Status,
		SessionID: ev.SessionID,
		Elapsed:   ev.Elapsed.Seconds(),
		Reason:    string(ev.Reason),
	}
	if ev.Err != nil {
		d.Error = ev.Err.Error()
	}

	return d
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode live message")
		return
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropped.Add(1)
		h.logger.Warn().Str("client", c.id).Msg("Live client too slow, disconnecting")
		h.unregister(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// serve owns conn until the peer goes away. The first message is the
// latest frame, if any.
func (h *Hub) serve(conn *websocket.Conn, first *Message) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
	}

	if first != nil {
		if payload, err := json.Marshal(first); err == nil {
			c.send <- payload
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client", c.id).Int("clients", total).Msg("Live client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug().Str("client", c.id).Msg("Live client disconnected")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards inbound messages and keeps the read deadline alive via
// pongs.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	wait := h.cfg.PingInterval * 10 / 9
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client", c.id).Msg("Live client read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
