package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write one frame.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes bounds inbound frames.
	maxFrameBytes = 1 << 20

	defaultSendQueue = 256
)

// ErrHubClosed is returned by Broadcast after Close.
var ErrHubClosed = errors.New("hub closed")

// Handler handles one inbound event from a connection. Handlers for a single
// connection run sequentially on that connection's read goroutine.
type Handler func(c *ServerConn, args []json.RawMessage)

// Hub accepts WebSocket connections and fans events out to all of them.
// Frames queued to one connection are written in queue order.
type Hub struct {
	upgrader  websocket.Upgrader
	sendQueue int

	mu           sync.RWMutex
	conns        map[string]*ServerConn
	handlers     map[string][]Handler
	onConnect    []func(*ServerConn)
	onDisconnect []func(*ServerConn)
	onAny        []func(*ServerConn, Envelope)
	closed       bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSendQueue sets the per-connection outbound queue length. A connection
// whose queue is full is dropped.
func WithSendQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendQueue = n
		}
	}
}

// WithCheckOrigin overrides the upgrade origin check. The default accepts
// any origin.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendQueue: defaultSendQueue,
		conns:     make(map[string]*ServerConn),
		handlers:  make(map[string][]Handler),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// On registers a handler for an inbound event.
func (h *Hub) On(event string, fn Handler) {
	h.mu.Lock()
	h.handlers[event] = append(h.handlers[event], fn)
	h.mu.Unlock()
}

// OnConnect registers a callback run after a connection is accepted.
func (h *Hub) OnConnect(fn func(*ServerConn)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

// OnDisconnect registers a callback run after a connection is gone.
func (h *Hub) OnDisconnect(fn func(*ServerConn)) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.mu.Unlock()
}

// OnAny registers a callback run for every inbound event before its
// handlers.
func (h *Hub) OnAny(fn func(*ServerConn, Envelope)) {
	h.mu.Lock()
	h.onAny = append(h.onAny, fn)
	h.mu.Unlock()
}

// Handlers returns the number of handlers registered for event.
func (h *Hub) Handlers(event string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[event])
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	c := &ServerConn{
		id:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.sendQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c.id] = c
	connectFns := append([]func(*ServerConn){}, h.onConnect...)
	h.mu.Unlock()

	for _, fn := range connectFns {
		fn(c)
	}

	go c.writeLoop()
	c.readLoop()
}

// Broadcast queues one event to every open connection.
func (h *Hub) Broadcast(event string, args ...any) error {
	frame, err := encodeFrame(event, args...)
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	conns := make([]*ServerConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(frame)
	}
	return nil
}

// Close disconnects every connection and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*ServerConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}

func (h *Hub) remove(c *ServerConn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	disconnectFns := append([]func(*ServerConn){}, h.onDisconnect...)
	h.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range disconnectFns {
		fn(c)
	}
}

func (h *Hub) dispatch(c *ServerConn, env Envelope) {
	h.mu.RLock()
	anyFns := append([]func(*ServerConn, Envelope){}, h.onAny...)
	handlers := append([]Handler{}, h.handlers[env.Event]...)
	h.mu.RUnlock()

	for _, fn := range anyFns {
		fn(c, env)
	}
	for _, fn := range handlers {
		fn(c, env.Args)
	}
}

// ServerConn is one client connection held by a Hub.
type ServerConn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the connection's unique identifier.
func (c *ServerConn) ID() string {
	return c.id
}

func (c *ServerConn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Slow consumer: dropping the connection keeps every other
		// connection's stream moving.
		c.close()
	}
}

func (c *ServerConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *ServerConn) readLoop() {
	defer func() {
		c.close()
		c.hub.remove(c)
	}()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			continue
		}
		c.hub.dispatch(c, env)
	}
}

func (c *ServerConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
