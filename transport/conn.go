package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrNotConnected is returned by Emit while the connection is down.
var ErrNotConnected = errors.New("not connected")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("connection closed")

// Default reconnect pacing: one attempt per second with a burst of 3.
const (
	defaultReconnectRate  = rate.Limit(1)
	defaultReconnectBurst = 3
)

// EventHandler handles one inbound event on a client connection. Handlers
// run sequentially on the read goroutine in arrival order.
type EventHandler func(args []json.RawMessage)

// Conn is the client side of the event channel. After the initial dial
// succeeds it reconnects in the background, paced by a rate limiter, until
// Close is called.
type Conn struct {
	url       string
	dialer    *websocket.Dialer
	limiter   *rate.Limiter
	reconnect bool
	onState   func(connected bool)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	ws       *websocket.Conn
	handlers map[string][]EventHandler

	writeMu sync.Mutex
}

// DialOption configures Dial.
type DialOption func(*Conn)

// WithReconnect enables or disables background reconnection.
func WithReconnect(enabled bool) DialOption {
	return func(c *Conn) { c.reconnect = enabled }
}

// WithReconnectRate sets how often reconnect attempts may be made.
func WithReconnectRate(limit rate.Limit, burst int) DialOption {
	return func(c *Conn) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithStateHandler registers a callback run whenever the connection goes up
// or down.
func WithStateHandler(fn func(connected bool)) DialOption {
	return func(c *Conn) { c.onState = fn }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(c *Conn) {
		dialer := *c.dialer
		dialer.HandshakeTimeout = d
		c.dialer = &dialer
	}
}

// Dial opens a connection to a ws:// or wss:// URL. The first attempt must
// succeed; later drops are retried in the background.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Conn, error) {
	c := &Conn{
		url:       url,
		dialer:    websocket.DefaultDialer,
		limiter:   rate.NewLimiter(defaultReconnectRate, defaultReconnectBurst),
		reconnect: true,
		done:      make(chan struct{}),
		handlers:  make(map[string][]EventHandler),
	}
	for _, o := range opts {
		o(c)
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setConn(ws)
	go c.run(ws)
	return c, nil
}

// On registers a handler for an inbound event.
func (c *Conn) On(event string, fn EventHandler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// Emit sends one event.
func (c *Conn) Emit(event string, args ...any) error {
	frame, err := encodeFrame(event, args...)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emitting %s: %w", event, err)
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil
}

// Done is closed once the connection has shut down for good.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down and stops reconnecting.
func (c *Conn) Close() error {
	c.cancel()

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = ws.Close()
	}

	<-c.done
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", c.url, err)
	}
	ws.SetReadLimit(maxFrameBytes)
	return ws, nil
}

func (c *Conn) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(ws != nil)
	}
}

// run owns the read side and the reconnect loop.
func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.done)

	for {
		c.readLoop(ws)
		c.setConn(nil)
		_ = ws.Close()

		if !c.reconnect {
			return
		}

		var err error
		ws, err = c.redial()
		if err != nil {
			return
		}
		c.setConn(ws)
		if c.ctx.Err() != nil {
			// Close ran between redial and setConn.
			_ = ws.Close()
			c.setConn(nil)
			return
		}
	}
}

func (c *Conn) redial() (*websocket.Conn, error) {
	for {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return nil, err
		}
		ws, err := c.dial(c.ctx)
		if err == nil {
			return ws, nil
		}
		if c.ctx.Err() != nil {
			return nil, c.ctx.Err()
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			continue
		}

		c.mu.RLock()
		handlers := append([]EventHandler{}, c.handlers[env.Event]...)
		c.mu.RUnlock()

		for _, fn := range handlers {
			fn(env.Args)
		}
	}
}
