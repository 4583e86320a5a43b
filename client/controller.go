// Package client holds the client side of a chat session: the committed
// conversation, the reply currently streaming in, and the single channel
// connection to the relay.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/nox-hq/streamchat/core/conversation"
	"github.com/nox-hq/streamchat/internal/logger"
	"github.com/nox-hq/streamchat/transport"
)

// Labels shown by Render.
const (
	TypingLabel = "assistant is typing..."
	EmptyBanner = "Enter a prompt to get started..."
)

// Default endpoint paths on the relay host.
const (
	DefaultBootstrapPath = "/api/socket"
	DefaultSocketPath    = "/socket"
)

var (
	// ErrStreamActive is returned by Submit while a reply is streaming in.
	ErrStreamActive = errors.New("a reply is still streaming")

	// ErrEmptyInput is returned by Submit for blank text.
	ErrEmptyInput = errors.New("empty input")

	// ErrNotConnected is returned by Submit before Connect.
	ErrNotConnected = errors.New("not connected to the relay")
)

// Channel is the connection the controller talks through.
// *transport.Conn satisfies it.
type Channel interface {
	Emit(event string, args ...any) error
	On(event string, fn transport.EventHandler)
	Close() error
}

// Dialer opens a channel to a ws:// URL.
type Dialer func(ctx context.Context, url string) (Channel, error)

// DefaultDialer dials with transport.Dial and its default reconnect policy.
func DefaultDialer(ctx context.Context, url string) (Channel, error) {
	return transport.Dial(ctx, url)
}

// Entry is one rendered row.
type Entry struct {
	Role    conversation.Role
	Content string

	// Label is set on the banner and streaming rows.
	Label string

	// Position is the index passed to Delete; -1 when not deletable.
	Position  int
	Deletable bool
	Streaming bool
}

// Controller owns one chat session. All methods are safe for concurrent use.
type Controller struct {
	baseURL       string
	bootstrapPath string
	socketPath    string
	httpClient    *http.Client
	dial          Dialer
	log           *logger.Logger

	// connectMu serializes Connect so a session dials at most once.
	connectMu sync.Mutex

	mu       sync.Mutex
	conv     *conversation.Conversation
	buffer   strings.Builder
	conn     Channel
	onChange []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for the bootstrap request.
func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) { ctl.httpClient = c }
}

// WithDialer replaces the channel dialer.
func WithDialer(d Dialer) Option {
	return func(ctl *Controller) { ctl.dial = d }
}

// WithBootstrapPath sets the bootstrap endpoint path.
func WithBootstrapPath(p string) Option {
	return func(ctl *Controller) { ctl.bootstrapPath = p }
}

// WithSocketPath sets the WebSocket endpoint path.
func WithSocketPath(p string) Option {
	return func(ctl *Controller) { ctl.socketPath = p }
}

// WithLogger sets the controller logger.
func WithLogger(l *logger.Logger) Option {
	return func(ctl *Controller) { ctl.log = l.Component("client") }
}

// New creates a controller for the relay at baseURL (http:// or https://),
// seeded with a copy of seed.
func New(baseURL string, seed []conversation.Message, opts ...Option) *Controller {
	c := &Controller{
		baseURL:       strings.TrimRight(baseURL, "/"),
		bootstrapPath: DefaultBootstrapPath,
		socketPath:    DefaultSocketPath,
		httpClient:    http.DefaultClient,
		dial:          DefaultDialer,
		log:           logger.Nop(),
		conv:          conversation.New(seed),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnChange registers a callback run after every state change, outside the
// controller lock.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// Connect bootstraps the relay and opens the session's channel. Later calls
// return nil without dialing again.
func (c *Controller) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}

	if err := c.bootstrap(ctx); err != nil {
		return err
	}

	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	conn.On(transport.EventCompletionChunk, c.handleChunk)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info().Str("url", wsURL).Msg("connected to relay")
	c.notify()
	return nil
}

// Connected reports whether Connect has succeeded and Close has not run.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears down the channel. The conversation is kept.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.notify()
	return conn.Close()
}

// Submit appends text as a user message and sends the whole conversation to
// the relay. It is rejected while a reply is streaming in.
func (c *Controller) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.buffer.Len() > 0 {
		c.mu.Unlock()
		return ErrStreamActive
	}
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.conv.Append(conversation.Message{Role: conversation.RoleUser, Content: text})
	msgs := c.conv.Messages()
	conn := c.conn
	c.mu.Unlock()

	c.notify()

	if err := conn.Emit(transport.EventUserMessage, msgs); err != nil {
		return fmt.Errorf("sending conversation: %w", err)
	}
	return nil
}

// Delete removes the committed message at position, counted from the first
// message after the system message. Out-of-range positions are ignored.
func (c *Controller) Delete(position int) bool {
	c.mu.Lock()
	ok := c.conv.Delete(position)
	c.mu.Unlock()

	if ok {
		c.notify()
	}
	return ok
}

// OnFragment appends delta to the streaming buffer. On the final fragment
// the buffer becomes an assistant message and is reset. Fragments are
// accepted whether or not this session has a request in flight.
func (c *Controller) OnFragment(delta string, final bool) {
	c.mu.Lock()
	c.buffer.WriteString(delta)
	if final {
		c.conv.Append(conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: c.buffer.String(),
		})
		c.buffer.Reset()
	}
	c.mu.Unlock()

	c.notify()
}

// Streaming reports whether a reply is being received.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Len() > 0
}

// Buffer returns the partial reply received so far.
func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

// Messages returns a copy of the committed conversation.
func (c *Controller) Messages() []conversation.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Messages()
}

// Render returns the rows to display: the system banner, each committed
// message with its delete position, and a trailing streaming row while a
// reply is in progress.
func (c *Controller) Render() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	banner := Entry{Role: conversation.RoleSystem, Label: EmptyBanner, Position: -1}
	if sys, ok := c.conv.System(); ok {
		banner.Content = sys.Content
		banner.Label = ""
	}

	turns := c.conv.Turns()
	out := make([]Entry, 0, len(turns)+2)
	out = append(out, banner)
	for i, m := range turns {
		out = append(out, Entry{
			Role:      m.Role,
			Content:   m.Content,
			Position:  i,
			Deletable: true,
		})
	}
	if c.buffer.Len() > 0 {
		out = append(out, Entry{
			Role:      conversation.RoleAssistant,
			Content:   c.buffer.String(),
			Label:     TypingLabel,
			Position:  -1,
			Streaming: true,
		})
	}
	return out
}

func (c *Controller) handleChunk(args []json.RawMessage) {
	var f conversation.Fragment
	if err := transport.Arg(args, 0, &f.Delta); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed completion-chunk")
		return
	}
	if err := transport.Arg(args, 1, &f.Final); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed completion-chunk")
		return
	}
	c.OnFragment(f.Delta, f.Final)
}

func (c *Controller) bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.bootstrapPath, nil)
	if err != nil {
		return fmt.Errorf("building bootstrap request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrapping relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bootstrapping relay: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Controller) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.socketPath
	return u.String(), nil
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := append([]func(){}, c.onChange...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
