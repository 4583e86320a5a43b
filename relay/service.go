// Package relay bridges conversation submissions from connected clients to a
// streaming completion provider and broadcasts each reply fragment to every
// connected client.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nox-hq/streamchat/completion"
	"github.com/nox-hq/streamchat/core/conversation"
	"github.com/nox-hq/streamchat/internal/logger"
	"github.com/nox-hq/streamchat/internal/metrics"
	"github.com/nox-hq/streamchat/transport"
)

// ErrUpstream wraps failures reported by the completion provider.
var ErrUpstream = errors.New("completion upstream failed")

// Broadcaster fans one event out to every connected client.
type Broadcaster interface {
	Broadcast(event string, args ...any) error
}

// EventSource is the inbound side of the channel the service listens on.
// *transport.Hub satisfies both Broadcaster and EventSource.
type EventSource interface {
	On(event string, fn transport.Handler)
	OnConnect(fn func(*transport.ServerConn))
	OnDisconnect(fn func(*transport.ServerConn))
	OnAny(fn func(*transport.ServerConn, transport.Envelope))
	Count() int
}

// Hub is the full channel surface the service needs.
type Hub interface {
	Broadcaster
	EventSource
}

// Service is the streaming relay. It is constructed once per process and
// started idempotently: only the first Start registers listeners.
type Service struct {
	provider completion.Provider
	hub      Hub
	params   completion.Params
	log      *logger.Logger
	metrics  *metrics.Metrics

	// ctx bounds every upstream call. Streams outlive the connection that
	// requested them and end only when the service shuts down.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool

	active atomic.Int32
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l.Component("relay") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithContext sets the lifetime context for upstream calls.
func WithContext(ctx context.Context) Option {
	return func(s *Service) {
		s.cancel()
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
}

// New creates a relay service. It does nothing until Start is called.
func New(provider completion.Provider, hub Hub, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		hub:      hub,
		params:   completion.DefaultParams,
		log:      logger.Nop(),
		metrics:  metrics.New(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the channel listeners. It returns true on the first call
// and false on every later call, which registers nothing.
func (s *Service) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true

	s.hub.OnConnect(func(c *transport.ServerConn) {
		s.metrics.RecordConnection(true)
		s.log.LogConnection(c.ID(), true, s.hub.Count())
	})
	s.hub.OnDisconnect(func(c *transport.ServerConn) {
		s.metrics.RecordConnection(false)
		s.log.LogConnection(c.ID(), false, s.hub.Count())
	})
	s.hub.OnAny(func(c *transport.ServerConn, env transport.Envelope) {
		s.metrics.RecordEvent(env.Event, "in")
		s.log.Debug().
			Str("conn_id", c.ID()).
			Str("event", env.Event).
			Int("args", len(env.Args)).
			Msg("inbound event")
	})
	s.hub.On(transport.EventUserMessage, s.onUserMessage)

	s.log.Info().Msg("relay started")
	return true
}

// Started reports whether Start has run.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// ActiveStreams returns the number of streams in flight.
func (s *Service) ActiveStreams() int {
	return int(s.active.Load())
}

// Shutdown cancels every in-flight upstream call and waits for the stream
// goroutines to exit or ctx to expire. Submissions that arrive afterwards
// are dropped.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onUserMessage runs on the connection's read goroutine, so the stream gets
// its own goroutine.
func (s *Service) onUserMessage(c *transport.ServerConn, args []json.RawMessage) {
	var msgs []conversation.Message
	if len(args) > 0 {
		if err := transport.Arg(args, 0, &msgs); err != nil {
			s.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("ignoring malformed user-message")
			s.metrics.StreamIgnored()
			return
		}
	}

	// wg.Add must not race the Wait in Shutdown.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug().Str("conn_id", c.ID()).Msg("relay stopped; dropping user-message")
		s.metrics.StreamIgnored()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.HandleConversation(s.ctx, msgs); err != nil {
			s.log.Error().Err(err).Str("conn_id", c.ID()).Msg("completion request failed")
		}
	}()
}

// HandleConversation streams a reply to msgs and broadcasts each fragment as
// a completion-chunk event in upstream order. An empty conversation is
// ignored. On upstream failure no final fragment is sent and the error wraps
// ErrUpstream.
func (s *Service) HandleConversation(ctx context.Context, msgs []conversation.Message) error {
	_, err := s.stream(ctx, msgs, nil)
	return err
}

// Complete is HandleConversation that also returns the assembled reply.
func (s *Service) Complete(ctx context.Context, msgs []conversation.Message) (string, error) {
	var reply []byte
	_, err := s.stream(ctx, msgs, func(delta string) {
		reply = append(reply, delta...)
	})
	return string(reply), err
}

func (s *Service) stream(ctx context.Context, msgs []conversation.Message, collect func(string)) (int, error) {
	if len(msgs) == 0 {
		s.metrics.StreamIgnored()
		s.log.Debug().Msg("ignoring empty conversation")
		return 0, nil
	}

	streamID := uuid.NewString()
	start := time.Now()
	s.active.Add(1)
	s.metrics.StreamStarted()
	s.log.Debug().
		Str("stream_id", streamID).
		Int("messages", len(msgs)).
		Msg("completion stream started")

	fragments := 0
	sawFinal := false
	err := s.provider.Stream(ctx, msgs, s.params, func(chunk completion.Chunk) error {
		if sawFinal {
			return completion.ErrStopStream
		}
		f := conversation.Fragment{Delta: chunk.Delta, Final: chunk.Final()}
		if err := s.emit(f); err != nil {
			return err
		}
		if collect != nil {
			collect(f.Delta)
		}
		fragments++
		if f.Final {
			sawFinal = true
		}
		return nil
	})
	if err == nil && !sawFinal {
		// The upstream closed cleanly without a finish reason; clients still
		// need a final fragment to commit the reply.
		err = s.emit(conversation.Fragment{Final: true})
		if err == nil {
			fragments++
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	duration := time.Since(start)
	s.active.Add(-1)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	s.metrics.StreamFinished(status, duration)
	s.log.LogStream(streamID, fragments, duration, err)
	return fragments, err
}

// emit broadcasts f as the positional (delta, final) pair clients expect.
func (s *Service) emit(f conversation.Fragment) error {
	if err := s.hub.Broadcast(transport.EventCompletionChunk, f.Delta, f.Final); err != nil {
		return fmt.Errorf("broadcasting fragment: %w", err)
	}
	s.metrics.FragmentsTotal.Inc()
	s.metrics.RecordEvent(transport.EventCompletionChunk, "out")
	return nil
}
