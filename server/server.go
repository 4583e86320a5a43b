// Package server hosts the streaming relay: the HTTP bootstrap and WebSocket
// endpoints, metrics and health probes, optional config hot reload, and the
// MCP stdio surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nox-hq/streamchat/core"
	"github.com/nox-hq/streamchat/internal/logger"
	"github.com/nox-hq/streamchat/internal/metrics"
	"github.com/nox-hq/streamchat/relay"
	"github.com/nox-hq/streamchat/transport"
)

// Fixed endpoint paths. The bootstrap and socket paths are configurable.
const (
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

const shutdownTimeout = 10 * time.Second

// ModelSetter swaps the completion model at runtime.
type ModelSetter interface {
	SetModel(model string)
}

// Server owns the relay instance for the lifetime of the process.
type Server struct {
	cfg     *core.Config
	relay   *relay.Service
	hub     *transport.Hub
	log     *logger.Logger
	metrics *metrics.Metrics

	watchRoot string
	model     ModelSetter
	debounce  time.Duration

	mu       sync.Mutex
	httpAddr string
}

// Option configures a Server.
type Option func(*Server)

// WithConfigWatch reloads .streamchat.yaml under root on change, applying
// the model to setter and the log level to the server logger.
func WithConfigWatch(root string, setter ModelSetter) Option {
	return func(s *Server) {
		s.watchRoot = root
		s.model = setter
	}
}

// WithDebounce sets the config reload debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(s *Server) { s.debounce = d }
}

// NewHub builds the channel hub from the server settings.
func NewHub(cfg core.ServerSettings) *transport.Hub {
	opts := []transport.HubOption{transport.WithSendQueue(cfg.SendQueue)}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, transport.WithCheckOrigin(allowOrigins(cfg.AllowedOrigins)))
	}
	return transport.NewHub(opts...)
}

// allowOrigins accepts requests without an Origin header, which browsers
// always send and native clients do not.
func allowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// New creates a host for svc. hub must be the hub svc broadcasts on.
func New(cfg *core.Config, svc *relay.Service, hub *transport.Hub, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		relay:    svc,
		hub:      hub,
		log:      log.Component("server"),
		metrics:  m,
		debounce: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.BootstrapPath, s.handleBootstrap)
	mux.HandleFunc(s.cfg.Server.SocketPath, s.handleSocket)
	mux.Handle(MetricsPath, s.metrics.Handler())
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// handleBootstrap starts the relay on first use. Every call succeeds with an
// empty body.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := s.relay.Start()
	s.metrics.RecordBootstrap(started)
	if started {
		s.log.Info().Msg("relay started by bootstrap request")
	} else {
		s.log.Debug().Msg("relay already running")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.relay.Started() {
		http.Error(w, "relay not started", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeHTTP(w, r)
}

// Addr returns the bound HTTP address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Run starts the relay and serves until ctx is cancelled, then shuts down
// the HTTP server, the health server, the relay, and the hub.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Addr, err)
	}

	var healthLn net.Listener
	if s.cfg.Server.HealthAddr != "" {
		healthLn, err = net.Listen("tcp", s.cfg.Server.HealthAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listening on %s: %w", s.cfg.Server.HealthAddr, err)
		}
	}

	s.mu.Lock()
	s.httpAddr = ln.Addr().String()
	s.mu.Unlock()

	s.relay.Start()
	s.log.LogServerStart(ln.Addr().String(), s.cfg.Server.BootstrapPath)

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if healthLn != nil {
		hs := newHealthServer()
		g.Go(func() error {
			return hs.serve(gctx, healthLn)
		})
	}

	if s.watchRoot != "" {
		g.Go(func() error {
			return s.watchConfig(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.LogServerShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := s.hub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hub close: %w", err))
		}
		if err := s.relay.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
