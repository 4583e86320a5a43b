package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nox-hq/streamchat/completion"
	"github.com/nox-hq/streamchat/core"
	"github.com/nox-hq/streamchat/internal/logger"
	"github.com/nox-hq/streamchat/internal/metrics"
	"github.com/nox-hq/streamchat/relay"
	"github.com/nox-hq/streamchat/server"
)

// echoDelay paces offline replies so they visibly stream.
const echoDelay = 50 * time.Millisecond

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var (
		addr      string
		configDir string
		watch     bool
		echo      bool
	)
	fs.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	fs.StringVar(&configDir, "config", ".", "directory holding "+core.ConfigFile)
	fs.BoolVar(&watch, "watch", false, "reload model and log level when the config file changes")
	fs.BoolVar(&echo, "echo", false, "reply by echoing the last user message instead of calling the completion API")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := core.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	provider, setter, err := newProvider(cfg, echo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	m := metrics.New()
	hub := server.NewHub(cfg.Server)
	svc := relay.New(provider, hub,
		relay.WithLogger(log),
		relay.WithMetrics(m),
		relay.WithContext(ctx),
	)

	var opts []server.Option
	if watch {
		opts = append(opts, server.WithConfigWatch(configDir, setter))
	}
	srv := server.New(cfg, svc, hub, log, m, opts...)

	fmt.Printf("[serve] streamchat %s listening on %s (bootstrap %s)\n", version, cfg.Server.Addr, cfg.Server.BootstrapPath)
	if echo {
		fmt.Println("[serve] echo mode: replies are generated locally")
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	fmt.Println("[serve] stopped")
	return 0
}

// newProvider builds the completion provider from config. The returned
// setter is nil when the provider has no swappable model.
func newProvider(cfg *core.Config, echo bool) (completion.Provider, server.ModelSetter, error) {
	if echo {
		return completion.EchoProvider{Delay: echoDelay}, nil, nil
	}

	key := cfg.Completion.APIKey()
	if key == "" {
		return nil, nil, fmt.Errorf("%s is not set (use --echo to run without a completion API)", cfg.Completion.APIKeyEnv)
	}
	timeout, err := cfg.Completion.RequestTimeout()
	if err != nil {
		return nil, nil, err
	}

	opts := []completion.OpenAIOption{
		completion.WithAPIKey(key),
		completion.WithModel(cfg.Completion.Model),
	}
	if cfg.Completion.BaseURL != "" {
		opts = append(opts, completion.WithBaseURL(cfg.Completion.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, completion.WithTimeout(timeout))
	}
	p := completion.NewOpenAIProvider(opts...)
	return p, p, nil
}
