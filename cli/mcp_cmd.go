package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nox-hq/streamchat/core"
	"github.com/nox-hq/streamchat/core/conversation"
	"github.com/nox-hq/streamchat/internal/logger"
	"github.com/nox-hq/streamchat/internal/metrics"
	"github.com/nox-hq/streamchat/relay"
	"github.com/nox-hq/streamchat/server"
	"github.com/nox-hq/streamchat/transport"
)

// runMCP exposes the relay's completion path as an MCP tool on stdio.
// Stdout carries the protocol, so logs go to stderr.
func runMCP(args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	var (
		configDir string
		seedPath  string
		echo      bool
	)
	fs.StringVar(&configDir, "config", ".", "directory holding "+core.ConfigFile)
	fs.StringVar(&seedPath, "seed", "", "seed conversation prepended to bare prompts")
	fs.BoolVar(&echo, "echo", false, "reply by echoing the prompt instead of calling the completion API")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := core.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if seedPath == "" {
		seedPath = cfg.Client.Seed
	}
	seed := conversation.DefaultSeed()
	if seedPath != "" {
		if seed, err = conversation.LoadSeed(seedPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
	}

	provider, _, err := newProvider(cfg, echo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.Config{Level: cfg.Log.Level, Output: os.Stderr})
	// No sockets are served; completions broadcast to an empty hub.
	hub := transport.NewHub()
	defer func() { _ = hub.Close() }()
	svc := relay.New(provider, hub,
		relay.WithLogger(log),
		relay.WithMetrics(metrics.New()),
		relay.WithContext(ctx),
	)

	if err := server.NewMCP(version, svc, seed).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "error: MCP server failed: %v\n", err)
		return 2
	}
	return 0
}
