package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nox-hq/streamchat/core"
)

// watchConfig reloads the config file whenever it changes until ctx is done.
// The directory is watched rather than the file so editors that replace the
// file on save are still seen.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.watchRoot); err != nil {
		return fmt.Errorf("watching %s: %w", s.watchRoot, err)
	}
	s.log.Info().Str("path", core.ConfigPath(s.watchRoot)).Msg("watching config for changes")

	var mu sync.Mutex
	var timer *time.Timer
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	resetTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, s.reloadConfig)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != core.ConfigFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				resetTimer()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("config watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

// reloadConfig applies the live-swappable settings: completion model and
// log level. A broken file keeps the current settings.
func (s *Server) reloadConfig() {
	cfg, err := core.LoadConfig(s.watchRoot)
	if err != nil {
		s.log.Warn().Err(err).Msg("config reload failed; keeping current settings")
		return
	}
	if s.model != nil {
		s.model.SetModel(cfg.Completion.Model)
	}
	s.log.SetLevel(cfg.Log.Level)

	s.mu.Lock()
	s.cfg.Completion.Model = cfg.Completion.Model
	s.cfg.Log.Level = cfg.Log.Level
	s.mu.Unlock()

	s.log.Info().
		Str("model", cfg.Completion.Model).
		Str("log_level", cfg.Log.Level).
		Msg("config reloaded")
}
