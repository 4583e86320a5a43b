// Package logger provides structured logging for the streamchat relay.
package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with relay-specific helpers. Loggers derived with
// Component share their parent's level, so SetLevel applies to all of them.
type Logger struct {
	zlog  zerolog.Logger
	level *atomic.Int32
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// levelHook drops events below the shared dynamic level.
type levelHook struct {
	level *atomic.Int32
}

func (h levelHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.Level(h.level.Load()) {
		e.Discard()
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new structured logger.
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := &atomic.Int32{}
	level.Store(int32(ParseLevel(cfg.Level)))

	zlog := zerolog.New(output).
		Hook(levelHook{level: level}).
		With().
		Timestamp().
		Str("service", "streamchat").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog, level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	level := &atomic.Int32{}
	level.Store(int32(zerolog.Disabled))
	return &Logger{zlog: zerolog.Nop(), level: level}
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *Logger) SetLevel(name string) {
	l.level.Store(int32(ParseLevel(name)))
}

// Level returns the current level.
func (l *Logger) Level() zerolog.Level {
	return zerolog.Level(l.level.Load())
}

// Component returns a logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Str("component", name).Logger(),
		level: l.level,
	}
}

// Debug starts a debug event.
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Info starts an info event.
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Warn starts a warning event.
func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

// Error starts an error event.
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// LogConnection logs a connect or disconnect transition.
func (l *Logger) LogConnection(connID string, connected bool, active int) {
	event := "disconnect"
	if connected {
		event = "connect"
	}
	l.zlog.Info().
		Str("event", event).
		Str("conn_id", connID).
		Int("active", active).
		Msgf("Socket %s %sed.", connID, event)
}

// LogStream logs the end of one completion stream.
func (l *Logger) LogStream(streamID string, fragments int, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("stream_id", streamID).
		Int("fragments", fragments).
		Dur("duration_ms", duration).
		Msg("completion stream finished")
}

// LogServerStart logs server startup.
func (l *Logger) LogServerStart(addr, bootstrapPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("addr", addr).
		Str("bootstrap_path", bootstrapPath).
		Msg("streamchat relay starting")
}

// LogServerShutdown logs server shutdown.
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("streamchat relay shutting down")
}
