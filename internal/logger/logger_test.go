package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})

	l.Debug().Msg("hidden")
	l.Info().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["message"] != "shown" {
		t.Errorf("message = %v", lines[0]["message"])
	}
	if lines[0]["service"] != "streamchat" {
		t.Errorf("service = %v", lines[0]["service"])
	}
}

func TestSetLevel_AppliesToComponents(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Level: "info", Output: &buf})
	relay := root.Component("relay")

	relay.Debug().Msg("before")
	root.SetLevel("debug")
	relay.Debug().Msg("after")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["message"] != "after" || lines[0]["component"] != "relay" {
		t.Errorf("line = %v", lines[0])
	}
	if relay.Level() != zerolog.DebugLevel {
		t.Errorf("component level = %v, want debug", relay.Level())
	}
}

func TestLogConnection(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	l.LogConnection("abc", true, 1)
	l.LogConnection("abc", false, 0)

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["message"] != "Socket abc connected." {
		t.Errorf("connect message = %v", lines[0]["message"])
	}
	if lines[1]["message"] != "Socket abc disconnected." {
		t.Errorf("disconnect message = %v", lines[1]["message"])
	}
	if lines[1]["event"] != "disconnect" {
		t.Errorf("event = %v", lines[1]["event"])
	}
}

func TestLogStream_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	l.LogStream("s1", 3, 10*time.Millisecond, nil)
	l.LogStream("s2", 0, time.Millisecond, errors.New("upstream down"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "info" {
		t.Errorf("success level = %v", lines[0]["level"])
	}
	if lines[1]["level"] != "error" || lines[1]["error"] != "upstream down" {
		t.Errorf("failure line = %v", lines[1])
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error().Msg("discarded")
	l.Component("x").Info().Msg("discarded")
}
