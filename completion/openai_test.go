package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nox-hq/streamchat/core/conversation"
)

// sseServer serves the given chunk payloads as an OpenAI-style event stream
// and stores the decoded request body.
func sseServer(t *testing.T, chunks []map[string]any, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotBody != nil {
			if err := json.NewDecoder(r.Body).Decode(gotBody); err != nil {
				t.Errorf("decoding request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			data, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func chunkPayload(content string, finish any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion.chunk",
		"created": 1234567890,
		"model":   "gpt-3.5-turbo",
		"choices": []map[string]any{
			{
				"index":         0,
				"delta":         map[string]any{"content": content},
				"finish_reason": finish,
			},
		},
	}
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p := NewOpenAIProvider()
	if p.Model() != "gpt-3.5-turbo" {
		t.Fatalf("expected default model %q, got %q", "gpt-3.5-turbo", p.Model())
	}
}

func TestNewOpenAIProvider_AllOptions(t *testing.T) {
	p := NewOpenAIProvider(
		WithModel("gpt-4o-mini"),
		WithAPIKey("sk-test-key"),
		WithBaseURL("http://localhost:8080/v1"),
		WithTimeout(10*time.Second),
	)
	if p.Model() != "gpt-4o-mini" {
		t.Fatalf("expected model %q, got %q", "gpt-4o-mini", p.Model())
	}
}

func TestSetModel(t *testing.T) {
	p := NewOpenAIProvider()
	p.SetModel("gpt-4o")
	if p.Model() != "gpt-4o" {
		t.Fatalf("Model = %q after SetModel", p.Model())
	}
	p.SetModel("")
	if p.Model() != "gpt-4o" {
		t.Fatalf("empty SetModel changed model to %q", p.Model())
	}
}

func TestOpenAIProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*OpenAIProvider)(nil)
	var _ Provider = EchoProvider{}
}

func TestToOpenAIMessages_AllRoles(t *testing.T) {
	msgs := toOpenAIMessages([]conversation.Message{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: "u"},
		{Role: conversation.RoleAssistant, Content: "a"},
		{Role: conversation.Role("custom"), Content: "c"},
	})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if len(toOpenAIMessages(nil)) != 0 {
		t.Fatal("expected no messages for nil input")
	}
}

func TestStream_DeliversChunksInOrder(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []map[string]any{
		chunkPayload("Po", nil),
		chunkPayload("ng!", nil),
		chunkPayload("", "stop"),
	}, &body)
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	var got []Chunk
	err := p.Stream(context.Background(), []conversation.Message{
		{Role: conversation.RoleSystem, Content: "You are a ping pong machine"},
		{Role: conversation.RoleUser, Content: "Ping?"},
	}, DefaultParams, func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(got), got)
	}
	var text strings.Builder
	for i, c := range got {
		text.WriteString(c.Delta)
		if c.Final() != (i == 2) {
			t.Errorf("chunk %d Final = %v", i, c.Final())
		}
	}
	if text.String() != "Pong!" {
		t.Errorf("assembled %q, want %q", text.String(), "Pong!")
	}

	if body["stream"] != true {
		t.Errorf("request stream = %v, want true", body["stream"])
	}
	if body["model"] != "gpt-3.5-turbo" {
		t.Errorf("request model = %v", body["model"])
	}
	wantParams := map[string]float64{
		"temperature":       1,
		"max_tokens":        256,
		"top_p":             1,
		"frequency_penalty": 0,
		"presence_penalty":  0,
	}
	for k, want := range wantParams {
		v, ok := body[k].(float64)
		if !ok || v != want {
			t.Errorf("request %s = %v, want %v", k, body[k], want)
		}
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("request carried %d messages, want 2", len(msgs))
	}
}

func TestStream_SkipsChunksWithoutChoices(t *testing.T) {
	usage := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion.chunk",
		"created": 1234567890,
		"model":   "gpt-3.5-turbo",
		"choices": []map[string]any{},
	}
	srv := sseServer(t, []map[string]any{
		chunkPayload("hi", "stop"),
		usage,
	}, nil)
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	count := 0
	err := p.Stream(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "x"}},
		DefaultParams, func(Chunk) error {
			count++
			return nil
		})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
}

func TestStream_CallbackErrorAborts(t *testing.T) {
	srv := sseServer(t, []map[string]any{
		chunkPayload("a", nil),
		chunkPayload("b", nil),
		chunkPayload("", "stop"),
	}, nil)
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	boom := errors.New("listener gone")
	count := 0
	err := p.Stream(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "x"}},
		DefaultParams, func(Chunk) error {
			count++
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if count != 1 {
		t.Errorf("callback ran %d times after failing, want 1", count)
	}
}

func TestStream_StopStreamIsNotAnError(t *testing.T) {
	srv := sseServer(t, []map[string]any{
		chunkPayload("a", nil),
		chunkPayload("b", nil),
	}, nil)
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))
	err := p.Stream(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "x"}},
		DefaultParams, func(Chunk) error { return ErrStopStream })
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
}

func TestStream_APIErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "server error", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	called := false
	err := p.Stream(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "x"}},
		DefaultParams, func(Chunk) error {
			called = true
			return nil
		})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "openai chat completion stream") {
		t.Errorf("error = %q, want wrapped stream error", err.Error())
	}
	if called {
		t.Error("callback ran for a failed request")
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want exactly 1 (no retries)", hits.Load())
	}
}

func TestChunkFinal(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{"", false},
		{FinishStop, true},
		{FinishLength, true},
		{FinishContentFilter, true},
	}
	for _, tt := range tests {
		if got := (Chunk{FinishReason: tt.reason}).Final(); got != tt.want {
			t.Errorf("Final(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}
