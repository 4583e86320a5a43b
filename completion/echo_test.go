package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nox-hq/streamchat/core/conversation"
)

func collect(t *testing.T, p Provider, msgs []conversation.Message, params Params) []Chunk {
	t.Helper()
	var out []Chunk
	if err := p.Stream(context.Background(), msgs, params, func(c Chunk) error {
		out = append(out, c)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	return out
}

func TestEchoProvider_EchoesLastUserMessage(t *testing.T) {
	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: "first"},
		{Role: conversation.RoleAssistant, Content: "reply"},
		{Role: conversation.RoleUser, Content: "hello  there world"},
	}

	chunks := collect(t, EchoProvider{}, msgs, DefaultParams)

	want := []string{"hello", " there", " world", ""}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i, c := range chunks {
		if c.Delta != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, c.Delta, want[i])
		}
		if c.Final() != (i == len(want)-1) {
			t.Errorf("chunk %d Final = %v", i, c.Final())
		}
	}
}

func TestEchoProvider_MaxTokens(t *testing.T) {
	msgs := []conversation.Message{{Role: conversation.RoleUser, Content: "a b c d"}}
	chunks := collect(t, EchoProvider{}, msgs, Params{MaxTokens: 2})
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 2 words + stop", len(chunks))
	}
}

func TestEchoProvider_NoUserMessage(t *testing.T) {
	chunks := collect(t, EchoProvider{}, nil, DefaultParams)
	if len(chunks) != 1 || !chunks[0].Final() {
		t.Fatalf("chunks = %+v, want only the stop chunk", chunks)
	}
}

func TestEchoProvider_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EchoProvider{Delay: time.Second}.Stream(ctx,
		[]conversation.Message{{Role: conversation.RoleUser, Content: "a b"}},
		DefaultParams, func(Chunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
