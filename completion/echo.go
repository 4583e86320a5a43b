package completion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nox-hq/streamchat/core/conversation"
)

// EchoProvider streams the latest user message back word by word. It needs
// no credentials and is meant for local runs of the relay.
type EchoProvider struct {
	// Delay is the pause before each chunk.
	Delay time.Duration
}

// Stream implements Provider.
func (e EchoProvider) Stream(ctx context.Context, messages []conversation.Message, params Params, fn ChunkFunc) error {
	var text string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			text = messages[i].Content
			break
		}
	}

	words := strings.Fields(text)
	if params.MaxTokens > 0 && len(words) > params.MaxTokens {
		words = words[:params.MaxTokens]
	}

	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		if err := e.emit(ctx, fn, Chunk{Delta: w}); err != nil {
			return stopIsNil(err)
		}
	}
	return stopIsNil(e.emit(ctx, fn, Chunk{FinishReason: FinishStop}))
}

func (e EchoProvider) emit(ctx context.Context, fn ChunkFunc, c Chunk) error {
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	return fn(c)
}

func stopIsNil(err error) error {
	if errors.Is(err, ErrStopStream) {
		return nil
	}
	return err
}
