// Package completion streams conversations through an external chat
// completion service. Replies arrive as a lazy, single-pass sequence of
// chunks handed to a callback in the order the upstream produced them.
package completion

import (
	"context"
	"errors"

	"github.com/nox-hq/streamchat/core/conversation"
)

// Finish reasons reported on the terminal chunk of a stream.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// ErrStopStream may be returned by a ChunkFunc to end a stream early
// without reporting an error.
var ErrStopStream = errors.New("stop stream")

// Chunk is one unit of streamed output.
type Chunk struct {
	Delta        string
	FinishReason string
}

// Final reports whether the chunk carries the upstream's stop condition.
// Any finish reason ends the reply, not only "stop": a reply truncated by
// the token limit is still over.
func (c Chunk) Final() bool {
	return c.FinishReason != ""
}

// Params are the generation parameters sent with every request.
type Params struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// DefaultParams is the fixed generation policy of the relay. These are not
// per-request tunables.
var DefaultParams = Params{
	Temperature:      1,
	MaxTokens:        256,
	TopP:             1,
	FrequencyPenalty: 0,
	PresencePenalty:  0,
}

// ChunkFunc receives each chunk of a stream. Returning an error aborts the
// stream; ErrStopStream aborts it without failing the call.
type ChunkFunc func(Chunk) error

// Provider is the interface for streaming completion backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Stream sends messages upstream and calls fn for each chunk in receipt
	// order. It blocks until the stream ends, fn fails, or ctx is done.
	Stream(ctx context.Context, messages []conversation.Message, params Params, fn ChunkFunc) error
}
