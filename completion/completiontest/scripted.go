// Package completiontest provides a scripted completion.Provider for tests.
package completiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/nox-hq/streamchat/completion"
	"github.com/nox-hq/streamchat/core/conversation"
)

// Fragments turns alternating deltas into chunks, marking the last one as
// the stop chunk.
func Fragments(deltas ...string) []completion.Chunk {
	out := make([]completion.Chunk, len(deltas))
	for i, d := range deltas {
		out[i] = completion.Chunk{Delta: d}
	}
	if len(out) > 0 {
		out[len(out)-1].FinishReason = completion.FinishStop
	}
	return out
}

// Provider replays a fixed list of chunks for every call and records the
// conversations it was given.
type Provider struct {
	Chunks []completion.Chunk

	// Err, if set, is returned after FailAfter chunks have been delivered.
	Err       error
	FailAfter int

	// Gate, if set, is received from before each chunk is delivered.
	Gate chan struct{}

	mu     sync.Mutex
	calls  [][]conversation.Message
	params []completion.Params
}

// Stream implements completion.Provider.
func (p *Provider) Stream(ctx context.Context, messages []conversation.Message, params completion.Params, fn completion.ChunkFunc) error {
	snapshot := make([]conversation.Message, len(messages))
	copy(snapshot, messages)

	p.mu.Lock()
	p.calls = append(p.calls, snapshot)
	p.params = append(p.params, params)
	p.mu.Unlock()

	for i, c := range p.Chunks {
		if p.Err != nil && i == p.FailAfter {
			return p.Err
		}
		if p.Gate != nil {
			select {
			case <-p.Gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := fn(c); err != nil {
			if errors.Is(err, completion.ErrStopStream) {
				return nil
			}
			return err
		}
	}
	if p.Err != nil {
		return p.Err
	}
	return nil
}

// Calls returns the conversations received so far.
func (p *Provider) Calls() [][]conversation.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]conversation.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

// Params returns the generation parameters received so far.
func (p *Provider) Params() []completion.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]completion.Params, len(p.params))
	copy(out, p.params)
	return out
}
