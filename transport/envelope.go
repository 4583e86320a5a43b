// Package transport implements the bidirectional event channel between the
// relay and its clients: named events with positional JSON arguments carried
// over WebSocket connections.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names used on the channel.
const (
	// EventUserMessage carries the full conversation from a client.
	// Args: [[{role, content}, ...]]
	EventUserMessage = "user-message"

	// EventCompletionChunk carries one fragment of a reply to every client.
	// Args: [delta string, isFinal bool]
	EventCompletionChunk = "completion-chunk"
)

// ErrMissingArg is returned when an event carries fewer arguments than
// requested.
var ErrMissingArg = errors.New("missing event argument")

// Envelope is the wire frame for one event.
type Envelope struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// NewEnvelope encodes args positionally.
func NewEnvelope(event string, args ...any) (Envelope, error) {
	env := Envelope{Event: event, Args: make([]json.RawMessage, len(args))}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding %s arg %d: %w", event, i, err)
		}
		env.Args[i] = raw
	}
	return env, nil
}

// Encode returns the envelope as a JSON frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a JSON frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("decoding envelope: empty event name")
	}
	return env, nil
}

// Arg decodes argument i into v.
func Arg(args []json.RawMessage, i int, v any) error {
	if i < 0 || i >= len(args) {
		return fmt.Errorf("%w %d", ErrMissingArg, i)
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return fmt.Errorf("decoding arg %d: %w", i, err)
	}
	return nil
}

// encodeFrame builds and encodes an envelope in one step.
func encodeFrame(event string, args ...any) ([]byte, error) {
	env, err := NewEnvelope(event, args...)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
