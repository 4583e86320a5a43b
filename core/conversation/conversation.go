// Package conversation defines the chat data model shared by the relay and
// its clients: roles, messages, the ordered conversation, and the transient
// completion fragment carried on the wire.
package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role identifies the sender of a message in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Fragment is one incremental piece of a generated reply. Final marks the
// last fragment of the reply.
type Fragment struct {
	Delta string `json:"delta"`
	Final bool   `json:"final"`
}

// Conversation is an ordered list of messages. Insertion order is
// chronological order. It only grows by Append and only shrinks by Delete.
//
// A Conversation is not safe for concurrent use; callers serialize access.
type Conversation struct {
	messages []Message
}

// New returns a conversation holding a copy of msgs.
func New(msgs []Message) *Conversation {
	c := &Conversation{messages: make([]Message, len(msgs))}
	copy(c.messages, msgs)
	return c
}

// Append adds m to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.messages = append(c.messages, m)
}

// Delete removes the message at position, counted over the messages that
// follow the leading system message. It returns false and leaves the
// conversation unchanged when position is out of range.
func (c *Conversation) Delete(position int) bool {
	offset := c.systemOffset()
	idx := position + offset
	if position < 0 || idx >= len(c.messages) {
		return false
	}
	c.messages = append(c.messages[:idx:idx], c.messages[idx+1:]...)
	return true
}

// Messages returns a copy of all messages, system message included.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Turns returns a copy of the messages after the leading system message.
// Delete positions index into this slice.
func (c *Conversation) Turns() []Message {
	return c.Messages()[c.systemOffset():]
}

// Len returns the number of messages, system message included.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// System returns the leading system message, if any.
func (c *Conversation) System() (Message, bool) {
	if c.systemOffset() == 0 {
		return Message{}, false
	}
	return c.messages[0], true
}

func (c *Conversation) systemOffset() int {
	if len(c.messages) > 0 && c.messages[0].Role == RoleSystem {
		return 1
	}
	return 0
}

// DefaultSeed returns the conversation used when no other seed is given: a
// framing system prompt followed by one example exchange.
func DefaultSeed() []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are a ping pong machine"},
		{Role: RoleUser, Content: "Ping?"},
		{Role: RoleAssistant, Content: "Pong!"},
	}
}

// Validate checks that every message has a known role and that a system
// message, if present, only appears first.
func Validate(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		if m.Role == RoleSystem && i != 0 {
			return fmt.Errorf("message %d: system message must be first", i)
		}
	}
	return nil
}

// LoadSeed reads a seed conversation from a YAML or JSON file holding a
// list of {role, content} entries.
func LoadSeed(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("seed file is empty")
	}

	// JSON is a subset of YAML, so one decoder covers both.
	var msgs []Message
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parsing seed %s: %w", filepath.Base(path), err)
	}
	if err := Validate(msgs); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", filepath.Base(path), err)
	}
	return msgs, nil
}
