package server

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nox-hq/streamchat/core/conversation"
	"github.com/nox-hq/streamchat/relay"
)

const (
	// maxOutputBytes is the maximum response size before truncation (1 MB).
	maxOutputBytes = 1 << 20

	// SeedURI names the seed conversation resource.
	SeedURI = "streamchat://seed"
)

// MCP exposes the relay to agents over stdio.
type MCP struct {
	version string
	relay   *relay.Service
	seed    []conversation.Message
}

// NewMCP creates an MCP surface for svc. seed prefixes prompt-only calls.
func NewMCP(version string, svc *relay.Service, seed []conversation.Message) *MCP {
	return &MCP{version: version, relay: svc, seed: seed}
}

// Serve starts the MCP server on stdio and blocks until the client disconnects.
func (m *MCP) Serve() error {
	return mcpserver.ServeStdio(m.newServer())
}

func (m *MCP) newServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"streamchat",
		m.version,
		mcpserver.WithRecovery(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)

	srv.AddTool(
		mcp.NewTool("complete",
			mcp.WithDescription("Stream a chat completion through the relay and return the full reply."),
			mcp.WithString("prompt",
				mcp.Description("User message appended to the seed conversation"),
			),
			mcp.WithString("messages",
				mcp.Description("Full conversation as a JSON array of {role, content}; overrides prompt"),
			),
		),
		m.handleComplete,
	)

	srv.AddResource(
		mcp.NewResource(SeedURI, "Seed conversation",
			mcp.WithResourceDescription("Conversation new chat sessions start from"),
			mcp.WithMIMEType("application/json"),
		),
		m.handleResourceSeed,
	)

	return srv
}

func (m *MCP) handleComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msgs, err := m.conversationFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := m.relay.Complete(ctx, msgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("completion failed: %v", err)), nil
	}
	return mcp.NewToolResultText(truncate(reply)), nil
}

func (m *MCP) conversationFrom(request mcp.CallToolRequest) ([]conversation.Message, error) {
	if raw := request.GetString("messages", ""); raw != "" {
		var msgs []conversation.Message
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			return nil, fmt.Errorf("invalid messages: %v", err)
		}
		if len(msgs) == 0 {
			return nil, fmt.Errorf("invalid messages: conversation is empty")
		}
		if err := conversation.Validate(msgs); err != nil {
			return nil, fmt.Errorf("invalid messages: %v", err)
		}
		return msgs, nil
	}

	prompt := request.GetString("prompt", "")
	if prompt == "" {
		return nil, fmt.Errorf("missing required argument: prompt or messages")
	}
	conv := conversation.New(m.seed)
	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: prompt})
	return conv.Messages(), nil
}

func (m *MCP) handleResourceSeed(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(m.seed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding seed: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// truncate limits output to maxOutputBytes, appending a truncation notice if needed.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [truncated: output exceeded 1MB limit]"
}
