package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nox-hq/streamchat/core/conversation"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gpt-3.5-turbo"

// OpenAIProvider implements Provider using the official OpenAI Go SDK.
// It supports any OpenAI-compatible endpoint via WithBaseURL.
type OpenAIProvider struct {
	client openai.Client

	mu    sync.RWMutex
	model string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	model   string
	apiKey  string
	baseURL string
	timeout time.Duration
}

// WithModel sets the model name (default: "gpt-3.5-turbo").
func WithModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.model = model }
}

// WithAPIKey sets the API key. If empty, the SDK falls back to OPENAI_API_KEY.
func WithAPIKey(key string) OpenAIOption {
	return func(c *openaiConfig) { c.apiKey = key }
}

// WithBaseURL sets a custom base URL, enabling Ollama, vLLM, Azure, or other
// OpenAI-compatible endpoints.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithTimeout sets the per-request timeout for API calls. Zero means none.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) { c.timeout = d }
}

// NewOpenAIProvider creates an OpenAIProvider with the given options.
// Failed calls are never retried.
func NewOpenAIProvider(opts ...OpenAIOption) *OpenAIProvider {
	cfg := openaiConfig{model: DefaultModel}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &OpenAIProvider{
		client: openai.NewClient(clientOpts...),
		model:  cfg.model,
	}
}

// Model returns the model used for new streams.
func (p *OpenAIProvider) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// SetModel changes the model for streams started after the call. An empty
// name is ignored.
func (p *OpenAIProvider) SetModel(model string) {
	if model == "" {
		return
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
}

// Stream sends a streaming chat completion request and forwards each chunk
// to fn. Chunks without choices (usage trailers) are skipped.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []conversation.Message, params Params, fn ChunkFunc) error {
	req := openai.ChatCompletionNewParams{
		Model:            p.Model(),
		Messages:         toOpenAIMessages(messages),
		Temperature:      openai.Float(params.Temperature),
		MaxTokens:        openai.Int(int64(params.MaxTokens)),
		TopP:             openai.Float(params.TopP),
		FrequencyPenalty: openai.Float(params.FrequencyPenalty),
		PresencePenalty:  openai.Float(params.PresencePenalty),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, req)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		err := fn(Chunk{
			Delta:        choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		})
		if errors.Is(err, ErrStopStream) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai chat completion stream: %w", err)
	}
	return nil
}

// toOpenAIMessages converts conversation messages to the SDK union type.
func toOpenAIMessages(msgs []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case conversation.RoleSystem:
			out[i] = openai.SystemMessage(m.Content)
		case conversation.RoleUser:
			out[i] = openai.UserMessage(m.Content)
		case conversation.RoleAssistant:
			out[i] = openai.AssistantMessage(m.Content)
		default:
			out[i] = openai.UserMessage(m.Content)
		}
	}
	return out
}
