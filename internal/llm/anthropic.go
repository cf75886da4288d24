package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is sent when the request leaves MaxTokens unset;
// the Messages API requires it.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider using the Anthropic API.
type AnthropicProvider struct {
	baseURL    string
	maxRetries int
	timeout    time.Duration
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	BaseURL     string
	MaxRetries  int
	TimeoutSecs int
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return &AnthropicProvider{
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) client(apiKey string) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(p.maxRetries),
		option.WithHTTPClient(newHTTPClient(p.timeout)),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return anthropic.NewClient(opts...)
}

func (p *AnthropicProvider) FetchModels(ctx context.Context, apiKey string) ([]ModelConfig, error) {
	client := p.client(apiKey)

	var models []ModelConfig
	iter := client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		models = append(models, ModelConfig{
			ID:       m.ID,
			Name:     m.DisplayName,
			Provider: "anthropic",
			Created:  m.CreatedAt,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, normalizeAnthropicError(err)
	}
	return SortModels(models), nil
}

func (p *AnthropicProvider) StreamChat(ctx context.Context, apiKey string, req *ChatRequest, cb Callbacks) (*StreamHandle, error) {
	client := p.client(apiKey)

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  p.convertMessages(req),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	return StartStream(ctx, cb, func(ctx context.Context, emit func(string)) error {
		stream := client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if e.Delta.Type == "text_delta" {
					emit(e.Delta.Text)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return normalizeAnthropicError(err)
		}
		return nil
	}), nil
}

func (p *AnthropicProvider) convertMessages(req *ChatRequest) []anthropic.MessageParam {
	history := historyMessages(req.Messages)
	msgs := make([]anthropic.MessageParam, 0, len(history))

	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content),
			))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(m.Content),
			))
		}
	}
	return msgs
}

func normalizeAnthropicError(err error) *LLMError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(apiErr.StatusCode, apiErr.RawJSON(), err)
	}
	if llmErr, ok := inStreamError(err); ok {
		return llmErr
	}
	return transportError(err)
}
