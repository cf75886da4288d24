package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the OpenAI Chat Completions API.
// Also works with compatible APIs (OpenRouter, Ollama, vLLM) via BaseURL.
type OpenAIProvider struct {
	name       string
	baseURL    string
	headers    map[string]string
	maxRetries int
	timeout    time.Duration
	// legacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// which most compatible backends still expect.
	legacyMaxTokens bool
	// filterModels drops non-chat models (embeddings, audio, images).
	filterModels bool
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	Name        string
	BaseURL     string
	Headers     map[string]string
	MaxRetries  int
	TimeoutSecs int
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:         name,
		baseURL:      cfg.BaseURL,
		headers:      cfg.Headers,
		maxRetries:   cfg.MaxRetries,
		timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		filterModels: name == "openai",
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) client(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(p.maxRetries),
		option.WithHTTPClient(newHTTPClient(p.timeout)),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	for k, v := range p.headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return openai.NewClient(opts...)
}

func (p *OpenAIProvider) FetchModels(ctx context.Context, apiKey string) ([]ModelConfig, error) {
	client := p.client(apiKey)

	var models []ModelConfig
	iter := client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		if p.filterModels && !isOpenAIChatModel(m.ID) {
			continue
		}
		mc := ModelConfig{ID: m.ID, Provider: p.name}
		if m.Created > 0 {
			mc.Created = time.Unix(m.Created, 0).UTC()
		}
		// OpenRouter adds a display name and context length to each entry.
		var extra struct {
			Name          string `json:"name"`
			ContextLength int    `json:"context_length"`
		}
		if raw := m.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &extra) == nil {
			mc.Name = extra.Name
			mc.ContextWindow = extra.ContextLength
		}
		models = append(models, mc)
	}
	if err := iter.Err(); err != nil {
		return nil, normalizeOpenAIError(err)
	}
	return SortModels(models), nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, apiKey string, req *ChatRequest, cb Callbacks) (*StreamHandle, error) {
	client := p.client(apiKey)

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: p.convertMessages(req),
	}
	if req.MaxTokens > 0 {
		if p.legacyMaxTokens {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	return StartStream(ctx, cb, func(ctx context.Context, emit func(string)) error {
		stream := client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				emit(chunk.Choices[0].Delta.Content)
			}
		}
		if err := stream.Err(); err != nil {
			return normalizeOpenAIError(err)
		}
		return nil
	}), nil
}

func (p *OpenAIProvider) convertMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	history := historyMessages(req.Messages)
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)

	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	return msgs
}

func normalizeOpenAIError(err error) *LLMError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(apiErr.StatusCode, apiErr.RawJSON(), err)
	}
	if llmErr, ok := inStreamError(err); ok {
		return llmErr
	}
	return transportError(err)
}

var openAINonChatPrefixes = []string{
	"text-embedding", "embedding", "whisper", "tts", "dall-e", "davinci",
	"babbage", "omni-moderation", "text-moderation", "gpt-image", "sora",
}

func isOpenAIChatModel(id string) bool {
	lower := strings.ToLower(id)
	for _, prefix := range openAINonChatPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return !strings.Contains(lower, "realtime") && !strings.Contains(lower, "transcribe")
}
