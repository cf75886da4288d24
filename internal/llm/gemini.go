package llm

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	baseURL string
	timeout time.Duration
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	BaseURL     string
	TimeoutSecs int
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	return &GeminiProvider{
		baseURL: cfg.BaseURL,
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(p.timeout),
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &LLMError{Type: ErrorAuth, Message: "gemini client", Err: err}
	}
	return client, nil
}

func (p *GeminiProvider) FetchModels(ctx context.Context, apiKey string) ([]ModelConfig, error) {
	client, err := p.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var models []ModelConfig
	for m, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, normalizeGeminiError(err)
		}
		if len(m.SupportedActions) > 0 && !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		models = append(models, ModelConfig{
			ID:            strings.TrimPrefix(m.Name, "models/"),
			Name:          m.DisplayName,
			Provider:      "gemini",
			ContextWindow: int(m.InputTokenLimit),
		})
	}
	return SortModels(models), nil
}

func (p *GeminiProvider) StreamChat(ctx context.Context, apiKey string, req *ChatRequest, cb Callbacks) (*StreamHandle, error) {
	client, err := p.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	contents := p.convertMessages(req)

	return StartStream(ctx, cb, func(ctx context.Context, emit func(string)) error {
		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				return normalizeGeminiError(err)
			}
			emit(resp.Text())
		}
		return nil
	}), nil
}

func (p *GeminiProvider) convertMessages(req *ChatRequest) []*genai.Content {
	history := historyMessages(req.Messages)
	contents := make([]*genai.Content, 0, len(history))

	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func normalizeGeminiError(err error) *LLMError {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr):
		apiErr = *apiErrPtr
	default:
		return transportError(err)
	}

	raw := map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
			"status":  apiErr.Status,
		},
	}
	llmErr := &LLMError{
		Type:    ErrorProvider,
		Status:  apiErr.Code,
		Raw:     raw,
		Message: ExtractMessage(raw),
		Err:     err,
	}
	if apiErr.Status == "NOT_FOUND" {
		llmErr.Status = 404
	}
	if apiErr.Code == 401 || apiErr.Code == 403 || strings.Contains(apiErr.Message, "API key not valid") {
		llmErr.Type = ErrorAuth
	}
	return llmErr
}
