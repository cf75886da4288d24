package llm

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig holds configuration for the OpenRouter provider.
type OpenRouterConfig struct {
	BaseURL     string
	AppURL      string
	AppTitle    string
	MaxRetries  int
	TimeoutSecs int
}

// NewOpenRouterProvider creates an OpenRouter provider on top of the
// OpenAI-compatible client, with OpenRouter's attribution headers.
func NewOpenRouterProvider(cfg OpenRouterConfig) *OpenAIProvider {
	headers := map[string]string{}
	if cfg.AppURL != "" {
		headers["HTTP-Referer"] = cfg.AppURL
	}
	if cfg.AppTitle != "" {
		headers["X-Title"] = cfg.AppTitle
	}
	if len(headers) == 0 {
		headers = nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	p := NewOpenAIProvider(OpenAIConfig{
		Name:        "openrouter",
		BaseURL:     baseURL,
		Headers:     headers,
		MaxRetries:  cfg.MaxRetries,
		TimeoutSecs: cfg.TimeoutSecs,
	})
	p.legacyMaxTokens = true
	return p
}
