package config

// Config is the top-level application configuration. It doubles as the
// user settings record read and updated by the coordinator.
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Chat     ChatConfig     `json:"chat"`
	Server   ServerConfig   `json:"server"`
	Channels ChannelsConfig `json:"channels"`
	Security SecurityConfig `json:"security"`
	Browser  BrowserConfig  `json:"browser"`
	Storage  StorageConfig  `json:"storage"`
}

type LLMConfig struct {
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	APIKeys     map[string]string `json:"api_keys,omitempty"`  // provider -> key
	BaseURLs    map[string]string `json:"base_urls,omitempty"` // provider -> endpoint override
	MaxRetries  int               `json:"max_retries"`
	TimeoutSecs int               `json:"timeout_secs"`
	AppURL      string            `json:"app_url,omitempty"`   // OpenRouter attribution
	AppTitle    string            `json:"app_title,omitempty"` // OpenRouter attribution
}

// APIKey returns the key configured for provider.
func (c LLMConfig) APIKey(provider string) string {
	return c.APIKeys[provider]
}

type ChatConfig struct {
	PersonaID     string  `json:"persona_id"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	MaxPageChars  int     `json:"max_page_chars"`
	HistoryBudget int     `json:"history_budget"` // estimated tokens, 0 = unlimited
}

type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type ChannelsConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token      string  `json:"token"`
	AllowedIDs []int64 `json:"allowed_ids,omitempty"`
}

type SecurityConfig struct {
	PIIFiltering PIIFilterConfig `json:"pii_filtering"`
}

type PIIFilterConfig struct {
	Enabled      bool `json:"enabled"`
	FilterEmails bool `json:"filter_emails"`
	FilterPhones bool `json:"filter_phones"`
	FilterCards  bool `json:"filter_cards"`
	FilterIPs    bool `json:"filter_ips"`
	FilterSSN    bool `json:"filter_ssn"`
}

type BrowserConfig struct {
	Enabled        bool     `json:"enabled"`
	Headless       bool     `json:"headless"`
	TimeoutSecs    int      `json:"timeout_secs"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	DeniedDomains  []string `json:"denied_domains,omitempty"`
	MaxPageSizeKB  int      `json:"max_page_size_kb"`
}

type StorageConfig struct {
	DBPath string `json:"db_path,omitempty"`
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.LLM.APIKeys = cloneMap(c.LLM.APIKeys)
	out.LLM.BaseURLs = cloneMap(c.LLM.BaseURLs)
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	out.Browser.AllowedDomains = append([]string(nil), c.Browser.AllowedDomains...)
	out.Browser.DeniedDomains = append([]string(nil), c.Browser.DeniedDomains...)
	if c.Channels.Telegram != nil {
		tg := *c.Channels.Telegram
		tg.AllowedIDs = append([]int64(nil), c.Channels.Telegram.AllowedIDs...)
		out.Channels.Telegram = &tg
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
