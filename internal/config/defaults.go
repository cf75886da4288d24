package config

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxRetries:  2,
			TimeoutSecs: 60,
			AppTitle:    "pagechat",
		},
		Chat: ChatConfig{
			PersonaID:     "default",
			MaxTokens:     4096,
			Temperature:   0.7,
			MaxPageChars:  20000,
			HistoryBudget: 0,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:7788",
			AllowedOrigins: []string{"chrome-extension://*", "moz-extension://*"},
		},
		Security: SecurityConfig{
			PIIFiltering: PIIFilterConfig{
				Enabled:      false,
				FilterEmails: true,
				FilterPhones: true,
				FilterCards:  true,
				FilterIPs:    false,
				FilterSSN:    true,
			},
		},
		Channels: ChannelsConfig{},
		Browser: BrowserConfig{
			Enabled:       false,
			Headless:      true,
			TimeoutSecs:   30,
			MaxPageSizeKB: 512,
		},
	}
}

// normalize replaces values a hand-edited file may get wrong with defaults.
func (c *Config) normalize() {
	d := Defaults()
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.TimeoutSecs <= 0 {
		c.LLM.TimeoutSecs = d.LLM.TimeoutSecs
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.Chat.PersonaID == "" {
		c.Chat.PersonaID = d.Chat.PersonaID
	}
	if c.Chat.MaxPageChars < 0 {
		c.Chat.MaxPageChars = d.Chat.MaxPageChars
	}
	if c.Chat.HistoryBudget < 0 {
		c.Chat.HistoryBudget = 0
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
}
