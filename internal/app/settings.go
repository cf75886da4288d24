package app

import (
	"fmt"
	"log"
	"os"
	"sync"

	"pagechat/internal/config"
	"pagechat/internal/llm"
)

const (
	keyringPlaceholder      = "[keyring]"
	secretNameTelegramToken = "telegram_token"
)

// envKeys maps providers to the environment variables that may supply their
// API key. An environment key is used only when none is configured and is
// never written to disk or the keyring.
var envKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func secretNameLLMKey(provider string) string {
	return "llm_api_key_" + provider
}

// SecretStore is the subset of *security.KeyStore settings need.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// Settings is the persisted settings record. In memory it always holds real
// secrets; the file on disk only holds [keyring] placeholders.
type Settings struct {
	loader  *config.Loader
	secrets SecretStore // nil keeps secrets in the config file

	mu      sync.RWMutex
	cfg     *config.Config
	fromEnv map[string]string // provider -> key taken from the environment
}

// LoadSettings reads the config file and resolves its secrets. Plaintext
// secrets found in the file are migrated to the secret store.
func LoadSettings(loader *config.Loader, secrets SecretStore) (*Settings, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	s := &Settings{
		loader:  loader,
		secrets: secrets,
		cfg:     cfg,
		fromEnv: make(map[string]string),
	}
	if s.resolveSecrets() {
		if err := s.save(s.cfg); err != nil {
			log.Printf("[settings] warning: failed to save config after secret migration: %v", err)
		}
	}
	s.applyEnv()
	return s, nil
}

// Settings returns a copy of the current settings.
func (s *Settings) Settings() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// UpdateSettings applies fn to a copy of the settings and persists it.
func (s *Settings) UpdateSettings(fn func(cfg *config.Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	fn(next)
	if err := s.save(next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// SetAPIKey stores the key for provider. An empty key removes it.
func (s *Settings) SetAPIKey(provider, key string) error {
	return s.UpdateSettings(func(cfg *config.Config) {
		if cfg.LLM.APIKeys == nil {
			cfg.LLM.APIKeys = make(map[string]string)
		}
		if key == "" {
			delete(cfg.LLM.APIKeys, provider)
			return
		}
		cfg.LLM.APIKeys[provider] = key
	})
}

// resolveSecrets replaces placeholders with stored secrets and reports
// whether plaintext secrets were found that should be migrated.
func (s *Settings) resolveSecrets() (migrate bool) {
	if s.secrets == nil {
		return false
	}
	for provider, key := range s.cfg.LLM.APIKeys {
		name := secretNameLLMKey(provider)
		switch key {
		case "":
		case keyringPlaceholder:
			val, err := s.secrets.Get(name)
			if err != nil {
				log.Printf("[settings] warning: failed to read %s key from keyring: %v", provider, err)
				delete(s.cfg.LLM.APIKeys, provider)
				continue
			}
			s.cfg.LLM.APIKeys[provider] = val
		default:
			migrate = true
		}
	}

	if tg := s.cfg.Channels.Telegram; tg != nil {
		switch tg.Token {
		case "":
		case keyringPlaceholder:
			val, err := s.secrets.Get(secretNameTelegramToken)
			if err != nil {
				log.Printf("[settings] warning: failed to read Telegram token from keyring: %v", err)
				tg.Token = ""
			} else {
				tg.Token = val
			}
		default:
			migrate = true
		}
	}
	return migrate
}

// applyEnv fills missing provider keys from the environment.
func (s *Settings) applyEnv() {
	for provider, env := range envKeys {
		val := os.Getenv(env)
		if val == "" || s.cfg.LLM.APIKey(provider) != "" {
			continue
		}
		if s.cfg.LLM.APIKeys == nil {
			s.cfg.LLM.APIKeys = make(map[string]string)
		}
		s.cfg.LLM.APIKeys[provider] = val
		s.fromEnv[provider] = val
		log.Printf("[settings] using %s from environment", env)
	}
}

// save writes cfg with secrets moved to the secret store. Keys that came from
// the environment and were not changed are left out of the file.
func (s *Settings) save(cfg *config.Config) error {
	disk := cfg.Clone()
	for provider, key := range disk.LLM.APIKeys {
		if env, ok := s.fromEnv[provider]; ok && env == key {
			delete(disk.LLM.APIKeys, provider)
			continue
		}
		if key == "" || s.secrets == nil {
			continue
		}
		if err := s.secrets.Set(secretNameLLMKey(provider), key); err != nil {
			log.Printf("[settings] warning: failed to store %s key in keyring: %v", provider, err)
			continue // keep plaintext rather than losing the key
		}
		disk.LLM.APIKeys[provider] = keyringPlaceholder
	}

	if tg := disk.Channels.Telegram; tg != nil && tg.Token != "" && s.secrets != nil {
		if err := s.secrets.Set(secretNameTelegramToken, tg.Token); err != nil {
			log.Printf("[settings] warning: failed to store Telegram token in keyring: %v", err)
		} else {
			tg.Token = keyringPlaceholder
		}
	}

	if err := s.loader.Save(disk); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// maskedKeys returns the configured providers with masked keys.
func maskedKeys(cfg *config.Config, mask func(string) string) map[string]string {
	out := make(map[string]string)
	for _, p := range llm.KnownProviders {
		if key := cfg.LLM.APIKey(p); key != "" {
			out[p] = mask(key)
		}
	}
	return out
}
