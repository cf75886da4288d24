package coordinator

import (
	"context"
	"errors"
	"time"

	"pagechat/internal/config"
	"pagechat/internal/eventbus"
	"pagechat/internal/llm"
	"pagechat/internal/prompt"
	"pagechat/internal/store"
)

// PushType tags a message sent to a foreground origin.
type PushType string

const (
	PushChunk         PushType = "streamChunk"
	PushEnd           PushType = "streamEnd"
	PushError         PushType = "streamError"
	PushModelNotFound PushType = "modelNotFound"
)

// Push is an asynchronous update addressed to one origin.
type Push struct {
	Origin         Origin   `json:"-"`
	Type           PushType `json:"type"`
	Content        string   `json:"content,omitempty"`
	Error          string   `json:"error,omitempty"`
	Model          string   `json:"model,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
}

// Outcome is how a stream ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeFailed        Outcome = "failed"
	OutcomeModelNotFound Outcome = "model_not_found"
)

// StreamEvent is the payload of the stream lifecycle topics.
type StreamEvent struct {
	Origin   Origin
	Provider string
	Model    string
	Outcome  Outcome       // empty on stream_started
	Duration time.Duration // zero on stream_started
	Chars    int
}

// Overrides are per-request settings that take precedence over the stored
// ones. API keys are never accepted here.
type Overrides struct {
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	PersonaID    string   `json:"personaId,omitempty"`
	SystemPrompt *string  `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"maxTokens,omitempty"`
}

// SendRequest is one prompt from a foreground origin.
type SendRequest struct {
	Prompt         string
	Context        *prompt.PageContext
	History        []llm.Message
	ConversationID string
	Settings       Overrides
}

// ErrStreamActive is returned when the origin already has a stream running.
var ErrStreamActive = errors.New("a response is already streaming for this origin")

// ConfigError reports missing or invalid settings detected before any
// provider call is made.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Message
}

// SettingsStore reads and updates the persisted settings.
type SettingsStore interface {
	Settings() *config.Config
	UpdateSettings(fn func(cfg *config.Config)) error
}

// ProviderSource looks up providers by id.
type ProviderSource interface {
	Get(name string) (llm.Provider, bool)
}

// PersonaCatalog resolves a persona id to its system prompt.
type PersonaCatalog interface {
	SystemPrompt(ctx context.Context, id string) string
}

// ConversationStore persists completed exchanges.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	SaveConversation(ctx context.Context, c *store.Conversation) error
}

// Publisher delivers events to subscribers. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(topic eventbus.Topic, payload any)
}

// Redactor masks sensitive data in page text before it leaves the machine.
type Redactor interface {
	Redact(text string) string
}

// PageCapturer loads a page and extracts its context.
type PageCapturer interface {
	Capture(ctx context.Context, url string) (*prompt.PageContext, error)
}
