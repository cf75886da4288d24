package llm

import (
	"strings"
	"time"
)

// Message roles accepted as conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message. System text is never carried as a
// message; it travels in ChatRequest.SystemPrompt.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the input for a streaming chat completion.
type ChatRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"max_tokens"`
	Temperature  *float64  `json:"temperature,omitempty"` // nil = provider default
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// ModelConfig describes a model offered by a provider.
type ModelConfig struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Provider      string    `json:"provider"`
	Created       time.Time `json:"created,omitempty"`
	ContextWindow int       `json:"context_window,omitempty"`
}

// Callbacks receive the output of a stream: zero or more OnText calls, then
// exactly one of OnEnd or OnError.
type Callbacks struct {
	OnText  func(delta string)
	OnEnd   func(fullText string)
	OnError func(err error)
}

// historyMessages returns a copy of msgs without empty messages and without
// roles that are not accepted as history.
func historyMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	return out
}
