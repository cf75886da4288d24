// Package store persists conversations and user personas.
package store

import (
	"context"
	"errors"
	"time"

	"pagechat/internal/llm"
	"pagechat/internal/persona"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Conversation is one chat thread with the page it was started from.
type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	PersonaID string        `json:"personaId,omitempty"`
	PageURL   string        `json:"pageUrl,omitempty"`
	PageTitle string        `json:"pageTitle,omitempty"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ConversationSummary is a Conversation without its messages.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	PageURL      string    `json:"pageUrl,omitempty"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is the interface for persistent conversation and persona storage.
type Store interface {
	SaveConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error

	persona.Store

	Close() error
}

// TitleFrom derives a conversation title from its first user message.
func TitleFrom(msgs []llm.Message) string {
	for _, m := range msgs {
		if m.Role != llm.RoleUser || m.Content == "" {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > 60 {
			return string(runes[:60]) + "..."
		}
		return m.Content
	}
	return "New conversation"
}
