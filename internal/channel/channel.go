// Package channel connects chat transports (Telegram, the terminal) to the
// request router, so each chat behaves like one more foreground origin.
package channel

import (
	"context"
	"time"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ChannelName string
	SenderID    string
	SenderName  string
	ChatID      string
	Text        string
	Timestamp   time.Time
}

// OutboundMessage is a message to send through a channel.
type OutboundMessage struct {
	ChatID string
	Text   string
}

// Channel is the interface for messaging integrations.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	OnMessage(handler func(InboundMessage))
	IsRunning() bool
}

// StreamWriter is implemented by channels that can show text as it arrives.
// Channels without it receive the whole reply through Send.
type StreamWriter interface {
	WriteChunk(chatID, delta string)
	EndStream(chatID string)
}
