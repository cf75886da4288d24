package channel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"pagechat/internal/coordinator"
	"pagechat/internal/llm"
	"pagechat/internal/prompt"
	"pagechat/internal/router"
)

const maxListedModels = 30

const helpText = `Send any message to ask the model.
/page <url> - capture a page and use it as context
/new - start a new conversation
/cancel - stop the current reply
/models - list available models
/model <id> - use a model for this chat
/personas - list personas
/persona <id> - use a persona for this chat`

// Dispatcher is the part of *router.Router a bridge needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, origin coordinator.Origin, req router.Request, respond func(router.Response)) bool
	Attach(origin coordinator.Origin, sink router.Sink) (detach func())
	Detach(origin coordinator.Origin)
}

// Bridge turns channel messages into router requests and delivers stream
// pushes back to the chat they came from.
type Bridge struct {
	router Dispatcher

	mu    sync.Mutex
	chats map[coordinator.Origin]*chat
}

// chat is the per-conversation state a browser tab would otherwise keep.
type chat struct {
	ch     Channel
	chatID string

	mu        sync.Mutex
	convID    string
	history   []llm.Message
	page      *prompt.PageContext
	overrides coordinator.Overrides
	pending   string
}

// NewBridge creates a bridge dispatching to r.
func NewBridge(r Dispatcher) *Bridge {
	return &Bridge{
		router: r,
		chats:  make(map[coordinator.Origin]*chat),
	}
}

// Connect routes messages of ch through the bridge.
func (b *Bridge) Connect(ctx context.Context, ch Channel) {
	ch.OnMessage(func(msg InboundMessage) {
		b.handle(ctx, ch, msg)
	})
}

// Close detaches every chat origin, cancelling their streams.
func (b *Bridge) Close() {
	b.mu.Lock()
	origins := make([]coordinator.Origin, 0, len(b.chats))
	for o := range b.chats {
		origins = append(origins, o)
	}
	b.chats = make(map[coordinator.Origin]*chat)
	b.mu.Unlock()

	for _, o := range origins {
		b.router.Detach(o)
	}
}

// OriginFor returns the origin of a chat on ch.
func OriginFor(ch Channel, chatID string) coordinator.Origin {
	if chatID == "" {
		return coordinator.Origin(ch.Name())
	}
	return coordinator.Origin(ch.Name() + ":" + chatID)
}

func (b *Bridge) chat(ch Channel, chatID string) (coordinator.Origin, *chat) {
	origin := OriginFor(ch, chatID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[origin]; ok {
		return origin, c
	}
	c := &chat{ch: ch, chatID: chatID}
	b.chats[origin] = c
	b.router.Attach(origin, router.SinkFunc(c.deliver))
	return origin, c
}

func (b *Bridge) handle(ctx context.Context, ch Channel, msg InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	origin, c := b.chat(ch, msg.ChatID)

	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	// Telegram appends the bot name in groups: /cancel@pagechat_bot.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start", "/help":
		c.reply(ctx, helpText)
	case "/new":
		c.reset()
		c.reply(ctx, "Started a new conversation.")
	case "/cancel":
		b.router.Dispatch(ctx, origin, router.Request{Type: router.TypeCancelStream}, func(router.Response) {})
		c.reply(ctx, "Cancelled.")
	case "/models":
		b.router.Dispatch(ctx, origin, router.Request{Type: router.TypeFetchModels, Provider: c.provider()}, func(resp router.Response) {
			if !resp.Success {
				c.reply(ctx, "Error: "+resp.Error)
				return
			}
			c.reply(ctx, formatModels(resp.Models))
		})
	case "/model":
		c.setModel(arg)
		if arg == "" {
			c.reply(ctx, "Using the default model.")
		} else {
			c.reply(ctx, "Using model "+arg+".")
		}
	case "/personas":
		b.router.Dispatch(ctx, origin, router.Request{Type: router.TypeListPersonas}, func(resp router.Response) {
			if !resp.Success {
				c.reply(ctx, "Error: "+resp.Error)
				return
			}
			var sb strings.Builder
			for _, p := range resp.Personas {
				fmt.Fprintf(&sb, "%s %s (%s)\n", p.Icon, p.Name, p.ID)
			}
			c.reply(ctx, strings.TrimSpace(sb.String()))
		})
	case "/persona":
		c.mu.Lock()
		c.overrides.PersonaID = arg
		c.mu.Unlock()
		c.reply(ctx, "Persona set.")
	case "/page":
		if arg == "" {
			c.reply(ctx, "Usage: /page <url>")
			return
		}
		b.router.Dispatch(ctx, origin, router.Request{Type: router.TypeCapturePage, URL: arg}, func(resp router.Response) {
			if !resp.Success {
				c.reply(ctx, "Error: "+resp.Error)
				return
			}
			c.mu.Lock()
			c.page = resp.Context
			c.mu.Unlock()
			title := resp.Context.Title
			if title == "" {
				title = resp.Context.URL
			}
			c.reply(ctx, fmt.Sprintf("Captured %q (%d chars). Ask away.", title, len(resp.Context.FullPage)))
		})
	default:
		b.send(ctx, origin, c, text)
	}
}

func (b *Bridge) send(ctx context.Context, origin coordinator.Origin, c *chat, text string) {
	c.mu.Lock()
	req := router.Request{
		Type:                router.TypeSendPrompt,
		Prompt:              text,
		Context:             c.page,
		ConversationHistory: append([]llm.Message(nil), c.history...),
		ConversationID:      c.convID,
		Settings:            c.overrides,
	}
	// The reply may end before the ack arrives.
	prev := c.pending
	c.pending = text
	c.mu.Unlock()

	b.router.Dispatch(ctx, origin, req, func(resp router.Response) {
		if !resp.Success {
			if resp.ErrorKind == "busy" {
				c.mu.Lock()
				c.pending = prev
				c.mu.Unlock()
			} else {
				c.clearPending()
			}
			c.reply(ctx, "Error: "+resp.Error)
			return
		}
		c.mu.Lock()
		c.convID = resp.ConversationID
		c.mu.Unlock()
	})
}

func (c *chat) deliver(p coordinator.Push) error {
	ctx := context.Background()
	sw, streams := c.ch.(StreamWriter)

	switch p.Type {
	case coordinator.PushChunk:
		if streams {
			sw.WriteChunk(c.chatID, p.Content)
		}
		return nil

	case coordinator.PushEnd:
		c.mu.Lock()
		c.history = append(c.history,
			llm.Message{Role: llm.RoleUser, Content: c.pending},
			llm.Message{Role: llm.RoleAssistant, Content: p.Content},
		)
		c.pending = ""
		if p.ConversationID != "" {
			c.convID = p.ConversationID
		}
		c.mu.Unlock()
		if streams {
			sw.EndStream(c.chatID)
			return nil
		}
		return c.ch.Send(ctx, OutboundMessage{ChatID: c.chatID, Text: p.Content})

	case coordinator.PushError:
		c.clearPending()
		if streams {
			sw.EndStream(c.chatID)
		}
		return c.ch.Send(ctx, OutboundMessage{ChatID: c.chatID, Text: "Error: " + p.Error})

	case coordinator.PushModelNotFound:
		c.clearPending()
		c.mu.Lock()
		if c.overrides.Model == p.Model {
			c.overrides.Model = ""
		}
		c.mu.Unlock()
		if streams {
			sw.EndStream(c.chatID)
		}
		return c.ch.Send(ctx, OutboundMessage{
			ChatID: c.chatID,
			Text:   fmt.Sprintf("Model %q is not available. Pick another with /models and /model <id>.", p.Model),
		})
	}
	return nil
}

func (c *chat) reply(ctx context.Context, text string) {
	if err := c.ch.Send(ctx, OutboundMessage{ChatID: c.chatID, Text: text}); err != nil {
		log.Printf("[channel] %s reply to %s: %v", c.ch.Name(), c.chatID, err)
	}
}

func (c *chat) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convID = ""
	c.history = nil
	c.page = nil
	c.pending = ""
}

func (c *chat) clearPending() {
	c.mu.Lock()
	c.pending = ""
	c.mu.Unlock()
}

func (c *chat) setModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides.Model = model
}

func (c *chat) provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overrides.Provider
}

func formatModels(models []llm.ModelConfig) string {
	if len(models) == 0 {
		return "No models available."
	}
	var sb strings.Builder
	for i, m := range models {
		if i == maxListedModels {
			fmt.Fprintf(&sb, "... and %d more", len(models)-maxListedModels)
			break
		}
		sb.WriteString(m.ID)
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}
