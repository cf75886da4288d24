package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v3"

	"pagechat/internal/security"
)

// telegramMessageLimit stays under the 4096 character cap of the Bot API.
const telegramMessageLimit = 4000

// TelegramChannel integrates with the Telegram Bot API. Each chat is its own
// origin, so chats stream independently.
type TelegramChannel struct {
	mu      sync.Mutex
	token   string
	auth    *security.Authorizer
	bot     *tele.Bot
	handler func(InboundMessage)
	running bool
}

// TelegramConfig holds Telegram-specific configuration.
type TelegramConfig struct {
	Token      string
	AllowedIDs []int64
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	ids := make([]string, 0, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return &TelegramChannel{
		token: cfg.Token,
		auth:  security.NewAuthorizer(ids),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  t.token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	bot.Handle(tele.OnText, t.onText)

	t.bot = bot
	t.running = true

	go bot.Start()

	go func() {
		<-ctx.Done()
		_ = t.Stop(context.Background())
	}()

	return nil
}

func (t *TelegramChannel) onText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil || !t.allowed(sender.ID) {
		if sender != nil {
			log.Printf("[telegram] unauthorized user: %d (%s)", sender.ID, sender.Username)
		}
		return nil // silently ignore
	}

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler(InboundMessage{
			ChannelName: "telegram",
			SenderID:    strconv.FormatInt(sender.ID, 10),
			SenderName:  sender.FirstName + " " + sender.LastName,
			ChatID:      strconv.FormatInt(c.Chat().ID, 10),
			Text:        c.Text(),
			Timestamp:   time.Now(),
		})
	}
	return nil
}

func (t *TelegramChannel) allowed(id int64) bool {
	return t.auth.IsAllowed(strconv.FormatInt(id, 10))
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	t.mu.Lock()
	bot, running := t.bot, t.running
	t.running = false
	t.mu.Unlock()

	if bot != nil && running {
		bot.Stop()
	}
	return nil
}

func (t *TelegramChannel) Send(_ context.Context, msg OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	recipient := &tele.Chat{ID: chatID}
	for _, chunk := range splitMessage(msg.Text, telegramMessageLimit) {
		if _, err := bot.Send(recipient, chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) OnMessage(handler func(InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *TelegramChannel) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// splitMessage cuts text into pieces of at most limit runes, preferring to
// break at a newline in the second half of a piece.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		for i := cut - 1; i > cut/2; i-- {
			if text[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
