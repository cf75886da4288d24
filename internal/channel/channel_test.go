package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"pagechat/internal/coordinator"
	"pagechat/internal/eventbus"
	"pagechat/internal/llm"
	"pagechat/internal/prompt"
	"pagechat/internal/router"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	sent      []coordinator.SendRequest
	cancelled []coordinator.Origin
	sendErr   error
}

func (f *fakeCoordinator) SendPrompt(_ context.Context, _ coordinator.Origin, req coordinator.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, req)
	return "conv-9", nil
}

func (f *fakeCoordinator) CancelStream(origin coordinator.Origin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, origin)
	return true
}

func (f *fakeCoordinator) FetchModels(_ context.Context, _, _ string) ([]llm.ModelConfig, error) {
	return []llm.ModelConfig{{ID: "gpt-a"}, {ID: "gpt-b"}}, nil
}

func (f *fakeCoordinator) CapturePage(_ context.Context, url string) (*prompt.PageContext, error) {
	if strings.Contains(url, "fail") {
		return nil, errors.New("capture failed")
	}
	return &prompt.PageContext{URL: url, Title: "Docs", FullPage: "body text"}, nil
}

func (f *fakeCoordinator) lastSent(t *testing.T) coordinator.SendRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

// fakeChannel records everything sent to it and lets tests inject messages.
type fakeChannel struct {
	name    string
	mu      sync.Mutex
	handler func(InboundMessage)
	sent    chan OutboundMessage
	running bool
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, sent: make(chan OutboundMessage, 16)}
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Start(context.Context) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}
func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}
func (f *fakeChannel) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
func (f *fakeChannel) Send(_ context.Context, msg OutboundMessage) error {
	f.sent <- msg
	return nil
}
func (f *fakeChannel) OnMessage(h func(InboundMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeChannel) receive(chatID, text string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(InboundMessage{ChannelName: f.name, ChatID: chatID, Text: text})
}

func (f *fakeChannel) next(t *testing.T) OutboundMessage {
	t.Helper()
	select {
	case m := <-f.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return OutboundMessage{}
	}
}

type bridgeEnv struct {
	bus   *eventbus.Bus
	coord *fakeCoordinator
	ch    *fakeChannel
	mgr   *Manager
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	t.Helper()
	bus := eventbus.New()
	coord := &fakeCoordinator{}
	rt := router.New(coord, nil, bus)
	mgr := NewManager(NewBridge(rt))
	ch := newFakeChannel("telegram")
	mgr.Register(ch)
	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		mgr.StopAll(context.Background())
		rt.Close()
	})
	return &bridgeEnv{bus: bus, coord: coord, ch: ch, mgr: mgr}
}

func TestBridgeConversation(t *testing.T) {
	env := newBridgeEnv(t)

	env.ch.receive("42", "What is Go?")
	first := env.coord.lastSent(t)
	if first.Prompt != "What is Go?" || len(first.History) != 0 || first.ConversationID != "" {
		t.Fatalf("unexpected first request: %+v", first)
	}

	env.bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "telegram:42", Type: coordinator.PushChunk, Content: "A lang"})
	env.bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "telegram:42", Type: coordinator.PushEnd, Content: "A language.", ConversationID: "conv-9"})

	if got := env.ch.next(t); got.ChatID != "42" || got.Text != "A language." {
		t.Fatalf("unexpected reply: %+v", got)
	}

	env.ch.receive("42", "Who made it?")
	second := env.coord.lastSent(t)
	if second.ConversationID != "conv-9" {
		t.Fatalf("conversation id not carried: %q", second.ConversationID)
	}
	if len(second.History) != 2 || second.History[0].Content != "What is Go?" || second.History[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected history: %+v", second.History)
	}
}

func TestBridgeChatsAreSeparateOrigins(t *testing.T) {
	env := newBridgeEnv(t)

	env.ch.receive("1", "hello")
	env.ch.receive("2", "hello")
	env.bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "telegram:2", Type: coordinator.PushEnd, Content: "for two"})

	if got := env.ch.next(t); got.ChatID != "2" {
		t.Fatalf("reply went to chat %s", got.ChatID)
	}
}

func TestBridgeCommands(t *testing.T) {
	env := newBridgeEnv(t)

	env.ch.receive("7", "/models")
	if got := env.ch.next(t); got.Text != "gpt-a\ngpt-b" {
		t.Fatalf("models = %q", got.Text)
	}

	env.ch.receive("7", "/model gpt-b")
	env.ch.next(t)
	env.ch.receive("7", "/page https://example.com/docs")
	if got := env.ch.next(t); !strings.Contains(got.Text, `"Docs"`) {
		t.Fatalf("capture reply = %q", got.Text)
	}

	env.ch.receive("7", "summarize")
	req := env.coord.lastSent(t)
	if req.Settings.Model != "gpt-b" {
		t.Fatalf("model override = %q", req.Settings.Model)
	}
	if req.Context == nil || req.Context.FullPage != "body text" {
		t.Fatalf("page context not attached: %+v", req.Context)
	}

	env.ch.receive("7", "/cancel@pagechat_bot")
	if got := env.ch.next(t); got.Text != "Cancelled." {
		t.Fatalf("cancel reply = %q", got.Text)
	}

	env.ch.receive("7", "/page https://fail.example")
	if got := env.ch.next(t); !strings.HasPrefix(got.Text, "Error:") {
		t.Fatalf("expected capture error, got %q", got.Text)
	}
}

func TestBridgeErrors(t *testing.T) {
	env := newBridgeEnv(t)

	env.coord.sendErr = &coordinator.ConfigError{Field: "api_key", Message: "no API key configured for openai"}
	env.ch.receive("5", "hi")
	if got := env.ch.next(t); !strings.Contains(got.Text, "no API key") {
		t.Fatalf("expected config error, got %q", got.Text)
	}
	env.coord.sendErr = nil

	env.ch.receive("5", "/model gone-model")
	env.ch.next(t)
	env.ch.receive("5", "hi")
	env.bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "telegram:5", Type: coordinator.PushModelNotFound, Model: "gone-model"})
	if got := env.ch.next(t); !strings.Contains(got.Text, "gone-model") {
		t.Fatalf("expected model not found notice, got %q", got.Text)
	}

	env.ch.receive("5", "again")
	if req := env.coord.lastSent(t); req.Settings.Model != "" {
		t.Fatalf("stale model override kept: %q", req.Settings.Model)
	}

	env.bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "telegram:5", Type: coordinator.PushError, Error: "Bad request"})
	if got := env.ch.next(t); got.Text != "Error: Bad request" {
		t.Fatalf("unexpected error text %q", got.Text)
	}
}

func TestStopAllDetachesChats(t *testing.T) {
	env := newBridgeEnv(t)
	env.ch.receive("3", "hello")

	env.mgr.StopAll(context.Background())

	env.coord.mu.Lock()
	defer env.coord.mu.Unlock()
	if len(env.coord.cancelled) != 1 || env.coord.cancelled[0] != "telegram:3" {
		t.Fatalf("cancelled = %v", env.coord.cancelled)
	}
	if env.ch.IsRunning() {
		t.Fatal("channel still running")
	}
}

func TestManagerList(t *testing.T) {
	mgr := NewManager(NewBridge(nil))
	mgr.Register(newFakeChannel("telegram"))
	mgr.Register(newFakeChannel("console"))

	list := mgr.List()
	if len(list) != 2 || list[0].Name != "console" || list[1].Name != "telegram" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if _, ok := mgr.Get("telegram"); !ok {
		t.Fatal("telegram not registered")
	}
}

// syncBuffer guards a bytes.Buffer shared with the console goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsoleStreamsChunks(t *testing.T) {
	bus := eventbus.New()
	coord := &fakeCoordinator{}
	rt := router.New(coord, nil, bus)
	defer rt.Close()

	out := &syncBuffer{}
	console := NewConsoleChannel(strings.NewReader("explain\n"), out)
	bridge := NewBridge(rt)
	bridge.Connect(context.Background(), console)
	if err := console.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-console.Done()

	if req := coord.lastSent(t); req.Prompt != "explain" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "console", Type: coordinator.PushChunk, Content: "Hel"})
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "console", Type: coordinator.PushChunk, Content: "lo"})
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "console", Type: coordinator.PushEnd, Content: "Hello"})

	if got := out.String(); got != "> Hello\n\n> " {
		t.Fatalf("console output = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}

	long := strings.Repeat("é", 25)
	parts := splitMessage(long, 10)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for _, p := range parts {
		if !utf8.ValidString(p) || utf8.RuneCountInString(p) > 10 {
			t.Fatalf("bad part %q", p)
		}
	}
	if strings.Join(parts, "") != long {
		t.Fatal("parts do not reassemble")
	}

	lines := "aaaaaaa\nbbbbbbbbbb"
	parts = splitMessage(lines, 10)
	if parts[0] != "aaaaaaa\n" {
		t.Fatalf("expected break at newline, got %q", parts[0])
	}
}

func TestTelegramAllowlist(t *testing.T) {
	open := NewTelegramChannel(TelegramConfig{Token: "x"})
	if !open.allowed(99) {
		t.Fatal("empty allowlist should allow everyone")
	}
	restricted := NewTelegramChannel(TelegramConfig{Token: "x", AllowedIDs: []int64{42}})
	if !restricted.allowed(42) || restricted.allowed(43) {
		t.Fatal("allowlist not applied")
	}
}
