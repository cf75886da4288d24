package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pagechat/internal/coordinator"
	"pagechat/internal/eventbus"
	"pagechat/internal/llm"
	"pagechat/internal/prompt"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	sent      []coordinator.SendRequest
	cancelled []coordinator.Origin
	sendErr   error
	modelsErr error
}

func (f *fakeCoordinator) SendPrompt(ctx context.Context, origin coordinator.Origin, req coordinator.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, req)
	return "conv-1", nil
}

func (f *fakeCoordinator) CancelStream(origin coordinator.Origin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, origin)
	return true
}

func (f *fakeCoordinator) FetchModels(ctx context.Context, provider, apiKey string) ([]llm.ModelConfig, error) {
	if f.modelsErr != nil {
		return nil, f.modelsErr
	}
	return []llm.ModelConfig{{ID: provider + "-model"}}, nil
}

func (f *fakeCoordinator) CapturePage(ctx context.Context, url string) (*prompt.PageContext, error) {
	return &prompt.PageContext{URL: url, Title: "Captured"}, nil
}

func collect(t *testing.T) (func(Response), func() Response) {
	ch := make(chan Response, 4)
	wait := func() Response {
		t.Helper()
		select {
		case r := <-ch:
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("no response")
			return Response{}
		}
	}
	return func(r Response) { ch <- r }, wait
}

func TestSendPromptAck(t *testing.T) {
	fc := &fakeCoordinator{}
	r := New(fc, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	async := r.Dispatch(context.Background(), "ws:1", Request{
		ID:     "7",
		Type:   TypeSendPrompt,
		Prompt: "hi",
		ConversationHistory: []llm.Message{
			{Role: llm.RoleUser, Content: "before"},
		},
		Settings: coordinator.Overrides{Model: "m"},
	}, respond)
	if async {
		t.Fatal("sendPrompt must be acknowledged synchronously")
	}
	resp := wait()
	if !resp.Success || resp.ID != "7" || resp.Type != "response" || resp.ConversationID != "conv-1" {
		t.Fatalf("response = %+v", resp)
	}
	if len(fc.sent) != 1 || fc.sent[0].Settings.Model != "m" || len(fc.sent[0].History) != 1 {
		t.Fatalf("forwarded = %+v", fc.sent)
	}
}

func TestSendPromptRejected(t *testing.T) {
	fc := &fakeCoordinator{sendErr: coordinator.ErrStreamActive}
	r := New(fc, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	r.Dispatch(context.Background(), "ws:1", Request{Type: TypeSendPrompt, Prompt: "hi"}, respond)
	resp := wait()
	if resp.Success || resp.ErrorKind != "busy" {
		t.Fatalf("response = %+v", resp)
	}

	fc.sendErr = &coordinator.ConfigError{Field: "api_key", Message: "no API key configured for openai"}
	r.Dispatch(context.Background(), "ws:1", Request{Type: TypeSendPrompt, Prompt: "hi"}, respond)
	resp = wait()
	if resp.Success || resp.ErrorKind != "config" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCancelStreamAck(t *testing.T) {
	fc := &fakeCoordinator{}
	r := New(fc, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	if r.Dispatch(context.Background(), "ws:9", Request{Type: TypeCancelStream}, respond) {
		t.Fatal("cancelStream must be synchronous")
	}
	if resp := wait(); !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
	if len(fc.cancelled) != 1 || fc.cancelled[0] != "ws:9" {
		t.Fatalf("cancelled = %v", fc.cancelled)
	}
}

func TestFetchModelsIsAsync(t *testing.T) {
	fc := &fakeCoordinator{}
	r := New(fc, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	if !r.Dispatch(context.Background(), "ws:1", Request{Type: TypeFetchModels, Provider: "gemini"}, respond) {
		t.Fatal("fetchModels must keep the channel open")
	}
	resp := wait()
	if !resp.Success || len(resp.Models) != 1 || resp.Models[0].ID != "gemini-model" {
		t.Fatalf("response = %+v", resp)
	}

	fc.modelsErr = &llm.LLMError{Type: llm.ErrorAuth, Status: 401, Message: "bad key"}
	r.Dispatch(context.Background(), "ws:1", Request{Type: TypeFetchModels}, respond)
	resp = wait()
	if resp.Success || resp.ErrorKind != "auth" || resp.Error != "bad key" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCapturePageAndPersonas(t *testing.T) {
	r := New(&fakeCoordinator{}, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	r.Dispatch(context.Background(), "ws:1", Request{Type: TypeCapturePage, URL: "https://example.com"}, respond)
	if resp := wait(); !resp.Success || resp.Context.URL != "https://example.com" {
		t.Fatalf("response = %+v", resp)
	}

	r.Dispatch(context.Background(), "ws:1", Request{Type: TypeListPersonas}, respond)
	if resp := wait(); !resp.Success || len(resp.Personas) == 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestUnknownRequest(t *testing.T) {
	r := New(&fakeCoordinator{}, nil, eventbus.New())
	defer r.Close()

	respond, wait := collect(t)
	r.Dispatch(context.Background(), "ws:1", Request{Type: "bogus"}, respond)
	if resp := wait(); resp.Success || resp.ErrorKind != "request" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestPushesReachOnlyTheirOrigin(t *testing.T) {
	bus := eventbus.New()
	r := New(&fakeCoordinator{}, nil, bus)
	defer r.Close()

	var mu sync.Mutex
	got := map[coordinator.Origin][]coordinator.Push{}
	sink := func(origin coordinator.Origin) Sink {
		return SinkFunc(func(p coordinator.Push) error {
			mu.Lock()
			defer mu.Unlock()
			got[origin] = append(got[origin], p)
			return nil
		})
	}
	r.Attach("a", sink("a"))
	r.Attach("b", sink("b"))

	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "a", Type: coordinator.PushChunk, Content: "x"})
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "b", Type: coordinator.PushEnd, Content: "y"})
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "gone", Type: coordinator.PushEnd})

	mu.Lock()
	defer mu.Unlock()
	if len(got["a"]) != 1 || got["a"][0].Content != "x" {
		t.Fatalf("a got %+v", got["a"])
	}
	if len(got["b"]) != 1 || got["b"][0].Type != coordinator.PushEnd {
		t.Fatalf("b got %+v", got["b"])
	}
}

func TestDetachCancelsStream(t *testing.T) {
	fc := &fakeCoordinator{}
	r := New(fc, nil, eventbus.New())
	defer r.Close()

	r.Attach("a", SinkFunc(func(coordinator.Push) error { return errors.New("closed") }))
	if r.Attached() != 1 {
		t.Fatal("expected one attached origin")
	}
	r.Detach("a")
	if r.Attached() != 0 {
		t.Fatal("sink not removed")
	}
	if len(fc.cancelled) != 1 || fc.cancelled[0] != "a" {
		t.Fatalf("cancelled = %v", fc.cancelled)
	}
}

func TestStaleDetachKeepsNewerSink(t *testing.T) {
	fc := &fakeCoordinator{}
	bus := eventbus.New()
	r := New(fc, nil, bus)
	defer r.Close()

	var oldGot, newGot int
	detachOld := r.Attach("ws:tab1", SinkFunc(func(coordinator.Push) error { oldGot++; return nil }))
	detachNew := r.Attach("ws:tab1", SinkFunc(func(coordinator.Push) error { newGot++; return nil }))

	detachOld()
	bus.Publish(eventbus.TopicPush, coordinator.Push{Origin: "ws:tab1", Type: coordinator.PushChunk, Content: "x"})

	if len(fc.cancelled) != 0 {
		t.Fatalf("stale detach cancelled the new stream: %v", fc.cancelled)
	}
	if r.Attached() != 1 || newGot != 1 || oldGot != 0 {
		t.Fatalf("attached=%d newGot=%d oldGot=%d", r.Attached(), newGot, oldGot)
	}

	detachNew()
	if r.Attached() != 0 || len(fc.cancelled) != 1 {
		t.Fatalf("current detach: attached=%d cancelled=%v", r.Attached(), fc.cancelled)
	}
}
