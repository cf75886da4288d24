// Package router carries requests from foreground origins to the coordinator
// and routes the coordinator's pushes back to the origin they belong to.
package router

import (
	"context"
	"errors"
	"log"
	"sync"

	"pagechat/internal/coordinator"
	"pagechat/internal/eventbus"
	"pagechat/internal/llm"
	"pagechat/internal/persona"
	"pagechat/internal/prompt"
)

// RequestType names a foreground request.
type RequestType string

const (
	TypeSendPrompt   RequestType = "sendPrompt"
	TypeCancelStream RequestType = "cancelStream"
	TypeFetchModels  RequestType = "fetchModels"
	TypeCapturePage  RequestType = "capturePage"
	TypeListPersonas RequestType = "listPersonas"
)

// Request is one message from a foreground origin.
type Request struct {
	ID                  string                `json:"id,omitempty"`
	Type                RequestType           `json:"type"`
	Prompt              string                `json:"prompt,omitempty"`
	Context             *prompt.PageContext   `json:"context,omitempty"`
	ConversationHistory []llm.Message         `json:"conversationHistory,omitempty"`
	ConversationID      string                `json:"conversationId,omitempty"`
	Settings            coordinator.Overrides `json:"settings"`
	Provider            string                `json:"provider,omitempty"` // fetchModels
	URL                 string                `json:"url,omitempty"`      // capturePage
}

// Response answers one Request.
type Response struct {
	ID             string              `json:"id,omitempty"`
	Type           string              `json:"type"`
	Success        bool                `json:"success"`
	Error          string              `json:"error,omitempty"`
	ErrorKind      string              `json:"errorKind,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	Models         []llm.ModelConfig   `json:"models,omitempty"`
	Context        *prompt.PageContext `json:"context,omitempty"`
	Personas       []persona.Persona   `json:"personas,omitempty"`
}

// Sink delivers pushes to one connected origin.
type Sink interface {
	Deliver(p coordinator.Push) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p coordinator.Push) error

func (f SinkFunc) Deliver(p coordinator.Push) error { return f(p) }

// Coordinator is the part of *coordinator.Coordinator the router uses.
type Coordinator interface {
	SendPrompt(ctx context.Context, origin coordinator.Origin, req coordinator.SendRequest) (string, error)
	CancelStream(origin coordinator.Origin) bool
	FetchModels(ctx context.Context, provider, apiKey string) ([]llm.ModelConfig, error)
	CapturePage(ctx context.Context, url string) (*prompt.PageContext, error)
}

// PersonaLister lists the selectable personas.
type PersonaLister interface {
	List(ctx context.Context) ([]persona.Persona, error)
}

// Router dispatches requests and fans pushes out to sinks.
type Router struct {
	coord    Coordinator
	personas PersonaLister
	bus      *eventbus.Bus
	unsub    func()

	mu    sync.RWMutex
	sinks map[coordinator.Origin]*attachment
}

// attachment is compared by identity to tell registrations apart.
type attachment struct {
	sink Sink
}

// New creates a Router and subscribes it to pushes on bus.
func New(coord Coordinator, personas PersonaLister, bus *eventbus.Bus) *Router {
	r := &Router{
		coord:    coord,
		personas: personas,
		bus:      bus,
		sinks:    make(map[coordinator.Origin]*attachment),
	}
	r.unsub = bus.Subscribe(eventbus.TopicPush, r.onPush)
	return r
}

// Close stops routing pushes.
func (r *Router) Close() {
	r.unsub()
}

// Attach registers the sink that receives pushes for origin, replacing any
// previous one. The returned func detaches origin only while this sink is
// still the registered one, so a stale connection cannot tear down the
// connection that replaced it.
func (r *Router) Attach(origin coordinator.Origin, sink Sink) (detach func()) {
	r.mu.Lock()
	a := &attachment{sink: sink}
	_, replaced := r.sinks[origin]
	r.sinks[origin] = a
	r.mu.Unlock()
	if !replaced {
		r.bus.Publish(eventbus.TopicOriginAttached, origin)
	}
	return func() { r.detach(origin, a) }
}

// Detach cancels the stream of origin, if any, and drops its sink. Called
// when the foreground instance goes away.
func (r *Router) Detach(origin coordinator.Origin) {
	r.detach(origin, nil)
}

// detach removes origin when want is nil or still the current attachment.
func (r *Router) detach(origin coordinator.Origin, want *attachment) {
	r.mu.Lock()
	cur, ok := r.sinks[origin]
	if want != nil && cur != want {
		r.mu.Unlock()
		log.Printf("[router] %s was reattached, keeping the newer sink", origin)
		return
	}
	delete(r.sinks, origin)
	r.mu.Unlock()

	r.coord.CancelStream(origin)
	if ok {
		r.bus.Publish(eventbus.TopicOriginDetached, origin)
	}
}

// Attached returns the number of origins with a sink.
func (r *Router) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *Router) onPush(e eventbus.Event) {
	p, ok := e.Payload.(coordinator.Push)
	if !ok {
		return
	}
	r.mu.RLock()
	a, ok := r.sinks[p.Origin]
	r.mu.RUnlock()
	if !ok {
		log.Printf("[router] no sink for %s, dropping %s", p.Origin, p.Type)
		return
	}
	if err := a.sink.Deliver(p); err != nil {
		log.Printf("[router] deliver %s to %s: %v", p.Type, p.Origin, err)
	}
}

// Dispatch handles req from origin. Synchronous requests call respond before
// returning and Dispatch returns false. Requests that need a network round
// trip return true and call respond later from another goroutine.
func (r *Router) Dispatch(ctx context.Context, origin coordinator.Origin, req Request, respond func(Response)) (async bool) {
	reply := func(resp Response) {
		resp.ID = req.ID
		resp.Type = "response"
		respond(resp)
	}

	switch req.Type {
	case TypeSendPrompt:
		convID, err := r.coord.SendPrompt(ctx, origin, coordinator.SendRequest{
			Prompt:         req.Prompt,
			Context:        req.Context,
			History:        req.ConversationHistory,
			ConversationID: req.ConversationID,
			Settings:       req.Settings,
		})
		if err != nil {
			reply(failure(err))
			return false
		}
		reply(Response{Success: true, ConversationID: convID})
		return false

	case TypeCancelStream:
		r.coord.CancelStream(origin)
		reply(Response{Success: true})
		return false

	case TypeListPersonas:
		if r.personas == nil {
			reply(Response{Success: true, Personas: persona.BuiltIns()})
			return false
		}
		list, err := r.personas.List(ctx)
		if err != nil {
			reply(failure(err))
			return false
		}
		reply(Response{Success: true, Personas: list})
		return false

	case TypeFetchModels:
		go func() {
			models, err := r.coord.FetchModels(ctx, req.Provider, "")
			if err != nil {
				reply(failure(err))
				return
			}
			reply(Response{Success: true, Models: models})
		}()
		return true

	case TypeCapturePage:
		go func() {
			pc, err := r.coord.CapturePage(ctx, req.URL)
			if err != nil {
				reply(failure(err))
				return
			}
			reply(Response{Success: true, Context: pc})
		}()
		return true

	default:
		reply(Response{Error: "unknown request type: " + string(req.Type), ErrorKind: "request"})
		return false
	}
}

func failure(err error) Response {
	msg := err.Error()
	var llmErr *llm.LLMError
	if errors.As(err, &llmErr) && llmErr.Message != "" {
		msg = llmErr.Message
	}
	return Response{Error: msg, ErrorKind: ErrorKind(err)}
}

// ErrorKind names the category of err for the foreground.
func ErrorKind(err error) string {
	var ce *coordinator.ConfigError
	var llmErr *llm.LLMError
	switch {
	case errors.As(err, &ce):
		return "config"
	case errors.Is(err, coordinator.ErrStreamActive):
		return "busy"
	case errors.As(err, &llmErr):
		return llmErr.Type.String()
	default:
		return "error"
	}
}
