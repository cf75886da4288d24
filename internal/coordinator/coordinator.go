// Package coordinator runs chat streams on behalf of foreground origins. It
// keeps at most one stream per origin, relays deltas as pushes on the event
// bus, persists completed exchanges and classifies failures.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagechat/internal/config"
	"pagechat/internal/eventbus"
	"pagechat/internal/llm"
	"pagechat/internal/prompt"
	"pagechat/internal/store"
)

// ErrCaptureDisabled is returned by CapturePage when no capturer is configured.
var ErrCaptureDisabled = errors.New("page capture is disabled")

const saveTimeout = 10 * time.Second

// Options holds the collaborators of a Coordinator. Settings, Providers and
// Bus are required.
type Options struct {
	Settings      SettingsStore
	Providers     ProviderSource
	Personas      PersonaCatalog
	Conversations ConversationStore
	Bus           Publisher
	Redactor      Redactor
	Capturer      PageCapturer
	// Registry defaults to a fresh empty registry.
	Registry *Registry
}

// Coordinator is the background streaming coordinator.
type Coordinator struct {
	settings      SettingsStore
	providers     ProviderSource
	personas      PersonaCatalog
	conversations ConversationStore
	bus           Publisher
	redactor      Redactor
	capturer      PageCapturer
	registry      *Registry
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Coordinator{
		settings:      opts.Settings,
		providers:     opts.Providers,
		personas:      opts.Personas,
		conversations: opts.Conversations,
		bus:           opts.Bus,
		redactor:      opts.Redactor,
		capturer:      opts.Capturer,
		registry:      reg,
	}
}

// exchange is what a finished stream needs to persist.
type exchange struct {
	prompt    string
	history   []llm.Message
	page      *prompt.PageContext
	personaID string
}

type resolved struct {
	provider     string
	model        string
	apiKey       string
	personaID    string
	systemPrompt string
	temperature  float64
	maxTokens    int
}

func resolve(cfg *config.Config, o Overrides) resolved {
	r := resolved{
		provider:     cfg.LLM.Provider,
		model:        cfg.LLM.Model,
		personaID:    cfg.Chat.PersonaID,
		systemPrompt: cfg.Chat.SystemPrompt,
		temperature:  cfg.Chat.Temperature,
		maxTokens:    cfg.Chat.MaxTokens,
	}
	if o.Provider != "" && o.Provider != r.provider {
		r.provider = o.Provider
		// The stored model belongs to the stored provider.
		r.model = ""
	}
	if o.Model != "" {
		r.model = o.Model
	}
	if o.PersonaID != "" {
		r.personaID = o.PersonaID
	}
	if o.SystemPrompt != nil {
		r.systemPrompt = *o.SystemPrompt
	}
	if o.Temperature != nil {
		r.temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		r.maxTokens = o.MaxTokens
	}
	r.apiKey = cfg.LLM.APIKey(r.provider)
	return r
}

// SendPrompt starts a stream for origin and returns the conversation id the
// exchange will be saved under. Output arrives later as pushes. It fails with
// a *ConfigError when provider, model or API key are missing, and with
// ErrStreamActive when origin already has a stream.
func (c *Coordinator) SendPrompt(ctx context.Context, origin Origin, req SendRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", &ConfigError{Field: "prompt", Message: "prompt is empty"}
	}

	cfg := c.settings.Settings()
	rs := resolve(cfg, req.Settings)

	if rs.provider == "" {
		return "", &ConfigError{Field: "provider", Message: "no provider selected"}
	}
	provider, ok := c.providers.Get(rs.provider)
	if !ok {
		return "", &ConfigError{Field: "provider", Message: "unknown provider " + rs.provider}
	}
	if rs.apiKey == "" && llm.RequiresKey(rs.provider) {
		return "", &ConfigError{Field: "api_key", Message: "no API key configured for " + rs.provider}
	}
	if rs.model == "" {
		return "", &ConfigError{Field: "model", Message: "no model selected for " + rs.provider}
	}
	if _, busy := c.registry.Get(origin); busy {
		return "", ErrStreamActive
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	var personaPrompt string
	if c.personas != nil {
		personaPrompt = c.personas.SystemPrompt(ctx, rs.personaID)
	}
	assembled := prompt.Assemble(prompt.Input{
		History:          req.History,
		Prompt:           req.Prompt,
		Context:          c.redact(req.Context),
		PersonaPrompt:    personaPrompt,
		UserSystemPrompt: rs.systemPrompt,
		MaxPageChars:     cfg.Chat.MaxPageChars,
		HistoryBudget:    cfg.Chat.HistoryBudget,
	})
	chatReq := &llm.ChatRequest{
		Model:        rs.model,
		Messages:     assembled.Messages,
		MaxTokens:    rs.maxTokens,
		Temperature:  &rs.temperature,
		SystemPrompt: assembled.SystemPrompt,
	}
	ex := exchange{
		prompt:    req.Prompt,
		history:   req.History,
		page:      req.Context,
		personaID: rs.personaID,
	}

	s := newSession(origin, rs.provider, rs.model, convID)
	if !c.registry.Reserve(s) {
		return "", ErrStreamActive
	}
	c.publish(eventbus.TopicStreamStarted, StreamEvent{Origin: origin, Provider: s.Provider, Model: s.Model})

	handle, err := provider.StreamChat(context.WithoutCancel(ctx), rs.apiKey, chatReq, llm.Callbacks{
		OnText:  func(delta string) { c.onText(s, delta) },
		OnEnd:   func(full string) { c.onEnd(s, ex, full) },
		OnError: func(err error) { c.onError(s, err) },
	})
	if err != nil {
		if c.registry.Remove(origin, s) {
			c.finished(s, OutcomeFailed)
		}
		return "", fmt.Errorf("start stream: %w", err)
	}
	s.setHandle(handle)

	log.Printf("[coordinator] %s: streaming %s/%s (conversation %s)", origin, s.Provider, s.Model, convID)
	return convID, nil
}

// CancelStream aborts the stream of origin, if any. No push is sent for a
// cancelled stream. Calling it when nothing is streaming is a no-op.
func (c *Coordinator) CancelStream(origin Origin) bool {
	s, ok := c.registry.Take(origin)
	if !ok {
		return false
	}
	s.abort()
	log.Printf("[coordinator] %s: stream cancelled after %d chars", origin, len(s.Text()))
	c.finished(s, OutcomeCancelled)
	return true
}

// CancelAll aborts every active stream.
func (c *Coordinator) CancelAll() int {
	n := 0
	for _, info := range c.registry.List() {
		if c.CancelStream(info.Origin) {
			n++
		}
	}
	return n
}

// FetchModels lists the models of provider. Empty provider or apiKey fall
// back to the stored settings.
func (c *Coordinator) FetchModels(ctx context.Context, provider, apiKey string) ([]llm.ModelConfig, error) {
	cfg := c.settings.Settings()
	if provider == "" {
		provider = cfg.LLM.Provider
	}
	p, ok := c.providers.Get(provider)
	if !ok {
		return nil, &ConfigError{Field: "provider", Message: "unknown provider " + provider}
	}
	if apiKey == "" {
		apiKey = cfg.LLM.APIKey(provider)
	}
	if apiKey == "" && llm.RequiresKey(provider) {
		return nil, &ConfigError{Field: "api_key", Message: "no API key configured for " + provider}
	}

	models, err := p.FetchModels(ctx, apiKey)
	c.publish(eventbus.TopicModelsFetched, ModelsFetched{Provider: provider, Count: len(models), Err: err})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// ModelsFetched is the payload of TopicModelsFetched.
type ModelsFetched struct {
	Provider string
	Count    int
	Err      error
}

// CapturePage loads url and returns its context.
func (c *Coordinator) CapturePage(ctx context.Context, url string) (*prompt.PageContext, error) {
	if c.capturer == nil {
		return nil, ErrCaptureDisabled
	}
	return c.capturer.Capture(ctx, url)
}

// Active returns snapshots of the running streams.
func (c *Coordinator) Active() []SessionInfo {
	return c.registry.List()
}

// ActiveCount returns the number of running streams.
func (c *Coordinator) ActiveCount() int {
	return c.registry.Len()
}

func (c *Coordinator) onText(s *Session, delta string) {
	if !c.registry.Current(s.Origin, s) {
		return
	}
	s.appendText(delta)
	c.push(Push{Origin: s.Origin, Type: PushChunk, Content: delta})
}

func (c *Coordinator) onEnd(s *Session, ex exchange, full string) {
	if !c.registry.Remove(s.Origin, s) {
		return
	}
	defer c.recoverCallback(s)

	if err := c.saveExchange(s, ex, full); err != nil {
		log.Printf("[coordinator] %s: save conversation %s: %v", s.Origin, s.ConversationID, err)
		c.publish(eventbus.TopicError, fmt.Errorf("save conversation: %w", err))
	}
	c.push(Push{Origin: s.Origin, Type: PushEnd, Content: full, ConversationID: s.ConversationID})
	c.finished(s, OutcomeCompleted)
}

func (c *Coordinator) onError(s *Session, err error) {
	if !c.registry.Remove(s.Origin, s) {
		log.Printf("[coordinator] %s: dropping error from finished stream: %v", s.Origin, err)
		return
	}
	defer c.recoverCallback(s)

	ce := llm.Classify(err, s.Provider, s.Model)
	log.Printf("[coordinator] %s: stream failed (%s): %s", s.Origin, ce.Kind, ce.Message)

	if ce.Kind == llm.KindModelNotFound {
		c.clearModel(s.Provider, s.Model)
		c.push(Push{Origin: s.Origin, Type: PushModelNotFound, Model: s.Model, Error: ce.Message})
		c.finished(s, OutcomeModelNotFound)
		return
	}
	c.push(Push{Origin: s.Origin, Type: PushError, Error: ce.Message})
	c.finished(s, OutcomeFailed)
}

// recoverCallback turns a panic in a terminal callback into a streamError
// push for the session's origin.
func (c *Coordinator) recoverCallback(s *Session) {
	if r := recover(); r != nil {
		log.Printf("[coordinator] %s: recovered panic: %v", s.Origin, r)
		c.push(Push{Origin: s.Origin, Type: PushError, Error: llm.FallbackErrorMessage})
	}
}

// clearModel drops the stale model from the settings, once: later failures
// for the same model find it already cleared.
func (c *Coordinator) clearModel(provider, model string) {
	cleared := false
	err := c.settings.UpdateSettings(func(cfg *config.Config) {
		if cfg.LLM.Provider == provider && cfg.LLM.Model == model {
			cfg.LLM.Model = ""
			cleared = true
		}
	})
	if err != nil {
		log.Printf("[coordinator] clear model %s: %v", model, err)
		c.publish(eventbus.TopicError, fmt.Errorf("clear model: %w", err))
		return
	}
	if cleared {
		log.Printf("[coordinator] cleared unavailable model %s/%s from settings", provider, model)
		c.publish(eventbus.TopicSettingsChanged, "llm.model")
	}
}

func (c *Coordinator) saveExchange(s *Session, ex exchange, full string) error {
	if c.conversations == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	conv, err := c.conversations.GetConversation(ctx, s.ConversationID)
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && conv == nil):
		conv = &store.Conversation{ID: s.ConversationID}
		for _, m := range ex.history {
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
				conv.Messages = append(conv.Messages, m)
			}
		}
	case err != nil:
		return err
	}

	conv.Provider = s.Provider
	conv.Model = s.Model
	conv.PersonaID = ex.personaID
	if ex.page != nil {
		conv.PageURL = ex.page.URL
		conv.PageTitle = ex.page.Title
	}
	conv.Messages = append(conv.Messages,
		llm.Message{Role: llm.RoleUser, Content: ex.prompt},
		llm.Message{Role: llm.RoleAssistant, Content: full},
	)
	return c.conversations.SaveConversation(ctx, conv)
}

func (c *Coordinator) redact(pc *prompt.PageContext) *prompt.PageContext {
	if pc == nil || c.redactor == nil {
		return pc
	}
	out := *pc
	out.Selection = c.redactor.Redact(pc.Selection)
	out.FullPage = c.redactor.Redact(pc.FullPage)
	return &out
}

func (c *Coordinator) push(p Push) {
	c.publish(eventbus.TopicPush, p)
}

func (c *Coordinator) finished(s *Session, outcome Outcome) {
	c.publish(eventbus.TopicStreamFinished, StreamEvent{
		Origin:   s.Origin,
		Provider: s.Provider,
		Model:    s.Model,
		Outcome:  outcome,
		Duration: time.Since(s.StartedAt),
		Chars:    len(s.Text()),
	})
}

func (c *Coordinator) publish(topic eventbus.Topic, payload any) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}
