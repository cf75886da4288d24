package coordinator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"pagechat/internal/llm"
)

// Origin identifies one foreground instance, e.g. one browser tab.
type Origin string

// Session is the live state of one in-flight completion for an origin.
type Session struct {
	Origin         Origin
	Provider       string
	Model          string
	ConversationID string
	StartedAt      time.Time

	mu        sync.Mutex
	handle    *llm.StreamHandle
	cancelled bool
	text      strings.Builder
}

func newSession(origin Origin, provider, model, conversationID string) *Session {
	return &Session{
		Origin:         origin,
		Provider:       provider,
		Model:          model,
		ConversationID: conversationID,
		StartedAt:      time.Now(),
	}
}

// setHandle attaches the provider handle. If the session was cancelled while
// the provider call was starting, the handle is aborted right away.
func (s *Session) setHandle(h *llm.StreamHandle) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		h.Abort()
		return
	}
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) abort() {
	s.mu.Lock()
	s.cancelled = true
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		h.Abort()
	}
}

func (s *Session) appendText(delta string) {
	s.mu.Lock()
	s.text.WriteString(delta)
	s.mu.Unlock()
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// SessionInfo is a read-only snapshot of a Session.
type SessionInfo struct {
	Origin         Origin    `json:"origin"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	ConversationID string    `json:"conversationId"`
	StartedAt      time.Time `json:"startedAt"`
	Chars          int       `json:"chars"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		Origin:         s.Origin,
		Provider:       s.Provider,
		Model:          s.Model,
		ConversationID: s.ConversationID,
		StartedAt:      s.StartedAt,
		Chars:          len(s.Text()),
	}
}

// Registry maps each origin to its single active session.
type Registry struct {
	mu       sync.Mutex
	sessions map[Origin]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Origin]*Session)}
}

// Reserve registers s for its origin. It returns false, leaving the existing
// session untouched, if the origin already has one.
func (r *Registry) Reserve(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.sessions[s.Origin]; busy {
		return false
	}
	r.sessions[s.Origin] = s
	return true
}

// Remove deletes s if it is still the session registered for origin and
// reports whether it did. Only the first caller for a session gets true.
func (r *Registry) Remove(origin Origin, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[origin]; !ok || cur != s {
		return false
	}
	delete(r.sessions, origin)
	return true
}

// Take removes and returns whatever session origin has.
func (r *Registry) Take(origin Origin) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[origin]
	if ok {
		delete(r.sessions, origin)
	}
	return s, ok
}

// Current reports whether s is the session registered for origin.
func (r *Registry) Current(origin Origin, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[origin] == s
}

// Get returns the session of origin.
func (r *Registry) Get(origin Origin) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[origin]
	return s, ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns snapshots of all active sessions, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = s.info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
