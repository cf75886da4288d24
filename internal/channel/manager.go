package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Status reports one registered channel.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Manager owns the chat channels and the bridge that feeds them into the
// router.
type Manager struct {
	bridge *Bridge

	mu       sync.RWMutex
	channels map[string]Channel
	started  []string
}

// NewManager creates a manager whose channels dispatch through bridge.
func NewManager(bridge *Bridge) *Manager {
	return &Manager{
		bridge:   bridge,
		channels: make(map[string]Channel),
	}
}

// Register adds a channel. It is connected to the bridge on StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll connects and starts every registered channel. On failure the
// channels already started are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.names() {
		ch := m.channels[name]
		m.bridge.Connect(ctx, ch)
		if err := ch.Start(ctx); err != nil {
			log.Printf("[channel] failed to start %s: %v", name, err)
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", name, err)
		}
		m.started = append(m.started, name)
		log.Printf("[channel] started %s", name)
	}
	return nil
}

// StopAll stops the running channels and detaches their chats.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	m.stopStarted(ctx)
	m.mu.Unlock()
	m.bridge.Close()
}

func (m *Manager) stopStarted(ctx context.Context) {
	for _, name := range m.started {
		ch := m.channels[name]
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			log.Printf("[channel] failed to stop %s: %v", name, err)
		} else {
			log.Printf("[channel] stopped %s", name)
		}
	}
	m.started = nil
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// List returns the registered channels sorted by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.channels))
	for _, name := range m.names() {
		out = append(out, Status{Name: name, Running: m.channels[name].IsRunning()})
	}
	return out
}

func (m *Manager) names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
