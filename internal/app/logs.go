package app

import (
	"fmt"
	"sync"
	"time"

	"pagechat/internal/eventbus"
)

const (
	maxLogEntries  = 1000
	keptLogEntries = 500
)

// LogEntry is one line of the in-memory activity log.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// logBuffer keeps recent error and status events from the bus.
type logBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *logBuffer) subscribe(bus *eventbus.Bus) []func() {
	return []func(){
		bus.Subscribe(eventbus.TopicError, func(e eventbus.Event) { l.add("error", e) }),
		bus.Subscribe(eventbus.TopicStatusChange, func(e eventbus.Event) { l.add("info", e) }),
		bus.Subscribe(eventbus.TopicSettingsChanged, func(e eventbus.Event) { l.add("info", e) }),
	}
}

func (l *logBuffer) add(level string, e eventbus.Event) {
	entry := LogEntry{
		Level: level,
		Time:  e.Timestamp.Format(time.RFC3339),
	}
	switch v := e.Payload.(type) {
	case string:
		entry.Message = v
	case error:
		entry.Message = v.Error()
	default:
		entry.Message = fmt.Sprint(v)
	}
	if e.Topic == eventbus.TopicSettingsChanged {
		entry.Message = "settings changed: " + entry.Message
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxLogEntries {
		l.entries = append([]LogEntry(nil), l.entries[len(l.entries)-keptLogEntries:]...)
	}
}

func (l *logBuffer) list() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}
