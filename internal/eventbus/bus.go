package eventbus

import (
	"log"
	"sync"
	"time"
)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a simple in-process pub/sub event bus.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Topic][]subscription
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]subscription),
	}
}

// Subscribe registers a handler for a topic and returns a function that
// removes it again.
func (b *Bus) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot(topic Topic) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[topic]))
	for i, s := range b.handlers[topic] {
		handlers[i] = s.handler
	}
	return handlers
}

// Publish sends an event to all subscribers of the topic.
// Handlers are called synchronously in the order they were registered.
// A panicking handler is logged and does not stop the others.
func (b *Bus) Publish(topic Topic, payload any) {
	event := Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for _, h := range b.snapshot(topic) {
		call(h, event)
	}
}

func call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[eventbus] handler for %s panicked: %v", e.Topic, r)
		}
	}()
	h(e)
}
