package eventbus

import "time"

// Topic represents an event topic.
type Topic string

const (
	// TopicPush carries a coordinator.Push addressed to one origin.
	TopicPush            Topic = "push"
	TopicStreamStarted   Topic = "stream_started"
	TopicStreamFinished  Topic = "stream_finished"
	TopicModelsFetched   Topic = "models_fetched"
	TopicSettingsChanged Topic = "settings_changed"
	TopicOriginAttached  Topic = "origin_attached"
	TopicOriginDetached  Topic = "origin_detached"
	TopicError           Topic = "error"
	TopicStatusChange    Topic = "status_change"
)

// Event is a message passed through the event bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)
