package pubsub

import (
	"time"

	"github.com/google/uuid"
)

// Topics carrying post change notifications.
const (
	TopicPostCreated = "post.created"
	TopicPostUpdated = "post.updated"
	TopicPostDeleted = "post.deleted"
)

// KnownTopics lists every topic the service publishes to.
var KnownTopics = []string{
	TopicPostCreated,
	TopicPostUpdated,
	TopicPostDeleted,
}

// IsKnownTopic reports whether topic is one of KnownTopics.
func IsKnownTopic(topic string) bool {
	for _, t := range KnownTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// Event is a single published payload. Payload is handed to subscribers as-is.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a new Event with a generated UUID and the current timestamp.
func NewEvent(topic string, payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Hook observes every published event, in publish order. Hooks run while
// the broker registry is locked and must not block.
type Hook func(event Event)
