// Package audit mirrors workflow transitions to an append-only trail.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded transition.
type Event struct {
	EventID  string                 `json:"eventId"`
	Entity   string                 `json:"entity"`
	EntityID string                 `json:"entityId"`
	Action   string                 `json:"action"`
	ActorID  string                 `json:"actorId,omitempty"`
	Role     string                 `json:"role,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	At       time.Time              `json:"at"`
}

// NewEvent stamps a new event with an ID and the current time.
func NewEvent(entity, entityID, action, actorID, role string, data map[string]interface{}) Event {
	return Event{
		EventID:  uuid.NewString(),
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		ActorID:  actorID,
		Role:     role,
		Data:     data,
		At:       time.Now().UTC(),
	}
}

// Sink receives audit events. Recording is best effort and never fails the
// operation that produced the event.
type Sink interface {
	Record(ctx context.Context, event Event)
}

type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

// MemorySink keeps events in process.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(_ context.Context, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns the recorded events, optionally filtered by entity.
func (m *MemorySink) Events(entity string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		if entity == "" || e.Entity == entity {
			out = append(out, e)
		}
	}
	return out
}
