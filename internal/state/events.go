package state

import "sync"

// Event is one replicated broadcast captured for the tick that produced it.
type Event struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Payload []byte `json:"payload" msgpack:"payload"`
}

// EventDiff carries the events accumulated since the previous diff.
type EventDiff struct {
	Events []Event `json:"events,omitempty" msgpack:"events,omitempty"`
}

// EventStore buffers broadcasts until the tick diff collects them.
type EventStore struct {
	mu     sync.Mutex
	events []Event
}

// NewEventStore constructs an empty event buffer.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Add appends an event, copying the payload so callers may reuse their buffers.
func (s *EventStore) Add(kind string, payload []byte) {
	if s == nil || kind == "" {
		return
	}
	event := Event{Kind: kind, Payload: append([]byte(nil), payload...)}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// ConsumeDiff drains the buffered events in insertion order.
func (s *EventStore) ConsumeDiff() EventDiff {
	if s == nil {
		return EventDiff{}
	}
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.mu.Unlock()
	return EventDiff{Events: events}
}
