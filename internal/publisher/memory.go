package publisher

import (
	"context"
	"sync"
)

// Event is one captured publish call.
type Event struct {
	Topic   string
	Payload []byte
}

// Memory records events in process. Used in tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemory() *Memory { return &Memory{} }

// FailWith makes subsequent publishes return err.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	m.events = append(m.events, Event{Topic: topic, Payload: data})
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
