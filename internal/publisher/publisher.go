// Package publisher emits run-completion events so downstream consumers can
// react to dataset updates without polling.
package publisher

import "context"

// Provider publishes a serialized event to a named topic.
type Provider interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }
func (Noop) Close() error                                  { return nil }
