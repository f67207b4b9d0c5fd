package events

import (
	"context"
	"encoding/json"
	"sync"
)

// NoopPublisher discards events. Used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }

func (NoopPublisher) Close() error { return nil }

// Message is one JSON-encoded event and the topic it was published on.
type Message struct {
	Topic string
	Data  []byte
}

// Recorder keeps every published event in memory, JSON-encoded exactly as
// NATSPublisher would send it. The demo command and tests use it.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Topic: topic, Data: data})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Topics returns the topic of each recorded message, in order.
func (r *Recorder) Topics() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Topic
	}
	return out
}

// Fanout publishes every event to each of its publishers in order. All are
// attempted; the first error is returned.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, event any) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
