// Package memory keeps published index events in process, for local runs and
// tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultCapacity bounds the retained history per topic.
const DefaultCapacity = 1024

// Publisher encodes payloads the same way the Pub/Sub publisher does and
// retains the most recent messages per topic.
type Publisher struct {
	capacity int

	mu     sync.RWMutex
	seq    int
	topics map[string][]Message
}

// Message is one retained publish.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message body into dst.
func (m Message) Decode(dst any) error {
	if err := json.Unmarshal(m.Data, dst); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// New returns a Publisher retaining up to capacity messages per topic.
func New(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{capacity: capacity, topics: make(map[string][]Message)}
}

// Publish records the encoded payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var attrs map[string]string
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		attrs = a.Attributes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("memory-%d", p.seq), Topic: topic, Data: data, Attributes: attrs}
	msgs := append(p.topics[topic], msg)
	if len(msgs) > p.capacity {
		msgs = msgs[len(msgs)-p.capacity:]
	}
	p.topics[topic] = msgs
	return msg.ID, nil
}

// Messages returns a copy of the retained messages for topic, oldest first.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.topics[topic]))
	copy(out, p.topics[topic])
	return out
}
