// Package memory records published build events in-memory for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// Publisher stores published payloads for inspection. Payloads are JSON-encoded the same
// way a broker publisher encodes them, so unencodable payloads fail here too.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
	Data    []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload, Data: data})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// FlushEvents decodes every recorded message published to topic as a FlushEvent.
func (p *Publisher) FlushEvents(topic string) ([]pipeline.FlushEvent, error) {
	var out []pipeline.FlushEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		var ev pipeline.FlushEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode flush event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
