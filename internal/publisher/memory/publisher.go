// Package memory records dataset notifications in process, for tests and the memory storage driver.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("memory publisher: topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// FinishedEvents returns the dataset events published to topic, in publish order.
func (p *Publisher) FinishedEvents(topic string) []dataset.FinishedEvent {
	var out []dataset.FinishedEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		switch ev := msg.Payload.(type) {
		case dataset.FinishedEvent:
			out = append(out, ev)
		case *dataset.FinishedEvent:
			out = append(out, *ev)
		}
	}
	return out
}
