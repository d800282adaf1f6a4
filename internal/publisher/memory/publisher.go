// Package memory records artifact notifications in process, for tests and
// dry runs.
package memory

import (
	"context"
	"strconv"
	"sync"
)

type attributer interface {
	Attributes() map[string]string
}

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher keeps every message it is handed. It is safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	failWith error
	attempts int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err without recording. A nil err
// restores normal behaviour.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records payload, along with its attributes when the payload
// carries any, and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failWith != nil {
		return "", p.failWith
	}
	msg := Message{
		ID:      "memory-" + strconv.Itoa(len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(attributer); ok {
		msg.Attributes = a.Attributes()
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded messages in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Attempts counts Publish calls, failed ones included.
func (p *Publisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
