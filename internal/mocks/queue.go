package mocks

import (
	"sync"
)

// PublishedMessage records one Publish call on the mock queue.
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// MockQueue is a mock implementation of the MessageQueue interface. It
// records publishes and dispatches them synchronously to subscribers.
type MockQueue struct {
	mu          sync.Mutex
	Published   []PublishedMessage
	subscribers map[string][]func(data []byte) error

	PublishFunc   func(subject string, data []byte) error
	SubscribeFunc func(subject string, handler func(data []byte) error) error
	CloseFunc     func() error
}

func NewMockQueue() *MockQueue {
	return &MockQueue{
		subscribers: make(map[string][]func(data []byte) error),
	}
}

func (m *MockQueue) Publish(subject string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(subject, data)
	}

	m.mu.Lock()
	m.Published = append(m.Published, PublishedMessage{Subject: subject, Data: data})
	handlers := append([]func(data []byte) error(nil), m.subscribers[subject]...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (m *MockQueue) Subscribe(subject string, handler func(data []byte) error) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(subject, handler)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[subject] = append(m.subscribers[subject], handler)
	return nil
}

func (m *MockQueue) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MessagesOn returns every payload published on a subject.
func (m *MockQueue) MessagesOn(subject string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, p := range m.Published {
		if p.Subject == subject {
			out = append(out, p.Data)
		}
	}
	return out
}
