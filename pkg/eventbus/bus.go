package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/google/uuid"
)

// Event is one published message.
type Event struct {
	ID        string
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler reacts to an event.
type Handler func(Event) error

type subscription struct {
	id      string
	handler Handler
}

// Bus is an in-process publish/subscribe registry. Publish delivers
// synchronously, in subscription order, on the caller's goroutine.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	byID   map[string]string
	l      *applogger.Logger
}

// New creates an empty bus.
func New(l *applogger.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		byID:   make(map[string]string),
		l:      l,
	}
}

// Subscribe registers h for topic and returns its subscription id.
func (b *Bus) Subscribe(topic string, h Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	b.byID[id] = topic
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. It reports whether id was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
	return true
}

// Publish delivers payload to every subscriber of topic. Handler errors and
// panics are collected and returned together; delivery continues.
func (b *Bus) Publish(topic string, payload any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := b.deliver(s, ev); err != nil {
			errs = append(errs, err)
			if b.l != nil {
				b.l.Warn("event handler failed",
					applogger.String("topic", topic),
					applogger.String("subscription", s.id),
					applogger.Error(err),
				)
			}
		}
	}
	return ev, errors.Join(errs...)
}

// SubscriberCount returns the number of handlers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) deliver(s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", s.id, r)
		}
	}()
	return s.handler(ev)
}
