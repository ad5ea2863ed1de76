package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"chatwootbridge/pkg/session/types"

	"github.com/sirupsen/logrus"
)

// Bus is an in-process publish/subscribe hub keyed by topic
type Bus interface {
	Subscribe(topic string, handler types.Handler) Subscription
	Publish(ctx context.Context, topic string, client types.MediaDecrypter, ev types.Event) int
}

// Subscription is the handle returned by Subscribe
type Subscription interface {
	Topic() string
	Unsubscribe()
}

type subscription struct {
	bus   *EventBus
	topic string
	id    uint64
	once  sync.Once
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

// EventBus is the default Bus implementation
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]types.Handler
	nextID   uint64
	wg       sync.WaitGroup
	logger   *logrus.Logger
}

// NewBus creates an empty event bus
func NewBus(logger *logrus.Logger) *EventBus {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &EventBus{
		handlers: make(map[string]map[uint64]types.Handler),
		logger:   logger,
	}
}

func (b *EventBus) Subscribe(topic string, handler types.Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]types.Handler)
	}
	b.handlers[topic][id] = handler

	return &subscription{bus: b, topic: topic, id: id}
}

func (b *EventBus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers[topic], id)
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

// Publish hands ev to every handler of topic on its own goroutine and
// returns how many handlers were started. It never waits for them.
func (b *EventBus) Publish(ctx context.Context, topic string, client types.MediaDecrypter, ev types.Event) int {
	b.mu.RLock()
	handlers := make([]types.Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go b.run(ctx, topic, h, client, ev)
	}
	return len(handlers)
}

func (b *EventBus) run(ctx context.Context, topic string, h types.Handler, client types.MediaDecrypter, ev types.Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"topic": topic,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Event handler panicked")
		}
	}()

	h(ctx, client, ev)
}

// SubscriberCount returns the number of handlers on topic
func (b *EventBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Wait blocks until every handler started so far has returned
func (b *EventBus) Wait() {
	b.wg.Wait()
}
