package pubsub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed memory subscription.
var ErrClosed = errors.New("pubsub: subscription closed")

// MemoryBroker is an in-process Broker. Messages are delivered only to
// subscriptions that held the topic at publish time.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

// Publish delivers payload to every subscription currently holding topic.
func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		s.deliver(topic, payload)
	}
	return nil
}

// NewSubscription registers a new subscription.
func (b *MemoryBroker) NewSubscription(_ context.Context) (Subscription, error) {
	s := &memorySubscription{
		broker: b,
		topics: make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Close is a no-op.
func (b *MemoryBroker) Close() error { return nil }

// SubscribedTopics returns the sorted union of topics held by open subscriptions.
func (b *MemoryBroker) SubscribedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := make(map[string]struct{})
	for s := range b.subs {
		s.mu.Lock()
		for t := range s.topics {
			set[t] = struct{}{}
		}
		s.mu.Unlock()
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type memorySubscription struct {
	broker *MemoryBroker

	mu     sync.Mutex
	topics map[string]struct{}
	queue  []Message
	closed bool
	notify chan struct{}
}

func (s *memorySubscription) deliver(topic string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.topics[topic]; !ok {
		return
	}
	s.queue = append(s.queue, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) Subscribe(_ context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Unsubscribe(_ context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, t := range topics {
		delete(s.topics, t)
	}
	return nil
}

func (s *memorySubscription) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.queue) > 0 {
			m := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return &m, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-s.notify:
		}
	}
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	return nil
}
