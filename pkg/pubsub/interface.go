package pubsub

import (
	"context"
	"time"
)

// Message is one payload delivered on a broker topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher publishes raw payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription is a single dedicated broker connection whose topic set can
// be changed while it is open. It is owned by one goroutine and is not safe
// for concurrent use.
type Subscription interface {
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error

	// Receive waits up to timeout for the next message. It returns a nil
	// message and a nil error when the wait elapses without traffic.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)

	Close() error
}

// Broker combines publishing with the ability to open subscription connections.
type Broker interface {
	Publisher
	NewSubscription(ctx context.Context) (Subscription, error)
	Close() error
}

// idle blocks for timeout or until ctx is done. Used by subscriptions that
// have no topics yet and therefore nothing to read.
func idle(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
