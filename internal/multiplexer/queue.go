package multiplexer

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when pushing to or receiving from a closed queue.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when a bounded queue is at capacity.
	ErrQueueFull = errors.New("queue full")
)

// Queue is one consumer's outbound message queue. Pushes never block.
//
// With max <= 0 the queue is unbounded: a slow reader never loses messages
// but can grow without limit. With max > 0 a push to a full queue fails,
// which makes the multiplexer drop that consumer.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	max    int
	closed bool
	notify chan struct{}
}

func newQueue(max int) *Queue {
	return &Queue{max: max, notify: make(chan struct{}, 1)}
}

func (q *Queue) push(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.max > 0 && len(q.items) >= q.max {
		return ErrQueueFull
	}
	q.items = append(q.items, payload)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Recv blocks until a payload is available, the queue is closed or ctx ends.
func (q *Queue) Recv(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close abandons the queue. Pending payloads are discarded and later pushes
// fail, which the multiplexer treats as a departed consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
