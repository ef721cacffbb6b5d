package event

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when enqueueing to a closed queue.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrQueueFull is returned when the queue has no room left.
	ErrQueueFull = errors.New("event queue is full")
)

// MemoryQueue is a bounded FIFO of messages waiting to be published.
type MemoryQueue struct {
	queue  chan *Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to bufferSize messages.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{queue: make(chan *Message, bufferSize)}
}

// Enqueue adds m without blocking.
func (q *MemoryQueue) Enqueue(ctx context.Context, m *Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue returns up to batchSize queued messages without blocking.
func (q *MemoryQueue) Dequeue(batchSize int) []*Message {
	if batchSize <= 0 {
		batchSize = 100
	}
	out := make([]*Message, 0, batchSize)
	for len(out) < batchSize {
		select {
		case m, ok := <-q.queue:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}

// Ready is signalled while messages are queued.
func (q *MemoryQueue) Ready() <-chan *Message { return q.queue }

// Size returns the number of queued messages.
func (q *MemoryQueue) Size() int { return len(q.queue) }

// Close stops further enqueueing. Queued messages can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
