package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/reelfetch/internal/models"
)

var (
	// ErrQueueClosed is returned by Push after Close
	ErrQueueClosed = errors.New("batch queue closed")
	// ErrQueueFull is returned by Push when the queue is at capacity
	ErrQueueFull = errors.New("batch queue full")
)

// BatchQueue is a FIFO of submitted batches drained by a single worker
type BatchQueue struct {
	mu       sync.Mutex
	items    []*models.Batch
	capacity int
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

// NewBatchQueue creates a queue; capacity <= 0 means unbounded
func NewBatchQueue(capacity int) *BatchQueue {
	return &BatchQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends a batch
func (q *BatchQueue) Push(batch *models.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, batch)

	// Wake the waiting Pop, if any
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest batch, blocking until one is available.
// It returns (nil, nil) once the queue is closed and drained.
func (q *BatchQueue) Pop(ctx context.Context) (*models.Batch, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			batch := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return batch, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Len returns the number of queued batches
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting batches and wakes any waiting Pop.
// Batches already queued are still returned by Pop.
func (q *BatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
