// Package queue provides the unbounded FIFO handoff between transaction
// submitters and the ledger worker.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the queue
// is closed and every queued item has been handed out.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded, strictly FIFO queue of transaction ids. Enqueue never
// blocks; Dequeue blocks until an id is available.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool

	ready chan struct{} // capacity 1, signalled when items may be available
	done  chan struct{} // closed by Close
}

func New() *Queue {
	return &Queue{
		items: make([]string, 0, 64),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends id to the tail of the queue.
func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes and returns the head of the queue, waiting for one to arrive
// if the queue is empty. It returns ctx.Err() if ctx ends first.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close stops accepting new ids. Ids already queued are still returned by Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
