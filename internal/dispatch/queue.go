package dispatch

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO. push never blocks; pop waits for work, for
// close, or for ctx. After close, pop keeps returning queued tasks until the
// queue is empty.
type queue struct {
	mu     sync.Mutex
	items  []Task
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newQueue() *queue {
	return &queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *queue) push(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *queue) pop(ctx context.Context) (Task, bool) {
	for {
		if ctx.Err() != nil {
			return Task{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = Task{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return t, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Task{}, false
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return Task{}, false
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
