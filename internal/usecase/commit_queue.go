package usecase

import (
	"context"
	"sync"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// commitQueue is the bounded FIFO between the coordinator and the committer worker.
type commitQueue struct {
	mu     sync.Mutex
	items  []*domain.Event
	limit  int
	closed bool
	notify chan struct{}
}

func newCommitQueue(limit int) *commitQueue {
	return &commitQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// reserve reports whether a push would currently succeed. The coordinator calls it before
// issuing a sequence id so a full queue never consumes one.
func (q *commitQueue) reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitLocked()
}

func (q *commitQueue) admitLocked() error {
	if q.closed {
		return domain.ErrPipelineClosed
	}
	if len(q.items) >= q.limit {
		return domain.ErrBackpressure
	}
	return nil
}

func (q *commitQueue) push(ev *domain.Event) error {
	q.mu.Lock()
	if err := q.admitLocked(); err != nil {
		q.mu.Unlock()
		return err
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until an event is available. It returns false once the queue is closed and
// empty, or when ctx is done.
func (q *commitQueue) pop(ctx context.Context) (*domain.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close stops admissions. Queued events stay available to pop.
func (q *commitQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns everything still queued.
func (q *commitQueue) drain() []*domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *commitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
