package memory

import (
	"context"
	"sync"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
)

type delivery struct {
	docs []docstore.Document
	err  error
}

// subscription delivers snapshots on its own goroutine through an unbounded
// FIFO, so writers never block on a slow consumer and order is preserved.
type subscription struct {
	store *Store
	q     docstore.Query
	fn    docstore.SnapshotFunc

	mu      sync.Mutex
	queue   []delivery
	last    []docstore.Document
	offered bool
	failed  bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(s *Store, q docstore.Query, fn docstore.SnapshotFunc) *subscription {
	return &subscription{
		store: s,
		q:     q,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// offer queues docs unless they equal the previously queued result.
func (s *subscription) offer(docs []docstore.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || (s.offered && docstore.SameResult(s.last, docs)) {
		return
	}
	s.offered = true
	s.last = docs
	s.queue = append(s.queue, delivery{docs: docstore.CloneDocuments(docs)})
	s.signal()
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	s.failed = true
	s.queue = append(s.queue, delivery{err: err})
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

func (s *subscription) run(ctx context.Context) {
	defer s.store.remove(s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			d, ok := s.next()
			if !ok {
				break
			}
			if gate := s.store.currentGate(); gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(d.docs, d.err)
			if d.err != nil {
				return
			}
		}
	}
}

// Stop ends delivery and detaches the query from the store before
// returning. It must not be called with the store lock held.
func (s *subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.store.remove(s)
	})
}
