// Package memory is an in-process docstore.Store. It backs tests and the
// offline mode, and exposes hooks to inject failures and to hold live-query
// deliveries so races can be reproduced deterministically.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

// Op names a store operation for the failure hook.
type Op string

const (
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpQuery     Op = "query"
	OpSubscribe Op = "subscribe"
)

// FailureHook decides whether an operation fails. id is empty for creates
// and queries.
type FailureHook func(op Op, collection, id string) error

// Stats counts acknowledged writes.
type Stats struct {
	Creates int
	Updates int
	Deletes int
}

// Writes is the total of all acknowledged writes.
func (s Stats) Writes() int { return s.Creates + s.Updates + s.Deletes }

type record struct {
	seq  uint64
	data map[string]any
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	cols   map[string]map[string]record
	seq    uint64
	subs   map[*subscription]struct{}
	hook   FailureHook
	gate   chan struct{}
	stats  Stats
	newID  func() string
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		cols:  make(map[string]map[string]record),
		subs:  make(map[*subscription]struct{}),
		newID: uuid.NewString,
	}
}

// SetFailureHook installs fn; nil removes it.
func (s *Store) SetFailureHook(fn FailureHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// HoldDeliveries pauses every live query before its next callback. Writes
// still apply and snapshots queue up in order.
func (s *Store) HoldDeliveries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// ReleaseDeliveries resumes delivery of queued snapshots.
func (s *Store) ReleaseDeliveries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// BreakSubscriptions fails every live query on collection with err, as a
// dropped connection would.
func (s *Store) BreakSubscriptions(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.q.Collection == collection {
			sub.fail(apperrors.SubscriptionFailure(collection, err))
			delete(s.subs, sub)
		}
	}
}

// Stats returns the acknowledged write counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Subscribers returns the number of live queries currently running.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) check(op Op, collection, id string) error {
	if s.closed {
		return apperrors.ServiceUnavailable("store closed")
	}
	if s.hook != nil {
		return s.hook(op, collection, id)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCreate, collection, ""); err != nil {
		return "", err
	}

	col, ok := s.cols[collection]
	if !ok {
		col = make(map[string]record)
		s.cols[collection] = col
	}
	id := s.newID()
	s.seq++
	col[id] = record{seq: s.seq, data: docstore.Clone(data)}
	s.stats.Creates++
	s.publishLocked(collection)
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdate, collection, id); err != nil {
		return err
	}

	rec, ok := s.cols[collection][id]
	if !ok {
		return apperrors.NotFound(collection, id)
	}
	merged := docstore.Clone(rec.data)
	for k, v := range docstore.Clone(patch) {
		merged[k] = v
	}
	s.cols[collection][id] = record{seq: rec.seq, data: merged}
	s.stats.Updates++
	s.publishLocked(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete, collection, id); err != nil {
		return err
	}

	if _, ok := s.cols[collection][id]; !ok {
		return nil
	}
	delete(s.cols[collection], id)
	s.stats.Deletes++
	s.publishLocked(collection)
	return nil
}

func (s *Store) QueryOnce(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpQuery, q.Collection, ""); err != nil {
		return nil, err
	}
	return s.queryLocked(q), nil
}

func (s *Store) queryLocked(q docstore.Query) []docstore.Document {
	col := s.cols[q.Collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	// creation order first, so the stable sort in Filter keeps it as the tiebreak
	sort.Slice(ids, func(i, j int) bool { return col[ids[i]].seq < col[ids[j]].seq })

	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, docstore.Document{ID: id, Data: docstore.Clone(col[id].data)})
	}
	return docstore.Filter(docs, q)
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSubscribe, q.Collection, ""); err != nil {
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	sub := newSubscription(s, q, fn)
	s.subs[sub] = struct{}{}
	sub.offer(s.queryLocked(q))
	go sub.run(ctx)
	return sub, nil
}

// publishLocked re-evaluates every live query on collection. Results are
// computed under the store lock, so queue order matches write order.
func (s *Store) publishLocked(collection string) {
	for sub := range s.subs {
		if sub.q.Collection == collection {
			sub.offer(s.queryLocked(sub.q))
		}
	}
}

func (s *Store) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *Store) currentGate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.ServiceUnavailable("store closed")
	}
	return nil
}

// Close stops every live query.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*subscription]struct{})
	s.closed = true
	s.mu.Unlock()

	for sub := range subs {
		sub.Stop()
	}
	return nil
}
