// Package firestore is a docstore.Store on Cloud Firestore, using its native
// query snapshots for live queries. Where plus OrderBy on different fields
// needs a composite index in the project (userId asc, date desc on orders).
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

// Config selects the Firestore project. CredentialsFile may be empty to use
// application default credentials or the emulator.
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// NewClient opens a Firestore client for cfg.
func NewClient(ctx context.Context, cfg Config) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client (project=%s): %w", cfg.ProjectID, err)
	}
	return client, nil
}

// Store implements docstore.Store using Firestore.
type Store struct {
	client *firestore.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// New wraps client. Close closes it.
func New(client *firestore.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("firestore add %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	updates := make([]firestore.Update, 0, len(patch))
	for k, v := range patch {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}

	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFound(collection, id)
		}
		return fmt.Errorf("firestore update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete succeeds for missing documents; Firestore deletes are idempotent.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) query(q docstore.Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, c := range q.Where {
		fq = fq.Where(c.Field, "==", c.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	return fq
}

func (s *Store) QueryOnce(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	iter := s.query(q).Documents(ctx)
	defer iter.Stop()

	docs := []docstore.Document{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query %s: %w", q.Collection, err)
		}
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

// Subscribe waits for the first snapshot so a rejected listen (missing
// index, permission denied) is reported to the caller rather than later.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	it := s.query(q).Snapshots(subCtx)

	first, err := it.Next()
	if err != nil {
		cancel()
		it.Stop()
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}
	initial, err := collect(first)
	if err != nil {
		cancel()
		it.Stop()
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	sub := &subscription{store: s, q: q, fn: fn, it: it, cancel: cancel}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(subCtx, initial)
	return sub, nil
}

func (s *Store) forget(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Ping lists one collection id; an empty database still answers.
func (s *Store) Ping(ctx context.Context) error {
	it := s.client.Collections(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*subscription]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.Stop()
	}
	return s.client.Close()
}

func collect(qs *firestore.QuerySnapshot) ([]docstore.Document, error) {
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

func toDocument(snap *firestore.DocumentSnapshot) docstore.Document {
	return docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// isStopped reports errors a snapshot iterator returns after Stop or
// context cancellation.
func isStopped(err error) bool {
	if errors.Is(err, iterator.Done) || errors.Is(err, context.Canceled) {
		return true
	}
	return status.Code(err) == codes.Canceled
}
