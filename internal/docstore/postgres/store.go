// Package postgres is a docstore.Store on PostgreSQL. Documents live in a
// single JSONB table keyed by (collection, id); a trigger raises
// NOTIFY documents_changed with the collection name on every write, which
// live queries LISTEN for.
package postgres

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/pkg/database"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

// Channel is the NOTIFY channel raised by the documents trigger.
const Channel = "documents_changed"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema for RunMigrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	insertSQL = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`
	updateSQL = `UPDATE documents SET data = data || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`
	deleteSQL = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	selectSQL = `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY seq`
	pingSQL   = `SELECT 1`
)

// Store implements docstore.Store using PostgreSQL.
type Store struct {
	db     database.DBTX
	listen ListenFunc
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// New creates a store over db. listen opens notification listeners for live
// queries; use PoolListener for a real pool.
func New(db database.DBTX, listen ListenFunc, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		listen: listen,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (id string, err error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "docs.create", insertSQL)
	defer func() { end(err) }()

	id = uuid.NewString()
	if _, err = s.db.Exec(ctx, insertSQL, collection, id, string(raw)); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any) (err error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "docs.update", updateSQL)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, updateSQL, collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "docs.delete", deleteSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, deleteSQL, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// QueryOnce pushes the equality filters down as JSONB containment and sorts
// in Go, so ordering rules match every other backend.
func (s *Store) QueryOnce(ctx context.Context, q docstore.Query) (docs []docstore.Document, err error) {
	where, err := json.Marshal(q.WhereMap())
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "docs.query", selectSQL)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, selectSQL, q.Collection, string(where))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs = []docstore.Document{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err = rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data, derr := decode(raw)
		if derr != nil {
			return nil, derr
		}
		docs = append(docs, docstore.Document{ID: id, Data: data})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	// containment already filtered; Filter re-checks numerics and applies order
	return docstore.Filter(docs, q), nil
}

// Subscribe starts listening before the initial query so no write between
// the two is missed.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	if s.listen == nil {
		return nil, apperrors.SubscriptionFailure(q.Collection, fmt.Errorf("no listener configured"))
	}

	subCtx, cancel := context.WithCancel(ctx)
	l, err := s.listen(subCtx, Channel)
	if err != nil {
		cancel()
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	initial, err := s.QueryOnce(subCtx, q)
	if err != nil {
		cancel()
		_ = l.Close(context.Background())
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	sub := &subscription{store: s, q: q, fn: fn, listener: l, cancel: cancel}
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

func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, pingSQL).Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close stops live queries. The pool is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*subscription]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.Stop()
	}
	return nil
}

func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return data, nil
}
