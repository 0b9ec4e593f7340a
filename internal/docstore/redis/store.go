// Package redis is a docstore.Store on Redis. Each document is a JSON string
// key, each collection keeps a sorted set of ids scored by a global sequence
// for creation order, and every write publishes on the collection's channel
// so live queries can re-run. Owner fields get one extra sorted set per
// value so a user's query reads only that user's documents.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

const (
	defaultPrefix = "docs"
	maxMergeTries = 5
)

// Store implements docstore.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// New wraps an existing client. Close closes it.
func New(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		prefix: defaultPrefix,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

func (s *Store) docKey(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, collection, id)
}

func (s *Store) indexKey(collection string) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, collection)
}

// indexedFields are the equality filters QueryOnce answers from a per-value
// set instead of the whole collection.
var indexedFields = []string{"userId"}

func (s *Store) fieldKey(collection, field, value string) string {
	return fmt.Sprintf("%s:%s:by:%s:%s", s.prefix, collection, field, value)
}

// fieldValues returns the indexed string fields present in data.
func fieldValues(data map[string]any) map[string]string {
	out := make(map[string]string, len(indexedFields))
	for _, f := range indexedFields {
		if v, ok := data[f].(string); ok && v != "" {
			out[f] = v
		}
	}
	return out
}

func (s *Store) channel(collection string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, collection)
}

func (s *Store) seqKey() string { return s.prefix + ":seq" }

// Create stores data under a new UUID.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("redis incr seq: %w", err)
	}

	id := uuid.NewString()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(collection, id), raw, 0)
		pipe.ZAdd(ctx, s.indexKey(collection), redis.Z{Score: float64(seq), Member: id})
		for f, v := range fieldValues(data) {
			pipe.ZAdd(ctx, s.fieldKey(collection, f, v), redis.Z{Score: float64(seq), Member: id})
		}
		pipe.Publish(ctx, s.channel(collection), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis create %s: %w", collection, err)
	}
	return id, nil
}

// Update merges patch into the stored document under WATCH, retrying when
// another writer touches the key between the read and the write.
func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	key := s.docKey(collection, id)

	merge := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperrors.NotFound(collection, id)
			}
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		data, err := decode(raw)
		if err != nil {
			return err
		}
		before := fieldValues(data)
		for k, v := range patch {
			data[k] = v
		}
		after := fieldValues(data)
		out, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		var seq float64
		if !maps.Equal(before, after) {
			seq, err = tx.ZScore(ctx, s.indexKey(collection), id).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("redis zscore %s: %w", id, err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			for _, f := range indexedFields {
				if before[f] == after[f] {
					continue
				}
				if v, ok := before[f]; ok {
					pipe.ZRem(ctx, s.fieldKey(collection, f, v), id)
				}
				if v, ok := after[f]; ok {
					pipe.ZAdd(ctx, s.fieldKey(collection, f, v), redis.Z{Score: seq, Member: id})
				}
			}
			pipe.Publish(ctx, s.channel(collection), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxMergeTries; i++ {
		err := s.client.Watch(ctx, merge, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return err
			}
			return fmt.Errorf("redis update %s: %w", collection, err)
		}
		return nil
	}
	return apperrors.Conflict(fmt.Sprintf("%s/%s kept changing during update", collection, id))
}

// Delete removes the document. Missing ids succeed without publishing.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	raw, err := s.client.GetDel(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis getdel: %w", err)
	}
	// An unreadable body leaves its owner entry behind; MGET skips it.
	data, _ := decode(raw)

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey(collection), id)
		for f, v := range fieldValues(data) {
			pipe.ZRem(ctx, s.fieldKey(collection, f, v), id)
		}
		pipe.Publish(ctx, s.channel(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", collection, err)
	}
	return nil
}

// QueryOnce loads candidates in creation order and filters them. An
// equality condition on an indexed field narrows the candidates to that
// value's set.
func (s *Store) QueryOnce(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	ids, err := s.client.ZRange(ctx, s.candidates(q), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	if len(ids) == 0 {
		return []docstore.Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(q.Collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	docs := make([]docstore.Document, 0, len(ids))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		data, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: ids[i], Data: data})
	}
	return docstore.Filter(docs, q), nil
}

func (s *Store) candidates(q docstore.Query) string {
	for _, c := range q.Where {
		v, ok := c.Value.(string)
		if ok && slices.Contains(indexedFields, c.Field) {
			return s.fieldKey(q.Collection, c.Field, v)
		}
	}
	return s.indexKey(q.Collection)
}

// Subscribe listens on the collection channel before running the initial
// query, so no write between the two is missed.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel(q.Collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	initial, err := s.QueryOnce(ctx, q)
	if err != nil {
		_ = ps.Close()
		return nil, apperrors.SubscriptionFailure(q.Collection, err)
	}

	sub := &subscription{
		store:  s,
		q:      q,
		fn:     fn,
		pubsub: ps,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(ctx, initial)
	return sub, nil
}

func (s *Store) forget(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close stops live queries and closes the client.
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

func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return data, nil
}
