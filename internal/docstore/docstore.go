// Package docstore defines the document-store contract the cart engine and
// checkout run against: schemaless documents grouped in collections,
// equality-filtered queries, and live queries that deliver the full result
// set on every change.
//
// Backends live in sub-packages (memory, redis, postgres, firestore).
package docstore

import (
	"context"
	"sort"
)

// Document is one stored record. Data holds JSON-compatible values; backends
// that round-trip through JSON return numbers as json.Number and times as
// RFC 3339 strings, so read fields through the helpers in values.go.
type Document struct {
	ID   string
	Data map[string]any
}

// Condition is an equality filter on a top-level field.
type Condition struct {
	Field string
	Value any
}

// Query selects documents of one collection. Without OrderBy, results come
// back in creation order.
type Query struct {
	Collection string
	Where      []Condition
	OrderBy    string
	Descending bool
}

// SnapshotFunc receives the complete result set of a live query each time
// it changes. A non-nil err means the subscription is broken and no further
// snapshots will follow.
type SnapshotFunc func(docs []Document, err error)

// Subscription is a running live query.
type Subscription interface {
	// Stop ends delivery. It is idempotent and does not wait for an
	// in-flight callback to return.
	Stop()
}

// Store is the remote document store.
type Store interface {
	// Create adds a document under a store-assigned id.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	// Update merges patch into an existing document. A missing id is a
	// NotFound error; Update never creates.
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// Delete removes a document. Deleting a missing id succeeds.
	Delete(ctx context.Context, collection, id string) error
	// QueryOnce runs q a single time.
	QueryOnce(ctx context.Context, q Query) ([]Document, error)
	// Subscribe starts a live query. The first snapshot is the current
	// result set; deliveries for one subscription are serialized and in
	// order. The subscription ends when ctx is done or Stop is called.
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Subscription, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Matches reports whether data satisfies every condition.
func Matches(data map[string]any, where []Condition) bool {
	for _, c := range where {
		v, ok := data[c.Field]
		if !ok || !Equal(v, c.Value) {
			return false
		}
	}
	return true
}

// Filter returns the documents matching q.Where, ordered per q.
func Filter(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if Matches(d.Data, q.Where) {
			out = append(out, d)
		}
	}
	Sort(out, q)
	return out
}

// Sort orders docs by q.OrderBy. It is stable, so documents with equal keys
// keep their creation order. Documents missing the field sort last.
func Sort(docs []Document, q Query) {
	if q.OrderBy == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, aok := docs[i].Data[q.OrderBy]
		b, bok := docs[j].Data[q.OrderBy]
		switch {
		case !aok || !bok:
			return aok && !bok
		case q.Descending:
			return Compare(a, b) > 0
		default:
			return Compare(a, b) < 0
		}
	})
}

// SameResult reports whether two result sets are identical, ids and data.
// Live queries use it to skip redundant deliveries.
func SameResult(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

// WhereMap returns the conditions as one object, for backends that push
// filters down as JSON containment.
func (q Query) WhereMap() map[string]any {
	m := make(map[string]any, len(q.Where))
	for _, c := range q.Where {
		m[c.Field] = c.Value
	}
	return m
}
