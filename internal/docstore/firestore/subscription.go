package firestore

import (
	"context"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

type subscription struct {
	store  *Store
	q      docstore.Query
	fn     docstore.SnapshotFunc
	it     *firestore.QuerySnapshotIterator
	cancel context.CancelFunc

	stopOnce sync.Once
}

func (s *subscription) run(ctx context.Context, initial []docstore.Document) {
	defer s.store.forget(s)
	defer s.it.Stop()

	last := initial
	s.fn(docstore.CloneDocuments(initial), nil)

	for {
		qs, err := s.it.Next()
		if err == nil {
			var docs []docstore.Document
			docs, err = collect(qs)
			if err == nil {
				if docstore.SameResult(last, docs) || ctx.Err() != nil {
					continue
				}
				last = docs
				s.fn(docstore.CloneDocuments(docs), nil)
				continue
			}
		}
		if ctx.Err() != nil || isStopped(err) {
			return
		}
		s.store.logger.ErrorContext(ctx, "firestore snapshot listener failed",
			slog.String("collection", s.q.Collection),
			slog.String("error", err.Error()),
		)
		s.fn(nil, apperrors.SubscriptionFailure(s.q.Collection, err))
		return
	}
}

func (s *subscription) Stop() {
	s.stopOnce.Do(s.cancel)
}
