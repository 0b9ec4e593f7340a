package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

type subscription struct {
	store    *Store
	q        docstore.Query
	fn       docstore.SnapshotFunc
	listener Listener
	cancel   context.CancelFunc

	stopOnce sync.Once
}

func (s *subscription) run(ctx context.Context, initial []docstore.Document) {
	defer s.store.forget(s)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.listener.Close(closeCtx)
	}()

	last := initial
	s.fn(docstore.CloneDocuments(initial), nil)

	for {
		payload, err := s.listener.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, err)
			return
		}
		if payload != s.q.Collection {
			continue
		}

		docs, err := s.store.QueryOnce(ctx, s.q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, err)
			return
		}
		if docstore.SameResult(last, docs) {
			continue
		}
		last = docs
		if ctx.Err() != nil {
			return
		}
		s.fn(docstore.CloneDocuments(docs), nil)
	}
}

func (s *subscription) fail(ctx context.Context, err error) {
	s.store.logger.ErrorContext(ctx, "live query broken",
		slog.String("collection", s.q.Collection),
		slog.String("error", err.Error()),
	)
	s.fn(nil, apperrors.SubscriptionFailure(s.q.Collection, err))
}

// Stop cancels the pending wait; the goroutine releases the listener.
func (s *subscription) Stop() {
	s.stopOnce.Do(s.cancel)
}
