package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

type subscription struct {
	store  *Store
	q      docstore.Query
	fn     docstore.SnapshotFunc
	pubsub *redis.PubSub

	done     chan struct{}
	stopOnce sync.Once
}

// run delivers the initial result, then re-runs the query on every message
// and delivers only when the result changed. go-redis resubscribes after a
// dropped connection and reports it as a *redis.Subscription; writes
// published while disconnected are lost, so that also triggers a re-run.
func (s *subscription) run(ctx context.Context, initial []docstore.Document) {
	defer s.store.forget(s)
	defer s.pubsub.Close()

	last := initial
	s.fn(docstore.CloneDocuments(initial), nil)

	msgs := s.pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				if !s.stopped() {
					s.fn(nil, apperrors.SubscriptionFailure(s.q.Collection, redis.ErrClosed))
				}
				return
			}
			if sub, isSub := msg.(*redis.Subscription); isSub {
				if sub.Kind != "subscribe" {
					continue
				}
				s.store.logger.InfoContext(ctx, "live query resubscribed",
					slog.String("collection", s.q.Collection),
				)
			}
		}

		docs, err := s.store.QueryOnce(ctx, s.q)
		if err != nil {
			if ctx.Err() != nil || s.stopped() {
				return
			}
			s.store.logger.ErrorContext(ctx, "live query refresh failed",
				slog.String("collection", s.q.Collection),
				slog.String("error", err.Error()),
			)
			s.fn(nil, apperrors.SubscriptionFailure(s.q.Collection, err))
			return
		}
		if docstore.SameResult(last, docs) {
			continue
		}
		last = docs
		if s.stopped() {
			return
		}
		s.fn(docstore.CloneDocuments(docs), nil)
	}
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
