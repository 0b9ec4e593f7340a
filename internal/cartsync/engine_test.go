package cartsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaBheke/BusyBuy/internal/docstore/memory"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/metrics"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/internal/repository"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	alice = domain.Identity{ID: "u-alice"}
	bob   = domain.Identity{ID: "u-bob"}
)

type fixture struct {
	store   *memory.Store
	notes   *notify.Channel
	metrics *metrics.Metrics
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	notes := notify.NewChannel(64)
	m := metrics.New(prometheus.NewRegistry())
	e := New(context.Background(), store, notes, m, logger.Discard())
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return &fixture{store: store, notes: notes, metrics: m, engine: e}
}

func product(id, price string) domain.Product {
	return domain.Product{ID: id, Title: "Product " + id, Description: "desc", Price: decimal.RequireFromString(price)}
}

func messages(ns []notify.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Message)
	}
	return out
}

// waitQuantity blocks until the mirror shows qty for productID; qty 0 means
// the line is gone.
func (f *fixture) waitQuantity(t *testing.T, productID string, qty int) {
	t.Helper()
	require.Eventually(t, func() bool {
		v := f.engine.Cart()
		l, ok := v.Cart.Find(productID)
		if qty == 0 {
			return v.Loaded && !ok
		}
		return ok && l.Quantity == qty
	}, waitFor, tick)
}

func (f *fixture) switchTo(t *testing.T, id domain.Identity) {
	t.Helper()
	require.NoError(t, f.engine.SwitchIdentity(context.Background(), id))
	require.Eventually(t, func() bool { return f.engine.Cart().Loaded }, waitFor, tick)
}

func TestEngine_AddIncreaseDecrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "20"), alice))
	f.waitQuantity(t, "p1", 1)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "20"), alice))
	f.waitQuantity(t, "p1", 2)

	require.NoError(t, f.engine.IncreaseQuantity(ctx, "p1", alice))
	f.waitQuantity(t, "p1", 3)

	require.NoError(t, f.engine.DecreaseQuantity(ctx, "p1", alice))
	f.waitQuantity(t, "p1", 2)

	v := f.engine.Cart()
	require.Len(t, v.Cart.Lines, 1)
	assert.Equal(t, alice.ID, v.Cart.Lines[0].UserID)
	assert.True(t, f.engine.GrandTotal().Equal(decimal.NewFromInt(40)))

	assert.Equal(t, []string{notify.MsgItemAdded, notify.MsgItemAdded}, messages(f.notes.Drain()))
	assert.Equal(t, memory.Stats{Creates: 1, Updates: 3}, f.store.Stats())
}

func TestEngine_DecreaseAtOneDeletesWithWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "5"), alice))
	f.waitQuantity(t, "p1", 1)
	f.notes.Drain()

	require.NoError(t, f.engine.DecreaseQuantity(ctx, "p1", alice))
	f.waitQuantity(t, "p1", 0)

	got := f.notes.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.Warning, got[0].Level)
	assert.Equal(t, notify.MsgQuantityZero, got[0].Message)
	assert.Equal(t, 1, f.store.Stats().Deletes)
	assert.True(t, f.engine.GrandTotal().IsZero())
}

func TestEngine_IncreaseAndDecreaseOfAbsentLineAreNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.IncreaseQuantity(ctx, "missing", alice))
	require.NoError(t, f.engine.DecreaseQuantity(ctx, "missing", alice))

	assert.Zero(t, f.store.Stats().Writes())
	assert.Empty(t, f.notes.Drain())
}

func TestEngine_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.AddToCart(ctx, product("p1", "1"), domain.Identity{})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.IncreaseQuantity(ctx, "p1", domain.Identity{}), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.DecreaseQuantity(ctx, "p1", domain.Identity{}), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.RemoveFromCart(ctx, "p1", domain.Identity{}), apperrors.ErrUnauthorized)
	assert.Zero(t, f.store.Stats().Writes())
}

func TestEngine_AddRejectsInvalidProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.AddToCart(ctx, domain.Product{Title: "no id", Price: decimal.NewFromInt(1)}, alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = f.engine.AddToCart(ctx, product("p1", "-1"), alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, f.store.Stats().Writes())
}

func TestEngine_AddWithoutMirrorFallsBackToQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// no identity switch: the mirror is not alice's, so lookups hit the store
	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "3"), alice))
	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "3"), alice))

	docs, err := f.store.QueryOnce(ctx, repository.CartProductQuery(alice.ID, "p1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	line, err := repository.DecodeCartLine(docs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
}

func TestEngine_RemoveDeletesDuplicateLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	// both adds read the mirror before either create is delivered
	f.store.HoldDeliveries()
	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "2"), alice))
	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "2"), alice))
	f.store.ReleaseDeliveries()

	require.Eventually(t, func() bool { return len(f.engine.Cart().Cart.Lines) == 2 }, waitFor, tick)
	assert.Equal(t, 2, f.store.Stats().Creates)
	f.notes.Drain()

	require.NoError(t, f.engine.RemoveFromCart(ctx, "p1", alice))
	f.waitQuantity(t, "p1", 0)
	assert.Equal(t, 2, f.store.Stats().Deletes)
	assert.Equal(t, []string{notify.MsgItemRemoved}, messages(f.notes.Drain()))
}

func TestEngine_ConcurrentIncreasesOnSameSnapshotLoseOneUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "1"), alice))
	f.waitQuantity(t, "p1", 1)

	f.store.HoldDeliveries()
	require.NoError(t, f.engine.IncreaseQuantity(ctx, "p1", alice))
	require.NoError(t, f.engine.IncreaseQuantity(ctx, "p1", alice))
	f.store.ReleaseDeliveries()

	f.waitQuantity(t, "p1", 2)
	docs, err := f.store.QueryOnce(ctx, repository.CartProductQuery(alice.ID, "p1"))
	require.NoError(t, err)
	line, err := repository.DecodeCartLine(docs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 2, f.store.Stats().Updates)
}

func TestEngine_SwitchIdentityNeverShowsPreviousCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, repository.Carts, repository.NewCartLine(alice.ID, product("a1", "1")))
	require.NoError(t, err)
	_, err = f.store.Create(ctx, repository.Carts, repository.NewCartLine(bob.ID, product("b1", "1")))
	require.NoError(t, err)

	f.switchTo(t, alice)

	var (
		mu    sync.Mutex
		views []View
	)
	cancel := f.engine.OnChange(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	})
	defer cancel()

	// queue a snapshot for alice that is still pending when the switch happens
	f.store.HoldDeliveries()
	_, err = f.store.Create(ctx, repository.Carts, repository.NewCartLine(alice.ID, product("a2", "1")))
	require.NoError(t, err)
	require.NoError(t, f.engine.SwitchIdentity(ctx, bob))
	f.store.ReleaseDeliveries()

	require.Eventually(t, func() bool {
		v := f.engine.Cart()
		return v.Loaded && len(v.Cart.Lines) == 1
	}, waitFor, tick)

	v := f.engine.Cart()
	assert.Equal(t, bob, v.Cart.Owner)
	assert.Equal(t, "b1", v.Cart.Lines[0].ProductID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, views)
	switched := false
	for _, got := range views {
		if got.Cart.Owner == bob {
			switched = true
		}
		if switched {
			assert.Equal(t, bob, got.Cart.Owner, "no view for alice after the switch")
		}
		for _, l := range got.Cart.Lines {
			assert.Equal(t, got.Cart.Owner.ID, l.UserID)
		}
	}
	assert.True(t, switched)
}

func TestEngine_SignOutClearsMirrorAndStopsQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)
	assert.Equal(t, 2, f.store.Subscribers())

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "1"), alice))
	f.waitQuantity(t, "p1", 1)

	require.NoError(t, f.engine.SwitchIdentity(ctx, domain.Identity{}))

	v := f.engine.Cart()
	assert.True(t, v.Cart.Owner.IsZero())
	assert.Empty(t, v.Cart.Lines)
	assert.Empty(t, f.engine.Orders().Orders)
	assert.Equal(t, 0, f.store.Subscribers(), "old live queries are detached by the switch")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IdentitySwitches))
}

func TestEngine_WriteFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	f.store.SetFailureHook(func(op memory.Op, _, _ string) error {
		if op == memory.OpCreate {
			return errors.New("permission denied")
		}
		return nil
	})

	err := f.engine.AddToCart(ctx, product("p1", "1"), alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWriteFailure)

	got := f.notes.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.Error, got[0].Level)
	assert.Equal(t, notify.MsgGeneric, got[0].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WriteFailures.WithLabelValues("create", repository.Carts)))
	assert.Empty(t, f.engine.Cart().Cart.Lines)
}

func TestEngine_BrokenQueryMarksStaleAndResyncRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "4"), alice))
	f.waitQuantity(t, "p1", 1)
	f.notes.Drain()

	f.store.BreakSubscriptions(repository.Carts, errors.New("connection reset"))
	require.Eventually(t, f.engine.Degraded, waitFor, tick)

	v := f.engine.Cart()
	assert.True(t, v.Stale)
	require.Len(t, v.Cart.Lines, 1, "last known lines are kept")
	assert.Equal(t, []string{notify.MsgCartStale}, messages(f.notes.Drain()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubscriptionFailures.WithLabelValues(repository.Carts)))

	require.NoError(t, f.engine.Resync(ctx))
	require.Eventually(t, func() bool { return !f.engine.Degraded() }, waitFor, tick)
	assert.Len(t, f.engine.Cart().Cart.Lines, 1)
}

func TestEngine_UndecodableLineFlagsMirrorAndKeepsTheRest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.switchTo(t, alice)

	require.NoError(t, f.engine.AddToCart(ctx, product("p1", "10"), alice))
	f.waitQuantity(t, "p1", 1)
	f.notes.Drain()

	badID, err := f.store.Create(ctx, repository.Carts, map[string]any{
		repository.FieldUserID:    alice.ID,
		repository.FieldProductID: "p2",
		repository.FieldPrice:     "n/a",
		repository.FieldQuantity:  1,
	})
	require.NoError(t, err)

	// later snapshots still apply, so the increase is not lost
	require.NoError(t, f.engine.IncreaseQuantity(ctx, "p1", alice))
	f.waitQuantity(t, "p1", 2)

	v := f.engine.Cart()
	assert.True(t, v.Stale)
	assert.True(t, f.engine.Degraded())
	assert.Len(t, v.Cart.Lines, 1)
	assert.True(t, decimal.NewFromInt(20).Equal(v.GrandTotal))
	assert.Equal(t, []string{notify.MsgCartStale}, messages(f.notes.Drain()), "warned once")
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.DocumentsSkipped.WithLabelValues(repository.Carts)), 1.0)

	require.NoError(t, f.store.Delete(ctx, repository.Carts, badID))
	require.Eventually(t, func() bool { return !f.engine.Degraded() }, waitFor, tick)
	assert.Equal(t, 2, f.engine.Cart().Cart.Lines[0].Quantity)
}

func TestEngine_SubscribeFailureDegradesUntilResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.SetFailureHook(func(op memory.Op, _, _ string) error {
		if op == memory.OpSubscribe {
			return errors.New("unavailable")
		}
		return nil
	})

	err := f.engine.SwitchIdentity(ctx, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSubscriptionFailure)
	assert.True(t, f.engine.Degraded())
	assert.Equal(t, alice, f.engine.Identity())

	f.store.SetFailureHook(nil)
	require.NoError(t, f.engine.Resync(ctx))
	require.Eventually(t, func() bool {
		return !f.engine.Degraded() && f.engine.Cart().Loaded
	}, waitFor, tick)
}

func TestEngine_OrdersMirrorNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	line := domain.CartLine{ID: "l1", UserID: alice.ID, ProductID: "p1", Title: "t", Price: decimal.NewFromInt(1), Quantity: 1}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := f.store.Create(ctx, repository.Orders, repository.OrderData(alice.ID, []domain.CartLine{line}, "1.00", base))
	require.NoError(t, err)
	_, err = f.store.Create(ctx, repository.Orders, repository.OrderData(alice.ID, []domain.CartLine{line}, "1.00", base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.store.Create(ctx, repository.Orders, repository.OrderData(bob.ID, []domain.CartLine{line}, "1.00", base))
	require.NoError(t, err)

	require.NoError(t, f.engine.SwitchIdentity(ctx, alice))
	require.Eventually(t, func() bool { return len(f.engine.Orders().Orders) == 2 }, waitFor, tick)

	orders := f.engine.Orders().Orders
	assert.True(t, orders[0].Timestamp.After(orders[1].Timestamp))
	for _, o := range orders {
		assert.Equal(t, alice.ID, o.UserID)
	}
}

func TestEngine_OnChangeCancel(t *testing.T) {
	f := newFixture(t)

	calls := 0
	cancel := f.engine.OnChange(func(View) { calls++ })
	require.NoError(t, f.engine.SwitchIdentity(context.Background(), domain.Identity{}))
	assert.Equal(t, 1, calls)

	cancel()
	cancel()
	require.NoError(t, f.engine.SwitchIdentity(context.Background(), domain.Identity{}))
	assert.Equal(t, 1, calls)
}

func TestEngine_ClosedRejectsSwitch(t *testing.T) {
	f := newFixture(t)
	f.engine.Close()

	err := f.engine.SwitchIdentity(context.Background(), alice)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}
