// Package cartsync keeps a local mirror of the signed-in user's cart and
// order history in step with the document store, and applies cart
// mutations against the store.
//
// The mirror only changes when a live-query snapshot arrives; mutations
// return once the store acknowledges the write and never touch it. Each
// identity change bumps a generation, and snapshots carrying an older
// generation are dropped, so a previous user's lines never reach the mirror
// after a switch.
package cartsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/metrics"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/internal/repository"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/validator"
)

// Observer receives cart views in the order they were applied. Observers
// run on the engine's delivery path and must not call SwitchIdentity or
// Resync.
type Observer func(View)

type observer struct {
	id int
	fn Observer
}

// Engine is safe for concurrent use.
type Engine struct {
	store    docstore.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// base outlives any single request; live queries run under it.
	base context.Context

	cart   atomic.Pointer[View]
	orders atomic.Pointer[OrdersView]
	gen    atomic.Uint64

	// mu guards subscription bookkeeping only.
	mu       sync.Mutex
	identity domain.Identity
	cartSub  docstore.Subscription
	orderSub docstore.Subscription
	closed   bool

	obsMu     sync.RWMutex
	observers []observer
	nextObs   int

	// pubMu orders deliveries to observers.
	pubMu         sync.Mutex
	lastPublished *View
}

// New creates an engine with an empty, signed-out mirror. Live queries run
// under base until Close or base is cancelled.
func New(base context.Context, store docstore.Store, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		base:     base,
	}
	e.cart.Store(emptyView(domain.Identity{}, 0))
	e.orders.Store(emptyOrders(domain.Identity{}, 0))
	return e
}

// Cart returns a copy of the current cart view.
func (e *Engine) Cart() View {
	return e.cart.Load().clone()
}

// GrandTotal is the total of the current cart view.
func (e *Engine) GrandTotal() decimal.Decimal {
	return e.cart.Load().GrandTotal
}

// Orders returns a copy of the current order-history view.
func (e *Engine) Orders() OrdersView {
	return e.orders.Load().clone()
}

// Identity is the identity the mirrors currently follow.
func (e *Engine) Identity() domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// Degraded reports whether either live query is broken.
func (e *Engine) Degraded() bool {
	return e.cart.Load().Stale || e.orders.Load().Stale
}

// OnChange registers fn for every new cart view and returns a function
// that unregisters it. Views for one identity arrive in order.
func (e *Engine) OnChange(fn Observer) (cancel func()) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.nextObs++
	id := e.nextObs
	e.observers = append(e.observers, observer{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			defer e.obsMu.Unlock()
			for i, o := range e.observers {
				if o.id == id {
					e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// publish delivers the current view unless it was already delivered. It
// always reads the latest pointer, so a late caller never rolls observers
// back to an older view.
func (e *Engine) publish() {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	v := e.cart.Load()
	if v == e.lastPublished {
		return
	}
	e.lastPublished = v

	if e.metrics != nil {
		e.metrics.CartLines.Set(float64(len(v.Cart.Lines)))
		e.metrics.GrandTotal.Set(v.GrandTotal.InexactFloat64())
	}

	e.obsMu.RLock()
	obs := make([]observer, len(e.observers))
	copy(obs, e.observers)
	e.obsMu.RUnlock()

	for _, o := range obs {
		o.fn(v.clone())
	}
}

// SwitchIdentity tears down the current live queries, swaps in empty
// mirrors owned by id and, unless id is zero, opens new live queries for
// it. The returned error is a SubscriptionFailure; the engine is then
// degraded until Resync succeeds.
func (e *Engine) SwitchIdentity(ctx context.Context, id domain.Identity) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.ServiceUnavailable("cart engine closed")
	}
	e.stopLocked()

	gen := e.gen.Add(1)
	e.identity = id
	view := emptyView(id, gen)
	e.cart.Store(view)
	e.orders.Store(emptyOrders(id, gen))
	if e.metrics != nil {
		e.metrics.IdentitySwitches.Inc()
	}

	var (
		failed string
		err    error
	)
	if !id.IsZero() {
		failed, err = e.subscribeLocked(id, gen)
	}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "cart mirror switched identity",
		slog.String("identity_id", id.ID),
		slog.Uint64("generation", gen),
	)
	e.publish()
	return e.subscribeFailed(ctx, failed, gen, err)
}

// Resync re-opens the live queries for the current identity after a
// failure. The mirrors keep their last contents, still marked stale, until
// the first fresh snapshot replaces them.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.ServiceUnavailable("cart engine closed")
	}
	if e.identity.IsZero() {
		e.mu.Unlock()
		return nil
	}
	e.stopLocked()

	gen := e.gen.Add(1)
	cv := *e.cart.Load()
	cv.generation = gen
	e.cart.Store(&cv)
	ov := *e.orders.Load()
	ov.generation = gen
	e.orders.Store(&ov)

	id := e.identity
	failed, err := e.subscribeLocked(id, gen)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "resynced live queries",
		slog.String("identity_id", id.ID),
		slog.Uint64("generation", gen),
	)
	return e.subscribeFailed(ctx, failed, gen, err)
}

// subscribeLocked opens both live queries. On failure it returns the
// collection whose query could not be opened.
func (e *Engine) subscribeLocked(id domain.Identity, gen uint64) (string, error) {
	cartSub, err := e.store.Subscribe(e.base, repository.CartQuery(id.ID), e.onCartSnapshot(id, gen))
	if err != nil {
		return repository.Carts, err
	}
	e.cartSub = cartSub

	orderSub, err := e.store.Subscribe(e.base, repository.OrderHistoryQuery(id.ID), e.onOrderSnapshot(id, gen))
	if err != nil {
		return repository.Orders, err
	}
	e.orderSub = orderSub
	return "", nil
}

func (e *Engine) subscribeFailed(ctx context.Context, collection string, gen uint64, err error) error {
	if err == nil {
		return nil
	}
	if collection == repository.Carts {
		// the order query was never attempted
		e.markStale(ctx, repository.Orders, gen, err)
	}
	e.markStale(ctx, collection, gen, err)
	return apperrors.SubscriptionFailure(collection, err)
}

func (e *Engine) stopLocked() {
	if e.cartSub != nil {
		e.cartSub.Stop()
		e.cartSub = nil
	}
	if e.orderSub != nil {
		e.orderSub.Stop()
		e.orderSub = nil
	}
}

func (e *Engine) onCartSnapshot(owner domain.Identity, gen uint64) docstore.SnapshotFunc {
	return func(docs []docstore.Document, err error) {
		if err != nil {
			e.markStale(e.base, repository.Carts, gen, err)
			return
		}

		// Unreadable lines are left out and the view is flagged stale until a
		// clean snapshot arrives.
		cart, derr := repository.DecodeCart(owner, docs)
		next := &View{
			Cart:       cart,
			GrandTotal: domain.GrandTotal(cart.Lines),
			Loaded:     true,
			Stale:      derr != nil,
			generation: gen,
		}

		var prev *View
		for {
			cur := e.cart.Load()
			if cur.generation != gen {
				e.discarded(repository.Carts)
				return
			}
			if e.cart.CompareAndSwap(cur, next) {
				prev = cur
				break
			}
		}
		if e.metrics != nil {
			e.metrics.SnapshotsApplied.WithLabelValues(repository.Carts).Inc()
		}
		if derr != nil {
			e.unreadable(repository.Carts, owner, derr)
			if !prev.Stale {
				e.notifier.Notify(e.base, notify.Warning, notify.MsgCartStale)
			}
		}
		e.publish()
	}
}

func (e *Engine) onOrderSnapshot(owner domain.Identity, gen uint64) docstore.SnapshotFunc {
	return func(docs []docstore.Document, err error) {
		if err != nil {
			e.markStale(e.base, repository.Orders, gen, err)
			return
		}

		orders, derr := repository.DecodeOrders(docs)
		next := &OrdersView{Owner: owner, Orders: orders, Loaded: true, Stale: derr != nil, generation: gen}

		for {
			cur := e.orders.Load()
			if cur.generation != gen {
				e.discarded(repository.Orders)
				return
			}
			if e.orders.CompareAndSwap(cur, next) {
				break
			}
		}
		if e.metrics != nil {
			e.metrics.SnapshotsApplied.WithLabelValues(repository.Orders).Inc()
		}
		if derr != nil {
			e.unreadable(repository.Orders, owner, derr)
		}
	}
}

// unreadable records a snapshot that carried documents the mirror could
// not decode.
func (e *Engine) unreadable(collection string, owner domain.Identity, cause error) {
	if e.metrics != nil {
		e.metrics.DocumentsSkipped.WithLabelValues(collection).Inc()
	}
	e.logger.ErrorContext(e.base, "skipped undecodable documents, mirror is stale",
		slog.String("collection", collection),
		slog.String("identity_id", owner.ID),
		slog.String("error", cause.Error()),
	)
}

func (e *Engine) discarded(collection string) {
	if e.metrics != nil {
		e.metrics.SnapshotsDiscarded.WithLabelValues(collection).Inc()
	}
}

// markStale flags the mirror for collection as stale if it still belongs
// to gen. The contents are kept.
func (e *Engine) markStale(ctx context.Context, collection string, gen uint64, cause error) {
	cartChanged := false
	switch collection {
	case repository.Carts:
		for {
			cur := e.cart.Load()
			if cur.generation != gen || cur.Stale {
				return
			}
			next := *cur
			next.Stale = true
			if e.cart.CompareAndSwap(cur, &next) {
				cartChanged = true
				break
			}
		}
	case repository.Orders:
		for {
			cur := e.orders.Load()
			if cur.generation != gen || cur.Stale {
				return
			}
			next := *cur
			next.Stale = true
			if e.orders.CompareAndSwap(cur, &next) {
				break
			}
		}
	}

	if e.metrics != nil {
		e.metrics.SubscriptionFailures.WithLabelValues(collection).Inc()
	}
	e.logger.ErrorContext(ctx, "live query failed, mirror is stale",
		slog.String("collection", collection),
		slog.String("error", cause.Error()),
	)
	if cartChanged {
		e.notifier.Notify(ctx, notify.Warning, notify.MsgCartStale)
		e.publish()
	}
}

// Close stops the live queries. Further switches fail.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.closed = true
}

// lookup finds the line for productID, from the mirror when it is loaded
// and owned by id, otherwise with a one-shot query.
func (e *Engine) lookup(ctx context.Context, id domain.Identity, productID string) (domain.CartLine, bool, error) {
	v := e.cart.Load()
	if v.Loaded && v.Cart.Owner == id {
		l, ok := v.Cart.Find(productID)
		return l, ok, nil
	}

	docs, err := e.store.QueryOnce(ctx, repository.CartProductQuery(id.ID, productID))
	if err != nil {
		return domain.CartLine{}, false, err
	}
	if len(docs) == 0 {
		return domain.CartLine{}, false, nil
	}
	l, err := repository.DecodeCartLine(docs[0])
	if err != nil {
		return domain.CartLine{}, false, err
	}
	return l, true, nil
}

func requireIdentity(id domain.Identity) error {
	if id.IsZero() {
		return apperrors.Unauthorized("sign in required")
	}
	return nil
}

// writeFailed records and reports a rejected write.
func (e *Engine) writeFailed(ctx context.Context, op, productID string, cause error) error {
	if e.metrics != nil {
		e.metrics.WriteFailures.WithLabelValues(op, repository.Carts).Inc()
	}
	e.logger.ErrorContext(ctx, "cart write failed",
		slog.String("op", op),
		slog.String("product_id", productID),
		slog.String("error", cause.Error()),
	)
	e.notifier.Notify(ctx, notify.Error, notify.MsgGeneric)
	return apperrors.WriteFailure(op, repository.Carts, cause)
}

// AddToCart increments the existing line for the product or creates one
// with quantity 1. Two adds of a new product racing before the first
// snapshot lands can both create a line; Find then uses the first.
func (e *Engine) AddToCart(ctx context.Context, p domain.Product, id domain.Identity) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	if err := validator.Validate(p); err != nil {
		return err
	}
	if p.Price.IsNegative() {
		return apperrors.InvalidInput("price must not be negative")
	}

	line, found, err := e.lookup(ctx, id, p.ID)
	if err != nil {
		return e.writeFailed(ctx, "lookup", p.ID, err)
	}

	if found {
		if err := e.store.Update(ctx, repository.Carts, line.ID, repository.QuantityPatch(line.Quantity+1)); err != nil {
			return e.writeFailed(ctx, "update", p.ID, err)
		}
	} else {
		if _, err := e.store.Create(ctx, repository.Carts, repository.NewCartLine(id.ID, p)); err != nil {
			return e.writeFailed(ctx, "create", p.ID, err)
		}
	}

	e.notifier.Notify(ctx, notify.Success, notify.MsgItemAdded)
	return nil
}

// IncreaseQuantity writes the mirrored quantity plus one. The write is an
// absolute value, so two increments racing on the same snapshot both write
// the same number and one is lost.
func (e *Engine) IncreaseQuantity(ctx context.Context, productID string, id domain.Identity) error {
	if err := requireIdentity(id); err != nil {
		return err
	}

	line, found, err := e.lookup(ctx, id, productID)
	if err != nil {
		return e.writeFailed(ctx, "lookup", productID, err)
	}
	if !found {
		return nil
	}

	if err := e.store.Update(ctx, repository.Carts, line.ID, repository.QuantityPatch(line.Quantity+1)); err != nil {
		return e.writeFailed(ctx, "update", productID, err)
	}
	return nil
}

// DecreaseQuantity writes the mirrored quantity minus one, or deletes the
// line when it would reach zero.
func (e *Engine) DecreaseQuantity(ctx context.Context, productID string, id domain.Identity) error {
	if err := requireIdentity(id); err != nil {
		return err
	}

	line, found, err := e.lookup(ctx, id, productID)
	if err != nil {
		return e.writeFailed(ctx, "lookup", productID, err)
	}
	if !found {
		return nil
	}

	if line.Quantity > 1 {
		if err := e.store.Update(ctx, repository.Carts, line.ID, repository.QuantityPatch(line.Quantity-1)); err != nil {
			return e.writeFailed(ctx, "update", productID, err)
		}
		return nil
	}

	if err := e.store.Delete(ctx, repository.Carts, line.ID); err != nil {
		return e.writeFailed(ctx, "delete", productID, err)
	}
	e.notifier.Notify(ctx, notify.Warning, notify.MsgQuantityZero)
	return nil
}

// RemoveFromCart deletes every line for the product, found with a fresh
// query rather than the mirror so duplicates are removed too.
func (e *Engine) RemoveFromCart(ctx context.Context, productID string, id domain.Identity) error {
	if err := requireIdentity(id); err != nil {
		return err
	}

	docs, err := e.store.QueryOnce(ctx, repository.CartProductQuery(id.ID, productID))
	if err != nil {
		return e.writeFailed(ctx, "query", productID, err)
	}

	var errs []error
	for _, d := range docs {
		if err := e.store.Delete(ctx, repository.Carts, d.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return e.writeFailed(ctx, "delete", productID, err)
	}

	e.notifier.Notify(ctx, notify.Success, notify.MsgItemRemoved)
	return nil
}
