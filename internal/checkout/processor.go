// Package checkout turns a cart snapshot into an order and clears the cart
// lines that produced it.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/event"
	"github.com/AdityaBheke/BusyBuy/internal/metrics"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/internal/repository"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/tracing"
)

const tracerName = "github.com/AdityaBheke/BusyBuy/internal/checkout"

// State is the checkout state machine: Idle, then Committing, then
// Committed or Failed. A new purchase starts again from either end state.
type State string

const (
	StateIdle       State = "idle"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// Result describes a finished purchase. OrderID is set whenever the order
// document was written, including partial commits.
type Result struct {
	State   State  `json:"state"`
	OrderID string `json:"orderId,omitempty"`
}

// Events is the subset of event.Producer the processor publishes to.
type Events interface {
	PublishOrderPlaced(ctx context.Context, d event.OrderPlacedData) error
	PublishCartCleanupFailed(ctx context.Context, d event.CartCleanupFailedData) error
}

// Processor runs one purchase at a time.
type Processor struct {
	store    docstore.Store
	notifier notify.Notifier
	events   Events
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state State
}

// NewProcessor creates a Processor. events may be nil.
func NewProcessor(store docstore.Store, notifier notify.Notifier, events Events, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Processor{
		store:    store,
		notifier: notifier,
		events:   events,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		state:    StateIdle,
	}
}

// State returns the current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateCommitting {
		return false
	}
	p.state = StateCommitting
	return true
}

func (p *Processor) finish(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *Processor) outcome(o string) {
	if p.metrics != nil {
		p.metrics.Checkouts.WithLabelValues(o).Inc()
	}
}

// Purchase writes an order holding a copy of cart and then clears the
// identity's cart lines. An empty cart is a no-op. If the order is written
// but the cleanup fails, the result is Committed and the error wraps
// ErrPartialCommit; ClearCart can be re-run to finish it.
func (p *Processor) Purchase(ctx context.Context, cart domain.Cart, id domain.Identity, grandTotal decimal.Decimal) (Result, error) {
	if id.IsZero() {
		return Result{State: p.State()}, apperrors.Unauthorized("sign in required")
	}
	if !cart.Owner.IsZero() && cart.Owner != id {
		p.outcome(metrics.OutcomeRejected)
		return Result{State: p.State()}, apperrors.Conflict("cart belongs to another identity")
	}
	if cart.IsEmpty() {
		p.outcome(metrics.OutcomeEmpty)
		return Result{State: p.State()}, nil
	}
	if !p.begin() {
		p.outcome(metrics.OutcomeRejected)
		return Result{State: StateCommitting}, apperrors.Conflict("checkout already in progress")
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "checkout.Purchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity.id", id.ID),
		attribute.Int("cart.lines", len(cart.Lines)),
		attribute.String("cart.grand_total", grandTotal.StringFixed(2)),
	)

	start := p.now()
	lines := cart.Clone().Lines
	orderID, err := p.store.Create(ctx, repository.Orders, repository.OrderData(id.ID, lines, grandTotal.StringFixed(2), start))
	if err != nil {
		p.finish(StateFailed)
		p.outcome(metrics.OutcomeFailed)
		if p.metrics != nil {
			p.metrics.WriteFailures.WithLabelValues("create", repository.Orders).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "order write failed")
		p.logger.ErrorContext(ctx, "failed to write order",
			slog.String("identity_id", id.ID),
			slog.String("error", err.Error()),
		)
		p.notifier.Notify(ctx, notify.Error, notify.MsgOrderFailed)
		return Result{State: StateFailed}, apperrors.WriteFailure("create", repository.Orders, err)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	if err := p.ClearCart(ctx, id); err != nil {
		p.finish(StateCommitted)
		p.outcome(metrics.OutcomePartial)
		span.RecordError(err)
		p.logger.ErrorContext(ctx, "order placed but cart cleanup failed",
			slog.String("order_id", orderID),
			slog.String("identity_id", id.ID),
			slog.String("error", err.Error()),
		)
		p.notifier.Notify(ctx, notify.Warning, notify.MsgCleanupPending)
		p.publishCleanupFailed(ctx, event.CartCleanupFailedData{OrderID: orderID, UserID: id.ID, Error: err.Error()})
		return Result{State: StateCommitted, OrderID: orderID}, apperrors.PartialCommit(orderID, err)
	}

	p.finish(StateCommitted)
	p.outcome(metrics.OutcomeCommitted)
	if p.metrics != nil {
		p.metrics.CheckoutDuration.Observe(p.now().Sub(start).Seconds())
	}
	p.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", orderID),
		slog.String("identity_id", id.ID),
		slog.Int("lines", len(lines)),
		slog.String("grand_total", grandTotal.StringFixed(2)),
	)
	p.notifier.Notify(ctx, notify.Success, notify.MsgOrderPlaced)
	p.publishOrderPlaced(ctx, event.OrderPlacedData{
		OrderID:    orderID,
		UserID:     id.ID,
		Lines:      len(lines),
		GrandTotal: grandTotal,
		PlacedAt:   start.UTC(),
	})
	return Result{State: StateCommitted, OrderID: orderID}, nil
}

// ClearCart deletes every cart line of id found by a fresh query. Running
// it again after a partial failure only removes what is left.
func (p *Processor) ClearCart(ctx context.Context, id domain.Identity) error {
	if id.IsZero() {
		return apperrors.Unauthorized("sign in required")
	}

	docs, err := p.store.QueryOnce(ctx, repository.CartQuery(id.ID))
	if err != nil {
		return apperrors.WriteFailure("query", repository.Carts, err)
	}

	var errs []error
	for _, d := range docs {
		if err := p.store.Delete(ctx, repository.Carts, d.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		if p.metrics != nil {
			p.metrics.WriteFailures.WithLabelValues("delete", repository.Carts).Inc()
		}
		return apperrors.WriteFailure("delete", repository.Carts, err)
	}
	return nil
}

func (p *Processor) publishOrderPlaced(ctx context.Context, d event.OrderPlacedData) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishOrderPlaced(ctx, d); err != nil {
		p.logger.WarnContext(ctx, "failed to publish order placed event",
			slog.String("order_id", d.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) publishCleanupFailed(ctx context.Context, d event.CartCleanupFailedData) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishCartCleanupFailed(ctx, d); err != nil {
		p.logger.WarnContext(ctx, "failed to publish cart cleanup event",
			slog.String("order_id", d.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
