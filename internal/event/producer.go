// Package event publishes BusyBuy domain events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AdityaBheke/BusyBuy/internal/notify"
	pkgkafka "github.com/AdityaBheke/BusyBuy/pkg/kafka"
	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

// Topics.
var (
	TopicOrderPlaced         = pkgkafka.Topic("order", "placed")
	TopicCartCleanupFailed   = pkgkafka.Topic("order", "cart_cleanup_failed")
	TopicNotificationEmitted = pkgkafka.Topic("notification", "emitted")
)

// Aggregate types.
const (
	AggregateOrder        = "order"
	AggregateNotification = "notification"
)

// Source identifies this process in every envelope.
const Source = "busybuy-core"

// OrderPlacedData is the payload of order.placed.
type OrderPlacedData struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Lines      int             `json:"lines"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// CartCleanupFailedData is the payload of order.cart_cleanup_failed. An
// operator or a retry job can re-run cart cleanup for UserID.
type CartCleanupFailedData struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Error   string `json:"error"`
}

// NotificationData is the payload of notification.emitted.
type NotificationData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Publisher is the subset of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer builds envelopes and publishes them. A nil publisher turns every
// call into a no-op, for runs without Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a Producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType, identityID string, data any) error {
	if p == nil || p.kafka == nil {
		return nil
	}

	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	evt.WithIdentity(identityID)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// PublishOrderPlaced publishes order.placed.
func (p *Producer) PublishOrderPlaced(ctx context.Context, d OrderPlacedData) error {
	return p.publish(ctx, TopicOrderPlaced, d.OrderID, AggregateOrder, d.UserID, d)
}

// PublishCartCleanupFailed publishes order.cart_cleanup_failed.
func (p *Producer) PublishCartCleanupFailed(ctx context.Context, d CartCleanupFailedData) error {
	return p.publish(ctx, TopicCartCleanupFailed, d.OrderID, AggregateOrder, d.UserID, d)
}

// Notifier forwards user notifications to Kafka without making the caller
// wait: each publish runs on its own goroutine with a short deadline.
type Notifier struct {
	producer *Producer
	identity func() string
	timeout  time.Duration
}

// NewNotifier creates a Notifier. identity, if set, tags each event with the
// signed-in user.
func NewNotifier(producer *Producer, identity func() string) *Notifier {
	return &Notifier{producer: producer, identity: identity, timeout: 5 * time.Second}
}

var _ notify.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, level notify.Level, message string) {
	var uid string
	if n.identity != nil {
		uid = n.identity()
	}
	corr := logger.CorrelationIDFromContext(ctx)

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if corr != "" {
			pctx = logger.WithCorrelationID(pctx, corr)
		}
		data := NotificationData{Level: string(level), Message: message}
		if err := n.producer.publish(pctx, TopicNotificationEmitted, uid, AggregateNotification, uid, data); err != nil {
			n.producer.logger.WarnContext(pctx, "failed to publish notification event", slog.String("error", err.Error()))
		}
	}()
}
