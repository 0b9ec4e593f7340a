// Package notify carries user-facing notifications out of the core. Senders
// never wait on delivery: a notification that cannot be taken immediately is
// dropped.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

// Level is the severity shown to the user.
type Level string

const (
	Success Level = "success"
	Error   Level = "error"
	Warning Level = "warning"
)

// Messages shown to the user.
const (
	MsgSignedUp       = "Welcome aboard! Your account is ready."
	MsgSignedIn       = "Welcome! You’re signed in."
	MsgSignInFailed   = "Oops! Check your credentials and try again."
	MsgSignedOut      = "You’ve been logged out. See you soon!"
	MsgGeneric        = "Something went wrong!"
	MsgItemAdded      = "Item added to cart."
	MsgItemRemoved    = "Item removed from cart."
	MsgQuantityZero   = "Item removed as quantity reached zero."
	MsgOrderPlaced    = "Order placed! Thank you for shopping with us!"
	MsgOrderFailed    = "We couldn't place your order. Your cart is unchanged."
	MsgCleanupPending = "Order placed, but some items are still in your cart."
	MsgCartStale      = "Cart updates are paused. Showing your last known cart."
)

// Notification is one message for the user.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, level Level, message string)

func (f Func) Notify(ctx context.Context, level Level, message string) { f(ctx, level, message) }

// Nop discards everything.
var Nop Notifier = Func(func(context.Context, Level, string) {})

// Channel buffers notifications for a reader such as the HTTP API.
type Channel struct {
	ch      chan Notification
	dropped atomic.Int64
	now     func() time.Time
}

// NewChannel returns a Channel holding up to size pending notifications.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 1
	}
	return &Channel{ch: make(chan Notification, size), now: time.Now}
}

func (c *Channel) Notify(_ context.Context, level Level, message string) {
	select {
	case c.ch <- Notification{Level: level, Message: message, At: c.now().UTC()}:
	default:
		c.dropped.Add(1)
	}
}

// C exposes the channel for select loops.
func (c *Channel) C() <-chan Notification { return c.ch }

// Drain returns everything pending without blocking.
func (c *Channel) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-c.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped counts notifications lost to a full buffer.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log notifier.
func NewLog(l *slog.Logger) *Log { return &Log{logger: l} }

func (n *Log) Notify(ctx context.Context, level Level, message string) {
	lvl := slog.LevelInfo
	switch level {
	case Error:
		lvl = slog.LevelError
	case Warning:
		lvl = slog.LevelWarn
	}
	logger.WithContext(ctx, n.logger).Log(ctx, lvl, "user notification",
		slog.String("severity", string(level)),
		slog.String("message", message),
	)
}

// Multi fans out to every notifier in order.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMulti returns a fan-out over ns.
func NewMulti(ns ...Notifier) *Multi {
	return &Multi{notifiers: ns}
}

// Add appends n.
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

func (m *Multi) Notify(ctx context.Context, level Level, message string) {
	m.mu.RLock()
	ns := m.notifiers
	m.mu.RUnlock()
	for _, n := range ns {
		n.Notify(ctx, level, message)
	}
}
