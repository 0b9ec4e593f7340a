package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Doer is the request interface shared by Client and Breaker.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// BreakerConfig tunes a Breaker. The breaker trips once at least
// MinRequests calls were seen in the current Interval and FailureRatio of
// them failed; it then rejects calls for Timeout before letting
// MaxRequests probes through.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the settings used in front of the identity
// provider.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     30 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

type breakerMetrics struct {
	state    prometheus.Gauge
	rejected prometheus.Counter
}

func newBreakerMetrics(reg prometheus.Registerer, name string) breakerMetrics {
	labels := prometheus.Labels{"name": name}
	m := breakerMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "circuit_breaker_state",
			Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "circuit_breaker_rejected_total",
			Help:        "Calls rejected without reaching the upstream because the breaker was open.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m
	}
	m.state = register(reg, m.state)
	m.rejected = register(reg, m.rejected)
	return m
}

// register returns the collector already registered under the same
// descriptor, so two breakers with one name share their series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Breaker guards an upstream with a circuit breaker. Transport errors and
// 5xx responses count as failures; 4xx responses pass through, since a
// rejected password says nothing about provider health.
type Breaker struct {
	next    Doer
	cb      *gobreaker.CircuitBreaker[*http.Response]
	metrics breakerMetrics
	name    string
}

// NewBreaker wraps next. reg may be nil to skip metric registration.
func NewBreaker(next Doer, cfg BreakerConfig, reg prometheus.Registerer, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		next:    next,
		metrics: newBreakerMetrics(reg, cfg.Name),
		name:    cfg.Name,
	}

	b.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			b.metrics.state.Set(stateValue(to))
		},
	})
	b.metrics.state.Set(0)
	return b
}

// Do sends req through the breaker. A 5xx response is consumed and
// returned as a *RemoteError.
func (b *Breaker) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, ParseResponseError(resp, b.name)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.metrics.rejected.Inc()
		return nil, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return resp, err
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
