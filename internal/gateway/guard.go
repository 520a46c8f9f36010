// Package gateway holds what payment gateway clients share: the circuit
// breaker guard and the instrumented HTTP client.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// BreakerConfig tunes the circuit breaker of a gateway.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guard protects a gateway with a circuit breaker. Only unavailability
// counts as failure; declines and validation errors do not trip it.
type Guard struct {
	gw payment.Gateway
	cb *gobreaker.CircuitBreaker[any]
}

type refundGuard struct {
	*Guard
	refunder payment.Refunder
}

// Wrap guards gw. The result implements payment.Refunder when gw does.
func Wrap(gw payment.Gateway, cfg BreakerConfig, lg *zap.Logger) payment.Gateway {
	g := &Guard{
		gw: gw,
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        gw.Name(),
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !isUnavailable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("Gateway circuit breaker state changed",
					zap.String("gateway", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
	if r, ok := gw.(payment.Refunder); ok {
		return &refundGuard{Guard: g, refunder: r}
	}
	return g
}

func isUnavailable(err error) bool {
	code := apperr.CodeOf(err)
	return code == apperr.GatewayUnavailable || code == apperr.Internal
}

func (g *Guard) Name() string { return g.gw.Name() }

// State reports the breaker state.
func (g *Guard) State() gobreaker.State { return g.cb.State() }

func (g *Guard) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	return execute(g, func() (*payment.Session, error) {
		return g.gw.CreateSession(ctx, req)
	})
}

func (g *Guard) Verify(ctx context.Context, authority string, amount money.Amount) (*payment.Verification, error) {
	return execute(g, func() (*payment.Verification, error) {
		return g.gw.Verify(ctx, authority, amount)
	})
}

func (g *refundGuard) Refund(ctx context.Context, req payment.RefundRequest) (string, error) {
	return execute(g.Guard, func() (string, error) {
		return g.refunder.Refund(ctx, req)
	})
}

func execute[T any](g *Guard, fn func() (T, error)) (T, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w: %w", g.gw.Name(), payment.ErrGatewayUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}
