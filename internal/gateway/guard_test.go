package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var errDeclined = apperr.New(apperr.Validation, "declined")

type scriptedGateway struct {
	calls int
	err   error
}

func (g *scriptedGateway) Name() string { return "card" }

func (g *scriptedGateway) CreateSession(context.Context, payment.SessionRequest) (*payment.Session, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{Authority: "A1"}, nil
}

func (g *scriptedGateway) Verify(context.Context, string, money.Amount) (*payment.Verification, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Verification{Success: true}, nil
}

type scriptedRefunder struct {
	scriptedGateway
}

func (g *scriptedRefunder) Refund(context.Context, payment.RefundRequest) (string, error) {
	g.calls++
	return "RF-1", g.err
}

func testConfig() BreakerConfig {
	return BreakerConfig{MaxRequests: 1, OpenTimeout: time.Hour, ConsecutiveFailures: 3}
}

func TestGuard_OpensOnUnavailability(t *testing.T) {
	ctx := context.Background()
	inner := &scriptedGateway{err: errors.Wrap(payment.ErrGatewayUnavailable, "dial")}
	g := Wrap(inner, testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := g.CreateSession(ctx, payment.SessionRequest{})
		require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, g.(*Guard).State())

	_, err := g.Verify(ctx, "A1", 100)
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the gateway")
}

func TestGuard_DeclinesDoNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &scriptedGateway{err: errDeclined}
	g := Wrap(inner, testConfig(), zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := g.CreateSession(ctx, payment.SessionRequest{})
		require.ErrorIs(t, err, errDeclined)
	}
	assert.Equal(t, gobreaker.StateClosed, g.(*Guard).State())
	assert.Equal(t, 10, inner.calls)
}

func TestGuard_PassesResults(t *testing.T) {
	ctx := context.Background()
	g := Wrap(&scriptedGateway{}, testConfig(), zap.NewNop())

	assert.Equal(t, "card", g.Name())
	sess, err := g.CreateSession(ctx, payment.SessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "A1", sess.Authority)

	_, ok := g.(payment.Refunder)
	assert.False(t, ok)
}

func TestGuard_Refunder(t *testing.T) {
	g := Wrap(&scriptedRefunder{}, testConfig(), zap.NewNop())

	r, ok := g.(payment.Refunder)
	require.True(t, ok)
	ref, err := r.Refund(context.Background(), payment.RefundRequest{})
	require.NoError(t, err)
	assert.Equal(t, "RF-1", ref)
}
