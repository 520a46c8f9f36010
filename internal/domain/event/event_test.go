package event

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockPublisher struct {
	got []Event
	err error
}

func (m *mockPublisher) Publish(_ context.Context, ev Event) error {
	m.got = append(m.got, ev)
	return m.err
}

func TestEmit_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := &mockPublisher{err: errors.New("broker down")}

	ev := New(OrderCancelled, "o1", time.Now())
	Emit(context.Background(), failing, zap.New(core), ev, New(OrderStatusChanged, "o1", time.Now()))

	assert.Len(t, failing.got, 2)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "order.cancelled", logs.All()[0].ContextMap()["event_type"])
}

func TestFanout(t *testing.T) {
	ok := &mockPublisher{}
	bad := &mockPublisher{err: errors.New("nope")}

	err := Fanout{ok, bad}.Publish(context.Background(), New(PaymentSucceeded, "o1", time.Now()))
	require.Error(t, err)
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)

	require.NoError(t, Fanout{ok, Nop{}}.Publish(context.Background(), Event{}))
}

func TestNew(t *testing.T) {
	at := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	a := New(OrderCreated, "o1", at)
	b := New(OrderCreated, "o1", at)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, at, a.OccurredAt)
}
