package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/event"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu      sync.Mutex
	byID    map[string]Order
	changes []StatusChange
	seq     int64
	err     error
}

func newOrderRepo(orders ...Order) *mockOrderRepo {
	m := &mockOrderRepo{byID: make(map[string]Order)}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.byID[o.ID] = *o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *mockOrderRepo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return m.Get(ctx, id)
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, ch StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != ch.From {
		return ErrStatusConflict
	}
	o.Status = ch.To
	m.byID[id] = o
	m.changes = append(m.changes, ch)
	return nil
}

func (m *mockOrderRepo) NextNumber(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockInventory struct {
	released []string
	err      error
}

func (m *mockInventory) ReleaseForOrder(_ context.Context, orderID string) error {
	m.released = append(m.released, orderID)
	return m.err
}

type mockPublisher struct {
	events []event.Event
}

func (m *mockPublisher) Publish(_ context.Context, ev event.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) types() []event.Type {
	types := make([]event.Type, len(m.events))
	for i, ev := range m.events {
		types[i] = ev.Type
	}
	return types
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	repo      *mockOrderRepo
	inventory *mockInventory
	events    *mockPublisher
}

func newFixture(lg *zap.Logger, orders ...Order) *fixture {
	f := &fixture{
		repo:      newOrderRepo(orders...),
		inventory: &mockInventory{},
		events:    &mockPublisher{},
	}
	f.svc = NewService(f.repo, passthroughTx{}, f.inventory, f.events, lg)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func orderIn(status Status) Order {
	return Order{ID: "o1", Number: "SO-2025-000001", Status: status, Subtotal: 100, Total: 100}
}

// --- Tests ---

func TestService_UpdateStatus_TransitionTable(t *testing.T) {
	for _, from := range Statuses {
		for _, to := range Statuses {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				f := newFixture(zap.NewNop(), orderIn(from))

				o, err := f.svc.UpdateStatus(context.Background(), "o1", to)

				stored, getErr := f.repo.Get(context.Background(), "o1")
				require.NoError(t, getErr)
				if !from.CanTransitionTo(to) {
					require.ErrorIs(t, err, ErrBadStatus)
					assert.Equal(t, apperr.BadStatus, apperr.CodeOf(err))
					var tErr *TransitionError
					require.ErrorAs(t, err, &tErr)
					assert.Equal(t, from, tErr.From)
					assert.Equal(t, to, tErr.To)
					assert.Equal(t, from, stored.Status)
					assert.Empty(t, f.events.events)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, o.Status)
				assert.Equal(t, to, stored.Status)
				assert.Contains(t, f.events.types(), event.OrderStatusChanged)
			})
		}
	}
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	f := newFixture(zap.NewNop())

	_, err := f.svc.UpdateStatus(context.Background(), "missing", StatusPaid)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))

	_, err = f.svc.Cancel(context.Background(), "missing", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpdateStatus_InvalidTarget(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusDraft))

	_, err := f.svc.UpdateStatus(context.Background(), "o1", Status(99))
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestService_UpdateStatus_EmitsStatusChanged(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusPaid))

	_, err := f.svc.UpdateStatus(context.Background(), "o1", StatusProcessing)
	require.NoError(t, err)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, event.OrderStatusChanged, ev.Type)
	assert.Equal(t, "paid", ev.From)
	assert.Equal(t, "processing", ev.To)
	assert.Equal(t, "SO-2025-000001", ev.OrderNumber)
	assert.Equal(t, fixedNow, ev.OccurredAt)
	assert.Empty(t, f.inventory.released)
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusAwaitingPayment))

	o, err := f.svc.Cancel(context.Background(), "o1", "customer request")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "customer request", o.CancelReason)
	require.NotNil(t, o.CancelledAt)
	assert.Equal(t, fixedNow, *o.CancelledAt)
	assert.Equal(t, []string{"o1"}, f.inventory.released)
	assert.Equal(t, []event.Type{event.OrderCancelled, event.OrderStatusChanged}, f.events.types())
	assert.Equal(t, "customer request", f.events.events[0].Reason)
	assert.Equal(t, "awaiting_payment", f.events.events[0].From)
}

func TestService_UpdateStatusToCancelledReleasesInventory(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusProcessing))

	_, err := f.svc.UpdateStatus(context.Background(), "o1", StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, f.inventory.released)
}

func TestService_Cancel_InventoryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(zap.New(core), orderIn(StatusPaid))
	f.inventory.err = errors.New("inventory service down")

	o, err := f.svc.Cancel(context.Background(), "o1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	stored, err := f.repo.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	require.Equal(t, 1, logs.FilterMessageSnippet("Release inventory failed").Len())
	assert.Len(t, f.events.events, 2)
}

func TestService_Cancel_Twice(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusDraft))

	_, err := f.svc.Cancel(context.Background(), "o1", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), "o1", "")
	require.ErrorIs(t, err, ErrBadStatus)

	assert.Equal(t, []string{"o1"}, f.inventory.released, "inventory is released once")
}

func TestService_Cancel_Delivered(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusDelivered))

	_, err := f.svc.Cancel(context.Background(), "o1", "")
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, StatusDelivered, tErr.From)
	assert.Empty(t, f.inventory.released)
}

func TestService_Create(t *testing.T) {
	f := newFixture(zap.NewNop())

	o := &Order{
		Subtotal: 500000, Discount: 75000, ShippingFee: 30000, Tax: 47700, Total: 502700,
		Currency: "IRR",
		Items:    []Item{{Title: "a", Quantity: 1}, {Title: "b", Quantity: 2}},
	}
	ev, err := f.svc.Create(context.Background(), o)
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "SO-2025-000001", o.Number)
	assert.Equal(t, StatusDraft, o.Status)
	assert.Equal(t, fixedNow, o.PlacedAt)
	assert.Equal(t, 1, o.Items[1].Position)
	assert.Equal(t, event.OrderCreated, ev.Type)
	assert.Equal(t, o.ID, ev.OrderID)

	_, err = f.repo.Get(context.Background(), o.ID)
	require.NoError(t, err)
}

func TestService_Create_RejectsInconsistentTotals(t *testing.T) {
	f := newFixture(zap.NewNop())

	_, err := f.svc.Create(context.Background(), &Order{Subtotal: 10, Total: 11})
	require.ErrorIs(t, err, ErrInconsistentTotals)
	assert.Empty(t, f.repo.byID)
}

func TestService_ApplyTransition_Conflict(t *testing.T) {
	f := newFixture(zap.NewNop(), orderIn(StatusPaid))

	stale := orderIn(StatusAwaitingPayment)
	_, err := f.svc.ApplyTransition(context.Background(), &stale, StatusPaid, "")
	require.ErrorIs(t, err, ErrStatusConflict)
}
