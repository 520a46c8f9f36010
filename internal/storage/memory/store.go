// Package memory implements the repositories on process memory. It backs
// tests and single-process deployments without a database.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// Hold is stock reserved for an order line.
type Hold struct {
	ProductID  *string
	VariantID  *string
	Quantity   int
	ReleasedAt *time.Time
}

type state struct {
	orders      map[string]order.Order
	payments    map[string]payment.Payment
	paymentIDs  []string
	coupons     map[string]coupon.Coupon
	redemptions []coupon.Redemption
	holds       map[string][]Hold
	seq         int64
}

func (st *state) clone() state {
	c := state{
		orders:      make(map[string]order.Order, len(st.orders)),
		payments:    make(map[string]payment.Payment, len(st.payments)),
		paymentIDs:  slices.Clone(st.paymentIDs),
		coupons:     make(map[string]coupon.Coupon, len(st.coupons)),
		redemptions: slices.Clone(st.redemptions),
		holds:       make(map[string][]Hold, len(st.holds)),
		seq:         st.seq,
	}
	for k, v := range st.orders {
		v.Items = slices.Clone(v.Items)
		c.orders[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.coupons {
		c.coupons[k] = v
	}
	for k, v := range st.holds {
		c.holds[k] = slices.Clone(v)
	}
	return c
}

// Store is a transactional in-memory database. Transactions are serialized:
// WithinTx holds the store lock for the whole callback, so every read in a
// transaction behaves as a row lock.
type Store struct {
	mu sync.Mutex
	st state
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: state{
		orders:   map[string]order.Order{},
		payments: map[string]payment.Payment{},
		coupons:  map[string]coupon.Coupon{},
		holds:    map[string][]Hold{},
	}}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx runs fn atomically. State changes are rolled back when fn
// returns an error. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// do runs fn against the state, locking unless ctx carries a transaction.
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

// Orders returns the order repository.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Payments returns the payment repository.
func (s *Store) Payments() *Payments { return &Payments{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *Coupons { return &Coupons{s: s} }

// Inventory returns the stock hold registry.
func (s *Store) Inventory() *Inventory { return &Inventory{s: s} }
