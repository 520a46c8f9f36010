package memory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct{ s *Store }

var _ order.Repository = (*Orders)(nil)

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
		v := *o
		v.Items = slices.Clone(o.Items)
		st.orders[o.ID] = v
		return nil
	})
}

func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.do(ctx, func(st *state) error {
		v, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		v.Items = slices.Clone(v.Items)
		out = &v
		return nil
	})
	return out, err
}

// GetForUpdate is Get: transactions already hold the store lock.
func (r *Orders) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *Orders) UpdateStatus(ctx context.Context, id string, ch order.StatusChange) error {
	return r.s.do(ctx, func(st *state) error {
		v, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		if v.Status != ch.From {
			return order.ErrStatusConflict
		}
		v.Status = ch.To
		v.UpdatedAt = ch.At
		if ch.To == order.StatusCancelled {
			at := ch.At
			v.CancelledAt = &at
			v.CancelReason = ch.Reason
		}
		st.orders[id] = v
		return nil
	})
}

func (r *Orders) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.s.do(ctx, func(st *state) error {
		st.seq++
		n = st.seq
		return nil
	})
	return n, err
}
