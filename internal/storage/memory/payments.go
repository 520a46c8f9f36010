package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// Payments implements payment.Repository.
type Payments struct{ s *Store }

var _ payment.Repository = (*Payments)(nil)

func (r *Payments) Create(ctx context.Context, p *payment.Payment) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.payments[p.ID]; ok {
			return errors.Errorf("payment %s already exists", p.ID)
		}
		if err := checkAuthority(st, p); err != nil {
			return err
		}
		st.payments[p.ID] = *p
		st.paymentIDs = append(st.paymentIDs, p.ID)
		return nil
	})
}

func checkAuthority(st *state, p *payment.Payment) error {
	if p.Authority == "" {
		return nil
	}
	for id, other := range st.payments {
		if id != p.ID && other.Gateway == p.Gateway && other.Authority == p.Authority {
			return errors.Errorf("authority %q already used by payment %s", p.Authority, id)
		}
	}
	return nil
}

func (r *Payments) Get(ctx context.Context, id string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.do(ctx, func(st *state) error {
		v, ok := st.payments[id]
		if !ok {
			return payment.ErrNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

// GetForUpdate is Get: transactions already hold the store lock.
func (r *Payments) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.Get(ctx, id)
}

func (r *Payments) FindByAuthority(ctx context.Context, gateway, authority string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.payments {
			if v.Gateway == gateway && v.Authority == authority {
				out = &v
				return nil
			}
		}
		return payment.ErrNotFound
	})
	return out, err
}

func (r *Payments) LatestPending(ctx context.Context, orderID string, method payment.Method) (*payment.Payment, error) {
	list, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status == payment.StatusPending && list[i].Method == method {
			return &list[i], nil
		}
	}
	return nil, payment.ErrNotFound
}

// ListByOrder returns the order's payments in creation order.
func (r *Payments) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	var out []payment.Payment
	err := r.s.do(ctx, func(st *state) error {
		for _, id := range st.paymentIDs {
			if v := st.payments[id]; v.OrderID == orderID {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

func (r *Payments) Update(ctx context.Context, p *payment.Payment) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.payments[p.ID]; !ok {
			return payment.ErrNotFound
		}
		if err := checkAuthority(st, p); err != nil {
			return err
		}
		st.payments[p.ID] = *p
		return nil
	})
}
