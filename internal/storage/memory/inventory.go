package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Inventory records stock holds per order.
type Inventory struct{ s *Store }

var _ order.Inventory = (*Inventory)(nil)

// HoldForOrder reserves stock for the order's items. Repeated calls keep
// the first reservation.
func (r *Inventory) HoldForOrder(ctx context.Context, orderID string, items []order.Item) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.holds[orderID]; ok {
			return nil
		}
		holds := make([]Hold, 0, len(items))
		for _, it := range items {
			holds = append(holds, Hold{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
		}
		st.holds[orderID] = holds
		return nil
	})
}

// ReleaseForOrder releases every active hold of the order.
func (r *Inventory) ReleaseForOrder(ctx context.Context, orderID string) error {
	return r.s.do(ctx, func(st *state) error {
		now := time.Now().UTC()
		holds := st.holds[orderID]
		for i := range holds {
			if holds[i].ReleasedAt == nil {
				holds[i].ReleasedAt = &now
			}
		}
		return nil
	})
}

// Holds returns the holds of an order.
func (r *Inventory) Holds(ctx context.Context, orderID string) ([]Hold, error) {
	var out []Hold
	err := r.s.do(ctx, func(st *state) error {
		out = append(out, st.holds[orderID]...)
		return nil
	})
	return out, err
}
