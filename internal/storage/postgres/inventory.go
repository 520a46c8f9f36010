package postgres

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	insertHoldSQL = `INSERT INTO inventory_holds (order_id, position, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (order_id, position) DO NOTHING`

	releaseHoldsSQL = `UPDATE inventory_holds SET released_at = now()
		WHERE order_id = $1 AND released_at IS NULL`
)

var _ order.Inventory = (*InventoryRepository)(nil)

// InventoryRepository records stock holds per order line.
type InventoryRepository struct {
	db *DB
}

// HoldForOrder reserves stock for the order's items. Existing holds are kept.
func (r *InventoryRepository) HoldForOrder(ctx context.Context, orderID string, items []order.Item) error {
	q := r.db.q(ctx)
	for _, it := range items {
		if _, err := q.Exec(ctx, insertHoldSQL, orderID, it.Position, it.ProductID, it.VariantID, it.Quantity); err != nil {
			return errors.Wrapf(err, "hold stock for order %s", orderID)
		}
	}
	return nil
}

// ReleaseForOrder releases every active hold of the order. Releasing twice
// is a no-op.
func (r *InventoryRepository) ReleaseForOrder(ctx context.Context, orderID string) error {
	if _, err := r.db.q(ctx).Exec(ctx, releaseHoldsSQL, orderID); err != nil {
		return errors.Wrapf(err, "release stock of order %s", orderID)
	}
	return nil
}
