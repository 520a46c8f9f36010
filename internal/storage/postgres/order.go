package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
)

const (
	orderColumns = `id, number, status, user_id, subtotal, discount, shipping_fee, tax, tax_included,
		total, currency, coupon_code, shipping_method, country, province, city, postal_code,
		cancel_reason, cancelled_at, placed_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	insertOrderItemSQL = `INSERT INTO order_items
		(order_id, position, product_id, variant_id, title, variant_name, unit_price, quantity, line_total, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT position, product_id, variant_id, title, variant_name, unit_price, quantity,
		line_total, image_url FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4,
		cancel_reason = CASE WHEN $3 = 'cancelled' THEN $5 ELSE cancel_reason END,
		cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = $2`

	insertStatusHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5)`

	orderExistsSQL  = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
	nextOrderSeqSQL = `SELECT nextval('order_number_seq')`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// Create inserts the order and its items. Call it inside a transaction so
// both land together.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := r.db.q(ctx)
	_, err := q.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.Status.String(), o.UserID,
		o.Subtotal, o.Discount, o.ShippingFee, o.Tax, o.TaxIncluded, o.Total,
		string(o.Currency), o.CouponCode, string(o.ShippingMethod),
		o.Address.Country, o.Address.Province, o.Address.City, o.Address.PostalCode,
		o.CancelReason, o.CancelledAt, o.PlacedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}

	for _, it := range o.Items {
		_, err := q.Exec(ctx, insertOrderItemSQL,
			o.ID, it.Position, it.ProductID, it.VariantID, it.Title, it.VariantName,
			it.UnitPrice, it.Quantity, it.LineTotal, it.ImageURL,
		)
		if err != nil {
			return errors.Wrapf(err, "insert order %s item %d", o.ID, it.Position)
		}
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	if !validID(id) {
		return nil, order.ErrNotFound
	}
	q := r.db.q(ctx)
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	rows, err = q.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list order %s items", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, errors.Wrapf(err, "list order %s items", id)
	}
	return o, nil
}

// UpdateStatus applies ch when the stored status still equals ch.From and
// appends it to the status history.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, ch order.StatusChange) error {
	if !validID(id) {
		return order.ErrNotFound
	}
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, updateOrderStatusSQL, id, ch.From.String(), ch.To.String(), ch.At, ch.Reason)
	if err != nil {
		return errors.Wrapf(err, "update order %s status", id)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check order %s", id)
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrStatusConflict
	}

	if _, err := q.Exec(ctx, insertStatusHistorySQL, id, ch.From.String(), ch.To.String(), ch.Reason, ch.At); err != nil {
		return errors.Wrapf(err, "record order %s status history", id)
	}
	return nil
}

// NextNumber returns the next order number sequence value.
func (r *OrderRepository) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.q(ctx).QueryRow(ctx, nextOrderSeqSQL).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "next order number")
	}
	return n, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o        order.Order
		status   string
		currency string
		method   string
	)
	err := row.Scan(
		&o.ID, &o.Number, &status, &o.UserID,
		&o.Subtotal, &o.Discount, &o.ShippingFee, &o.Tax, &o.TaxIncluded, &o.Total,
		&currency, &o.CouponCode, &method,
		&o.Address.Country, &o.Address.Province, &o.Address.City, &o.Address.PostalCode,
		&o.CancelReason, &o.CancelledAt, &o.PlacedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.Status, err = order.ParseStatus(status); err != nil {
		return nil, err
	}
	o.Currency = money.Currency(currency)
	o.ShippingMethod = shipping.Method(method)
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.Position, &it.ProductID, &it.VariantID, &it.Title, &it.VariantName,
		&it.UnitPrice, &it.Quantity, &it.LineTotal, &it.ImageURL,
	)
	return it, err
}
