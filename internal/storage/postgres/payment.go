package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, method, gateway, status, amount, currency, authority, transaction_ref,
		failure_reason, refunded_amount, refund_reason, refund_ref, paid_at, refunded_at, created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	getPaymentSQL            = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	getPaymentForUpdateSQL   = getPaymentSQL + ` FOR UPDATE`
	getPaymentByAuthoritySQL = `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = $1 AND authority = $2`

	latestPendingPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 AND method = $2 AND status = 'pending' ORDER BY created_at DESC, id DESC LIMIT 1`

	listPaymentsByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at, id`

	updatePaymentSQL = `UPDATE payments SET status = $2, authority = $3, transaction_ref = $4, failure_reason = $5,
		refunded_amount = $6, refund_reason = $7, refund_ref = $8, paid_at = $9, refunded_at = $10, updated_at = $11
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db *DB
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.db.q(ctx).Exec(ctx, insertPaymentSQL,
		p.ID, p.OrderID, string(p.Method), p.Gateway, p.Status.String(), p.Amount, string(p.Currency),
		p.Authority, p.TransactionRef, p.FailureReason, p.RefundedAmount, p.RefundReason, p.RefundRef,
		p.PaidAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert payment %s", p.ID)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	if !validID(id) {
		return nil, payment.ErrNotFound
	}
	return r.one(ctx, getPaymentSQL, id)
}

// GetForUpdate locks the payment row until the surrounding transaction ends.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	if !validID(id) {
		return nil, payment.ErrNotFound
	}
	return r.one(ctx, getPaymentForUpdateSQL, id)
}

func (r *PaymentRepository) FindByAuthority(ctx context.Context, gateway, authority string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByAuthoritySQL, gateway, authority)
}

func (r *PaymentRepository) LatestPending(ctx context.Context, orderID string, method payment.Method) (*payment.Payment, error) {
	if !validID(orderID) {
		return nil, payment.ErrNotFound
	}
	return r.one(ctx, latestPendingPaymentSQL, orderID, string(method))
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	if !validID(orderID) {
		return nil, nil
	}
	rows, err := r.db.q(ctx).Query(ctx, listPaymentsByOrderSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list payments of order %s", orderID)
	}
	list, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, errors.Wrapf(err, "list payments of order %s", orderID)
	}
	return list, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	if !validID(p.ID) {
		return payment.ErrNotFound
	}
	tag, err := r.db.q(ctx).Exec(ctx, updatePaymentSQL,
		p.ID, p.Status.String(), p.Authority, p.TransactionRef, p.FailureReason,
		p.RefundedAmount, p.RefundReason, p.RefundRef, p.PaidAt, p.RefundedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update payment %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) one(ctx context.Context, query string, args ...any) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "get payment")
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p        payment.Payment
		method   string
		status   string
		currency string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &method, &p.Gateway, &status, &p.Amount, &currency,
		&p.Authority, &p.TransactionRef, &p.FailureReason, &p.RefundedAmount, &p.RefundReason, &p.RefundRef,
		&p.PaidAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Method = payment.Method(method)
	p.Currency = money.Currency(currency)
	p.Status, err = payment.ParseStatus(status)
	return p, err
}
