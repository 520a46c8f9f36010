package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, type, percent_value, amount_value, min_subtotal, max_uses, max_uses_per_user,
		starts_at, ends_at, is_active, description, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	couponUsageSQL = `SELECT count(*), count(*) FILTER (WHERE $2::text IS NOT NULL AND user_id = $2)
		FROM coupon_redemptions WHERE coupon_id = $1`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (id, coupon_id, order_id, user_id, redeemed_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (coupon_id, order_id) DO NOTHING`

	upsertCouponSQL = `INSERT INTO coupons (id, code, type, percent_value, amount_value, min_subtotal, max_uses,
		max_uses_per_user, starts_at, ends_at, is_active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (code) DO UPDATE SET type = EXCLUDED.type, percent_value = EXCLUDED.percent_value,
			amount_value = EXCLUDED.amount_value, min_subtotal = EXCLUDED.min_subtotal,
			max_uses = EXCLUDED.max_uses, max_uses_per_user = EXCLUDED.max_uses_per_user,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at, is_active = EXCLUDED.is_active,
			description = EXCLUDED.description, updated_at = now()
		RETURNING id, created_at, updated_at`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db *DB
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	rows, err := r.db.q(ctx).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Exists reports whether a coupon with the code is stored.
func (r *CouponRepository) Exists(ctx context.Context, code string) (bool, error) {
	var ok bool
	if err := r.db.q(ctx).QueryRow(ctx, couponExistsSQL, coupon.NormalizeCode(code)).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check coupon")
	}
	return ok, nil
}

func (r *CouponRepository) Usage(ctx context.Context, couponID string, userID *string) (coupon.Usage, error) {
	var u coupon.Usage
	if err := r.db.q(ctx).QueryRow(ctx, couponUsageSQL, couponID, userID).Scan(&u.Global, &u.User); err != nil {
		return u, errors.Wrapf(err, "count redemptions of coupon %s", couponID)
	}
	return u, nil
}

// InsertRedemption relies on the (coupon_id, order_id) unique constraint, so
// concurrent deliveries of the same success record one row.
func (r *CouponRepository) InsertRedemption(ctx context.Context, red coupon.Redemption) (bool, error) {
	if red.ID == "" {
		red.ID = uuid.New().String()
	}
	tag, err := r.db.q(ctx).Exec(ctx, insertRedemptionSQL, red.ID, red.CouponID, red.OrderID, red.UserID, red.RedeemedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "insert redemption of coupon %s", red.CouponID)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert creates or replaces the coupon with c.Code.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.Code = coupon.NormalizeCode(c.Code)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	err := r.db.q(ctx).QueryRow(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Type), c.PercentValue, c.AmountValue, c.MinSubtotal, c.MaxUses,
		c.MaxUsesPerUser, c.StartsAt, c.EndsAt, c.IsActive, c.Description,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c   coupon.Coupon
		typ string
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &c.PercentValue, &c.AmountValue, &c.MinSubtotal, &c.MaxUses, &c.MaxUsesPerUser,
		&c.StartsAt, &c.EndsAt, &c.IsActive, &c.Description, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(typ)
	return c, err
}
