package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

// Coupons implements coupon.Repository.
type Coupons struct{ s *Store }

var _ coupon.Repository = (*Coupons)(nil)

func (r *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := r.s.do(ctx, func(st *state) error {
		v, ok := st.coupons[coupon.NormalizeCode(code)]
		if !ok {
			return coupon.ErrNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *Coupons) Usage(ctx context.Context, couponID string, userID *string) (coupon.Usage, error) {
	var u coupon.Usage
	err := r.s.do(ctx, func(st *state) error {
		for _, red := range st.redemptions {
			if red.CouponID != couponID {
				continue
			}
			u.Global++
			if userID != nil && red.UserID != nil && *red.UserID == *userID {
				u.User++
			}
		}
		return nil
	})
	return u, err
}

func (r *Coupons) InsertRedemption(ctx context.Context, red coupon.Redemption) (bool, error) {
	var inserted bool
	err := r.s.do(ctx, func(st *state) error {
		for _, existing := range st.redemptions {
			if existing.CouponID == red.CouponID && existing.OrderID == red.OrderID {
				return nil
			}
		}
		st.redemptions = append(st.redemptions, red)
		inserted = true
		return nil
	})
	return inserted, err
}

// Redemptions returns the recorded redemptions of a coupon.
func (r *Coupons) Redemptions(ctx context.Context, couponID string) ([]coupon.Redemption, error) {
	var out []coupon.Redemption
	err := r.s.do(ctx, func(st *state) error {
		for _, red := range st.redemptions {
			if red.CouponID == couponID {
				out = append(out, red)
			}
		}
		return nil
	})
	return out, err
}

func (r *Coupons) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.Code = coupon.NormalizeCode(c.Code)
	return r.s.do(ctx, func(st *state) error {
		if prev, ok := st.coupons[c.Code]; ok {
			c.ID = prev.ID
			c.CreatedAt = prev.CreatedAt
		} else if c.ID == "" {
			c.ID = uuid.New().String()
		}
		st.coupons[c.Code] = *c
		return nil
	})
}
