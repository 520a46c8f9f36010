package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/money"
)

var columns = []string{
	"code", "type", "percent", "amount", "min_subtotal", "max_uses", "max_uses_per_user",
	"starts_at", "ends_at", "active", "description",
}

// rowError points at the offending line of an import file.
type rowError struct {
	Line int
	Err  error
}

func (e *rowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *rowError) Unwrap() error { return e.Err }

// reader decodes coupon definitions from CSV. The header row selects
// columns by name; only code and type are required.
type reader struct {
	r     *csv.Reader
	index map[string]int
}

func newReader(r io.Reader) (*reader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"code", "type"} {
		if _, ok := index[name]; !ok {
			return nil, errors.Errorf("header: missing column %q", name)
		}
	}
	for name := range index {
		if !knownColumn(name) {
			return nil, errors.Errorf("header: unknown column %q", name)
		}
	}
	return &reader{r: cr, index: index}, nil
}

func knownColumn(name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

// Next returns the next coupon, or io.EOF.
func (r *reader) Next() (*coupon.Coupon, error) {
	rec, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read row")
	}
	line, _ := r.r.FieldPos(0)
	c, err := r.decode(rec)
	if err != nil {
		return nil, &rowError{Line: line, Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, &rowError{Line: line, Err: err}
	}
	return c, nil
}

func (r *reader) field(rec []string, name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (r *reader) decode(rec []string) (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		Code:        coupon.NormalizeCode(r.field(rec, "code")),
		Type:        coupon.Type(strings.ToLower(r.field(rec, "type"))),
		Description: r.field(rec, "description"),
		IsActive:    true,
	}

	var err error
	if v := r.field(rec, "percent"); v != "" {
		if c.PercentValue, err = decimal.NewFromString(v); err != nil {
			return nil, errors.Wrap(err, "percent")
		}
	}
	if c.AmountValue, err = parseAmount(r.field(rec, "amount")); err != nil {
		return nil, errors.Wrap(err, "amount")
	}
	if c.MinSubtotal, err = parseAmount(r.field(rec, "min_subtotal")); err != nil {
		return nil, errors.Wrap(err, "min_subtotal")
	}
	if c.MaxUses, err = parseLimit(r.field(rec, "max_uses")); err != nil {
		return nil, errors.Wrap(err, "max_uses")
	}
	if c.MaxUsesPerUser, err = parseLimit(r.field(rec, "max_uses_per_user")); err != nil {
		return nil, errors.Wrap(err, "max_uses_per_user")
	}
	if c.StartsAt, err = parseTime(r.field(rec, "starts_at")); err != nil {
		return nil, errors.Wrap(err, "starts_at")
	}
	if c.EndsAt, err = parseTime(r.field(rec, "ends_at")); err != nil {
		return nil, errors.Wrap(err, "ends_at")
	}
	if v := r.field(rec, "active"); v != "" {
		if c.IsActive, err = strconv.ParseBool(v); err != nil {
			return nil, errors.Wrap(err, "active")
		}
	}
	return c, nil
}

// parseAmount reads an integer amount in minor units.
func parseAmount(s string) (money.Amount, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return money.Amount(v), nil
}

// parseLimit reads an optional usage limit. Empty means unlimited.
func parseLimit(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, errors.New("must not be negative")
	}
	return &v, nil
}

// parseTime accepts RFC 3339 timestamps and bare dates (UTC midnight).
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.Errorf("invalid time %q", s)
	}
	return &t, nil
}
