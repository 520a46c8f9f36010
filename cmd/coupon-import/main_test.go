package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/money"
)

const header = "code,type,percent,amount,min_subtotal,max_uses,max_uses_per_user,starts_at,ends_at,active,description\n"

type memoryStore struct {
	mu      sync.Mutex
	coupons map[string]coupon.Coupon
}

func newMemoryStore(codes ...string) *memoryStore {
	s := &memoryStore{coupons: map[string]coupon.Coupon{}}
	for _, code := range codes {
		s.coupons[code] = coupon.Coupon{Code: code, Description: "stored"}
	}
	return s
}

func (s *memoryStore) Exists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.coupons[code]
	return ok, nil
}

func (s *memoryStore) Upsert(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = *c
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	if strings.HasSuffix(name, ".gz") {
		gz := pgzip.NewWriter(f)
		_, err = gz.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		return path
	}
	_, err = f.WriteString(content)
	require.NoError(t, err)
	return path
}

func TestReader(t *testing.T) {
	t.Parallel()

	r, err := newReader(strings.NewReader(header +
		"save10,percent,10,,5000,100,1,2026-01-01,2026-12-31T23:59:59Z,true,Ten off\n" +
		"# comment\n" +
		"FIVE,amount,,500,,,,,,false,\n" +
		"SHIPFREE,free_shipping,,,,,,,,,\n"))
	require.NoError(t, err)

	c, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
	assert.Equal(t, coupon.TypePercent, c.Type)
	assert.Equal(t, "10", c.PercentValue.String())
	assert.Equal(t, money.Amount(5000), c.MinSubtotal)
	require.NotNil(t, c.MaxUses)
	assert.Equal(t, int64(100), *c.MaxUses)
	require.NotNil(t, c.MaxUsesPerUser)
	assert.Equal(t, int64(1), *c.MaxUsesPerUser)
	require.NotNil(t, c.StartsAt)
	assert.Equal(t, 2026, c.StartsAt.Year())
	require.NotNil(t, c.EndsAt)
	assert.True(t, c.IsActive)
	assert.Equal(t, "Ten off", c.Description)

	c, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, coupon.TypeAmount, c.Type)
	assert.Equal(t, money.Amount(500), c.AmountValue)
	assert.Nil(t, c.MaxUses)
	assert.False(t, c.IsActive)

	c, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, coupon.TypeFreeShipping, c.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_Header(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		header string
	}{
		{"MissingCode", "type,percent\n"},
		{"MissingType", "code,percent\n"},
		{"UnknownColumn", "code,type,discount\n"},
		{"Empty", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newReader(strings.NewReader(tt.header))
			assert.Error(t, err)
		})
	}
}

func TestReader_InvalidRows(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		row  string
	}{
		{"UnknownType", "X1,bogus,,,,,,,,,"},
		{"PercentOutOfRange", "X1,percent,150,,,,,,,,"},
		{"ZeroAmount", "X1,amount,,0,,,,,,,"},
		{"BadAmount", "X1,amount,,1.5,,,,,,,"},
		{"NegativeLimit", "X1,percent,10,,,-1,,,,,"},
		{"BadTime", "X1,percent,10,,,,,yesterday,,,"},
		{"WindowReversed", "X1,percent,10,,,,,2026-02-01,2026-01-01,,"},
		{"BadActive", "X1,percent,10,,,,,,,maybe,"},
		{"EmptyCode", ",percent,10,,,,,,,,"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := newReader(strings.NewReader(header + tt.row + "\n"))
			require.NoError(t, err)

			_, err = r.Next()
			var rowErr *rowError
			require.ErrorAs(t, err, &rowErr)
			assert.Equal(t, 2, rowErr.Line)
		})
	}
}

func TestImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := writeFile(t, "first.csv", header+
		"A1,percent,10,,,,,,,,first\n"+
		"B2,amount,,300,,,,,,,first\n")
	second := writeFile(t, "second.csv.gz", header+
		"A1,percent,20,,,,,,,,second\n"+
		"C3,free_shipping,,,,,,,,,second\n")

	opts := options{Files: []string{first, second}, Workers: 3}
	filters, err := validateFiles(ctx, opts.Files)
	require.NoError(t, err)

	s := newMemoryStore()
	st, err := importFiles(ctx, s, opts, filters)
	require.NoError(t, err)

	assert.Equal(t, int64(4), st.Rows)
	assert.Equal(t, int64(4), st.Written)
	assert.Equal(t, int64(1), st.Superseded)
	require.Len(t, s.coupons, 3)
	assert.Equal(t, "second", s.coupons["A1"].Description, "later file wins")
	assert.Equal(t, "20", s.coupons["A1"].PercentValue.String())
}

func TestImport_SkipExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := writeFile(t, "coupons.csv", header+
		"OLD1,percent,10,,,,,,,,new\n"+
		"NEW1,percent,10,,,,,,,,new\n")
	opts := options{Files: []string{path}, Workers: 1, SkipExisting: true}
	filters, err := validateFiles(ctx, opts.Files)
	require.NoError(t, err)

	s := newMemoryStore("OLD1")
	st, err := importFiles(ctx, s, opts, filters)
	require.NoError(t, err)

	assert.Equal(t, int64(1), st.Written)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, "stored", s.coupons["OLD1"].Description)
	assert.Equal(t, "new", s.coupons["NEW1"].Description)
}

func TestValidateFiles_RejectsInvalidFile(t *testing.T) {
	t.Parallel()

	good := writeFile(t, "good.csv", header+"A1,percent,10,,,,,,,,\n")
	bad := writeFile(t, "bad.csv", header+"B1,percent,500,,,,,,,,\n")

	_, err := validateFiles(context.Background(), []string{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.csv")
	assert.ErrorIs(t, err, coupon.ErrInvalidDefinition)
}

func TestShard(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"A1", "SAVE10", "WELCOME"} {
		n := shard(code, 4)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 4)
		assert.Equal(t, n, shard(code, 4))
	}
}
