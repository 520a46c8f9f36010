package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/apperr"
)

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Key"

var errUnauthorized = &apperr.Error{Code: "UNAUTHORIZED", Msg: "invalid admin key"}

// AdminAuth guards administrative routes with API keys. Keys are configured
// as hex HMAC-SHA256(pepper, key) digests so plaintext keys never live in
// configuration.
type AdminAuth struct {
	pepper []byte
	hashes [][]byte
}

// NewAdminAuth creates an AdminAuth from hex digests.
func NewAdminAuth(pepper string, keyHashes []string) (*AdminAuth, error) {
	a := &AdminAuth{pepper: []byte(pepper)}
	for _, h := range keyHashes {
		b, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(b) != sha256.Size {
			return nil, errors.Errorf("admin key hash %q is not a hex sha256 digest", h)
		}
		a.hashes = append(a.hashes, b)
	}
	if len(a.hashes) == 0 {
		return nil, errors.New("at least one admin key hash is required")
	}
	return a, nil
}

// HashKey returns the digest to configure for key.
func HashKey(pepper, key string) string {
	return hex.EncodeToString(hashKey([]byte(pepper), key))
}

func hashKey(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticate reports whether key is a configured admin key. Every
// configured digest is compared in constant time.
func (a *AdminAuth) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	sum := hashKey(a.pepper, key)
	match := 0
	for _, h := range a.hashes {
		match |= subtle.ConstantTimeCompare(sum, h)
	}
	return match == 1
}

// Middleware rejects requests without a valid admin key.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authenticate(r.Header.Get(AdminKeyHeader)) {
			ctx := r.Context()
			zctx.From(ctx).Warn("Admin request rejected", zap.String("path", r.URL.Path))
			writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
				Code:    errUnauthorized.Code,
				Message: errUnauthorized.Msg,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
