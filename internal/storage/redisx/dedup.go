// Package redisx holds the Redis-backed helpers.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// keyWebhook is dedup:webhook:{gateway}:{event_id}.
const keyWebhook = "dedup:webhook:%s:%s"

// DefaultDedupTTL covers the redelivery window of the supported gateways.
const DefaultDedupTTL = 48 * time.Hour

// New creates a Redis client for addr.
func New(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewFromURL creates a Redis client from a redis:// or rediss:// URL.
func NewFromURL(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

// Deduper remembers processed webhook deliveries. Processing stays
// idempotent without it; it only skips redeliveries early.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduper creates a Deduper. A zero ttl means DefaultDedupTTL.
func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{rdb: rdb, ttl: ttl}
}

// Seen reports whether a delivery was already processed.
func (d *Deduper) Seen(ctx context.Context, gateway, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, fmt.Sprintf(keyWebhook, gateway, eventID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "check webhook delivery")
	}
	return n > 0, nil
}

// Remember records a processed delivery for the dedup ttl. Call it only
// once processing has committed, so a failed attempt never hides a
// redelivery.
func (d *Deduper) Remember(ctx context.Context, gateway, eventID string) error {
	if err := d.rdb.Set(ctx, fmt.Sprintf(keyWebhook, gateway, eventID), time.Now().Unix(), d.ttl).Err(); err != nil {
		return errors.Wrap(err, "remember webhook delivery")
	}
	return nil
}

// Ping checks connectivity.
func (d *Deduper) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
