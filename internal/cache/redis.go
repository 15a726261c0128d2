// Package cache holds the Redis-backed idempotency store for order creation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Key layout: idem:order:create:{tenant_id}:{client key} -> "pending" | order id
const keyIdemOrderCreate = "idem:order:create:%s:%s"

const pending = "pending"

// DefaultPendingTTL bounds how long an unfinished reservation blocks its key
// when the caller does not choose a value.
const DefaultPendingTTL = time.Minute

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// KV is the slice of redis.Cmdable the store needs.
type KV interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyStore implements orders.IdempotencyStore. Keys are scoped by
// tenant, so two tenants may reuse the same client key.
//
// Why two TTLs?
// A finished key must replay for a long time (ttl). A pending key only
// lives as long as one create request; if that request's process dies
// before Complete or Release, the key frees itself after pendingTTL
// instead of answering "in flight" for the full replay window.
type IdempotencyStore struct {
	rdb        KV
	ttl        time.Duration
	pendingTTL time.Duration
}

var _ orders.IdempotencyStore = (*IdempotencyStore)(nil)

// NewIdempotencyStore keeps completed keys for ttl and pending ones for
// pendingTTL. A non-positive pendingTTL means DefaultPendingTTL, and it is
// never longer than ttl.
func NewIdempotencyStore(rdb KV, ttl, pendingTTL time.Duration) *IdempotencyStore {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	if ttl > 0 && pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

func key(tenantID uuid.UUID, k string) string {
	return fmt.Sprintf(keyIdemOrderCreate, tenantID, k)
}

// Reserve claims the key with SETNX. When the key exists it reports either
// the finished order id or that the first request is still in flight.
func (s *IdempotencyStore) Reserve(ctx context.Context, tenantID uuid.UUID, k string) (orders.Reservation, error) {
	redisKey := key(tenantID, k)
	ok, err := s.rdb.SetNX(ctx, redisKey, pending, s.pendingTTL).Result()
	if err != nil {
		return orders.Reservation{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return orders.Reservation{}, nil
	}

	val, err := s.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired or released between SETNX and GET; treat as in flight
		// and let the client retry.
		return orders.Reservation{InFlight: true}, nil
	}
	if err != nil {
		return orders.Reservation{}, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == pending {
		return orders.Reservation{InFlight: true}, nil
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return orders.Reservation{}, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	return orders.Reservation{OrderID: id}, nil
}

// Complete replaces the pending marker with the order id for the full ttl.
func (s *IdempotencyStore) Complete(ctx context.Context, tenantID uuid.UUID, k string, orderID uuid.UUID) error {
	if err := s.rdb.Set(ctx, key(tenantID, k), orderID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release drops the key so a failed create can be retried with it.
func (s *IdempotencyStore) Release(ctx context.Context, tenantID uuid.UUID, k string) error {
	if err := s.rdb.Del(ctx, key(tenantID, k)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
