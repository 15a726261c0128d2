package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapKV is a single-process stand-in for the four commands the store uses.
type mapKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

var errDown = errors.New("connection refused")

func (m *mapKV) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return redis.NewBoolResult(false, errDown)
	}
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mapKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mapKV) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *mapKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			delete(m.ttls, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	kv := newMapKV()
	s := NewIdempotencyStore(kv, time.Hour, 0)
	ctx := context.Background()
	tenant := uuid.New()

	res, err := s.Reserve(ctx, tenant, "k1")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, res.OrderID)
	assert.False(t, res.InFlight, "first caller holds the key")

	res, err = s.Reserve(ctx, tenant, "k1")
	require.NoError(t, err)
	assert.True(t, res.InFlight)

	orderID := uuid.New()
	require.NoError(t, s.Complete(ctx, tenant, "k1", orderID))
	res, err = s.Reserve(ctx, tenant, "k1")
	require.NoError(t, err)
	assert.Equal(t, orderID, res.OrderID)

	assert.Contains(t, kv.data, "idem:order:create:"+tenant.String()+":k1")
}

func TestIdempotencyStore_TenantScopedAndRelease(t *testing.T) {
	s := NewIdempotencyStore(newMapKV(), time.Hour, 0)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := s.Reserve(ctx, a, "same")
	require.NoError(t, err)
	res, err := s.Reserve(ctx, b, "same")
	require.NoError(t, err)
	assert.False(t, res.InFlight, "other tenant's key is independent")

	require.NoError(t, s.Release(ctx, a, "same"))
	res, err = s.Reserve(ctx, a, "same")
	require.NoError(t, err)
	assert.False(t, res.InFlight, "released key can be claimed again")
}

func TestIdempotencyStore_Errors(t *testing.T) {
	kv := newMapKV()
	s := NewIdempotencyStore(kv, time.Hour, 0)
	ctx := context.Background()
	tenant := uuid.New()

	kv.data[key(tenant, "bad")] = "not-a-uuid"
	_, err := s.Reserve(ctx, tenant, "bad")
	assert.Error(t, err)

	kv.down = true
	_, err = s.Reserve(ctx, tenant, "k")
	assert.ErrorIs(t, err, errDown)
}

func TestIdempotencyStore_PendingExpiresSooner(t *testing.T) {
	kv := newMapKV()
	s := NewIdempotencyStore(kv, 24*time.Hour, 30*time.Second)
	ctx := context.Background()
	tenant := uuid.New()
	redisKey := key(tenant, "k")

	_, err := s.Reserve(ctx, tenant, "k")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, kv.ttls[redisKey])

	require.NoError(t, s.Complete(ctx, tenant, "k", uuid.New()))
	assert.Equal(t, 24*time.Hour, kv.ttls[redisKey])
}

func TestNewIdempotencyStore_PendingTTLBounds(t *testing.T) {
	assert.Equal(t, DefaultPendingTTL, NewIdempotencyStore(newMapKV(), time.Hour, 0).pendingTTL)
	assert.Equal(t, 10*time.Second, NewIdempotencyStore(newMapKV(), 10*time.Second, time.Minute).pendingTTL)
}
