package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStoreFromClient(rdb), mr
}

func TestRedisGetSetTTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisJSONRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	in := map[string]any{"device": "sw-01", "ports": float64(48)}
	require.NoError(t, store.SetJSON(ctx, "k", in, 0))

	var out map[string]any
	require.NoError(t, store.GetJSON(ctx, "k", &out))
	assert.Equal(t, in, out)
}

func TestRedisLocks(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	held, err := store.AcquireLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	// Second acquisition while held must fail.
	held, err = store.AcquireLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)

	locked, err := store.IsLocked(ctx, "cleanup")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, store.ReleaseLock(ctx, "cleanup"))
	held, err = store.AcquireLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	// TTL expiry frees the lock without an explicit release.
	mr.FastForward(2 * time.Minute)
	held, err = store.AcquireLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisHealthStatus(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	// Absent writer means unknown.
	status, err := store.HealthStatus(ctx, "glpi")
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, status)

	require.NoError(t, store.SetHealthStatus(ctx, "glpi", HealthOK))
	status, err = store.HealthStatus(ctx, "glpi")
	require.NoError(t, err)
	assert.Equal(t, HealthOK, status)

	// The TTL is the freshness fuse.
	mr.FastForward(2 * HealthStatusTTL)
	status, err = store.HealthStatus(ctx, "glpi")
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, status)
}

func TestRedisAlertFlags(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	sent, err := store.IsAlertSent(ctx, "glpi_down")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, store.MarkAlertSent(ctx, "glpi_down"))
	sent, err = store.IsAlertSent(ctx, "glpi_down")
	require.NoError(t, err)
	assert.True(t, sent)

	require.NoError(t, store.ClearAlertSent(ctx, "glpi_down"))
	sent, err = store.IsAlertSent(ctx, "glpi_down")
	require.NoError(t, err)
	assert.False(t, sent)

	// The anti-spam window ends on its own.
	require.NoError(t, store.MarkAlertSent(ctx, "glpi_down"))
	mr.FastForward(AlertFlagTTL + time.Second)
	sent, err = store.IsAlertSent(ctx, "glpi_down")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestRedisDiagnosticCache(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	payload := map[string]any{"cpu": float64(12)}
	require.NoError(t, store.SetDiagnostic(ctx, "sw-01", "2026-08-24", payload))

	var out map[string]any
	require.NoError(t, store.GetDiagnostic(ctx, "sw-01", "2026-08-24", &out))
	assert.Equal(t, payload, out)

	err := store.GetDiagnostic(ctx, "sw-01", "2026-08-25", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	held, err := store.AcquireLock(ctx, "l", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
	held, _ = store.AcquireLock(ctx, "l", time.Minute)
	assert.False(t, held)

	status, err := store.HealthStatus(ctx, "glpi")
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, status)
}
