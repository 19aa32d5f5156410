package secrets

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

func newTestStore(t *testing.T, key string) (*RedisEnvelopeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store, err := NewRedisEnvelopeStore(rdb, key)
	require.NoError(t, err)
	return store, mr
}

func TestEnvelopeRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "a-sufficiently-long-operator-key!")
	ctx := context.Background()

	data := map[string]any{
		"new_password": "S3cret!",
		"nested":       map[string]any{"token": "t"},
	}
	require.NoError(t, store.Store(ctx, "approval:abc", data, time.Minute))

	got, err := store.Get(ctx, "approval:abc")
	require.NoError(t, err)
	assert.Equal(t, "S3cret!", got["new_password"])
	assert.Equal(t, "t", got["nested"].(map[string]any)["token"])
}

func TestEnvelopeCiphertextOpaque(t *testing.T) {
	store, mr := newTestStore(t, "a-sufficiently-long-operator-key!")
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "approval:abc", map[string]any{"password": "PlainValue"}, time.Minute))

	raw, err := mr.Get("secret:approval:abc")
	require.NoError(t, err)
	assert.NotContains(t, raw, "PlainValue")
	assert.NotContains(t, raw, "password")
}

func TestEnvelopeExpiry(t *testing.T) {
	store, mr := newTestStore(t, "a-sufficiently-long-operator-key!")
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "approval:abc", map[string]any{"token": "t"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "approval:abc")
	assert.True(t, errors.Is(err, ErrEnvelopeNotFound))
}

func TestEnvelopeMissing(t *testing.T) {
	store, _ := newTestStore(t, "a-sufficiently-long-operator-key!")
	_, err := store.Get(context.Background(), "approval:never-stored")
	assert.True(t, errors.Is(err, ErrEnvelopeNotFound))
}

func TestEnvelopeDelete(t *testing.T) {
	store, _ := newTestStore(t, "a-sufficiently-long-operator-key!")
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "approval:abc", map[string]any{"token": "t"}, time.Minute))
	require.NoError(t, store.Delete(ctx, "approval:abc"))

	_, err := store.Get(ctx, "approval:abc")
	assert.True(t, errors.Is(err, ErrEnvelopeNotFound))

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "approval:abc"))
}

func TestEnvelopeWrongKeyFailsAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	writer, err := NewRedisEnvelopeStore(rdb, "key-one")
	require.NoError(t, err)
	reader, err := NewRedisEnvelopeStore(rdb, "key-two")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Store(ctx, "approval:abc", map[string]any{"token": "t"}, time.Minute))

	_, err = reader.Get(ctx, "approval:abc")
	assert.Error(t, err)
}

func TestEphemeralKeyStillWorks(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "approval:abc", map[string]any{"secret": "s"}, time.Minute))
	got, err := store.Get(ctx, "approval:abc")
	require.NoError(t, err)
	assert.Equal(t, "s", got["secret"])
}
