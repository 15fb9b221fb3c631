package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreFromClient(client), mr
}

func TestAcquireSlot_CapsAndRollsBack(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := s.AcquireSlot(ctx, "bucket", 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := s.AcquireSlot(ctx, "bucket", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// The over-limit INCR is rolled back so the counter stays at max.
	n, err := s.GetInt(ctx, "bucket")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAcquireSlot_SetsTTLOnFirstHitOnly(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.AcquireSlot(ctx, "bucket", 10, time.Hour)
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)

	_, err = s.AcquireSlot(ctx, "bucket", 10, time.Hour)
	require.NoError(t, err)

	// Subsequent acquires must not refresh the expiry.
	ttl, err := s.TTL(ctx, "bucket")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Minute)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestReleaseSlot_GuardsAgainstNegative(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReleaseSlot(ctx, "bucket"))

	n, err := s.GetInt(ctx, "bucket")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	ok, err := s.AcquireSlot(ctx, "bucket", 1, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseSlot(ctx, "bucket"))
	require.NoError(t, s.ReleaseSlot(ctx, "bucket"))

	n, err = s.GetInt(ctx, "bucket")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestIncrWithExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	n, err := s.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mr.FastForward(time.Hour + time.Second)

	n, err = s.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter should restart after expiry")
}

func TestGetInt_MissingKeyIsZero(t *testing.T) {
	s, _ := newTestStore(t)

	n, err := s.GetInt(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSetGetExistsTTLDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithExpiry(ctx, "k", "v", time.Minute))

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, s.Delete(ctx, "k"))

	exists, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, val)

	ttl, err = s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestKeys_Pattern(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithExpiry(ctx, "app:a", "1", time.Minute))
	require.NoError(t, s.SetWithExpiry(ctx, "app:b", "2", time.Minute))
	require.NoError(t, s.SetWithExpiry(ctx, "other:c", "3", time.Minute))

	keys, err := s.Keys(ctx, "app:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app:a", "app:b"}, keys)
}

func TestDelete_NoKeysIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Delete(context.Background()))
}
