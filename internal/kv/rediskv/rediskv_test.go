package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/kv"
)

func newAdapter(t *testing.T) *Adapter {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 13})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err(), "Redis must be running on localhost:6379")
	require.NoError(t, rdb.FlushDB(ctx).Err())
	return New(rdb, logger.New("error", "json"))
}

func TestSetIfAbsent_IdempotencyDedup(t *testing.T) {
	a := newAdapter(t)
	key := kv.DedupKey(uuid.NewString())

	first, err := a.SetIfAbsent(context.Background(), key, []byte("1"), kv.DedupTTL)
	require.NoError(t, err)
	require.True(t, first)

	second, err := a.SetIfAbsent(context.Background(), key, []byte("1"), kv.DedupTTL)
	require.NoError(t, err)
	require.False(t, second, "a duplicate eventId must not re-set the dedup record")
}

func TestCompareAndSwap_AppliesThenConflicts(t *testing.T) {
	a := newAdapter(t)
	key := "workflow:" + uuid.NewString()

	res, err := a.CompareAndSwap(context.Background(), key, 0, []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, kv.CASApplied, res.Outcome)
	require.Equal(t, int64(1), res.Version)

	val, ok, err := a.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(val))

	// Stale expectation (still 0) must conflict, not silently overwrite.
	res2, err := a.CompareAndSwap(context.Background(), key, 0, []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, kv.CASConflict, res2.Outcome)
	require.Equal(t, int64(1), res2.Version)

	// Correct expectation (1) applies and bumps to 2.
	res3, err := a.CompareAndSwap(context.Background(), key, 1, []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, kv.CASApplied, res3.Outcome)
	require.Equal(t, int64(2), res3.Version)
}

func TestCompareAndSwap_MissingKeyNonZeroExpectation(t *testing.T) {
	a := newAdapter(t)
	key := "workflow:" + uuid.NewString()

	res, err := a.CompareAndSwap(context.Background(), key, 5, []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, kv.CASMissing, res.Outcome)
}

func TestIncr(t *testing.T) {
	a := newAdapter(t)
	key := "counter:" + uuid.NewString()

	v1, err := a.Incr(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)

	v2, err := a.Incr(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(2), v2)
}
