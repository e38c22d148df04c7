package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

// setupTestQueue requires Redis running on localhost:6379
func setupTestQueue(t *testing.T) *Queue {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	q, err := New(client, Config{KeyPrefix: "test:", PollTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	job := domain.SponsorshipJob{OwnerID: "o", Sponsor: "alice", Amount: domain.Dollars(10)}
	require.NoError(t, q.Enqueue(ctx, job))

	env, err := q.Dequeue(ctx)
	require.NoError(t, err)
	got, err := env.Job()
	require.NoError(t, err)
	assert.Equal(t, job, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["processing"])

	require.NoError(t, q.Ack(ctx, env))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats["processing"])
}

func TestQueue_RetryIsDelayed(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, domain.TierResyncJob{OwnerID: "o"}))
	env, err := q.Dequeue(ctx)
	require.NoError(t, err)

	env.Attempts = 1
	require.NoError(t, q.Retry(ctx, env, 150*time.Millisecond))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["delayed"])
	assert.Equal(t, int64(0), stats["processing"])

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	again, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, env.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
}

func TestQueue_DeadAndRecover(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, domain.TierResyncJob{OwnerID: "a"}))
	require.NoError(t, q.Enqueue(ctx, domain.TierResyncJob{OwnerID: "b"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Dead(ctx, first))

	// simulate a crash with the second envelope in flight
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["ready"])
	assert.Equal(t, int64(1), stats["dead"])
	assert.Equal(t, int64(0), stats["processing"])
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q := setupTestQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
