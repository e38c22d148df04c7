// Package redis provides a reliable Redis implementation of queue.Queue.
//
// Ready envelopes live in a list and are moved atomically into a
// processing list on dequeue, so a crashed worker leaves its envelope
// behind for Recover. Delayed retries wait in a sorted set scored by
// their due time and are promoted by a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

// Config holds Redis queue configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "sponsorsync:")
	KeyPrefix string

	// PollTimeout bounds each blocking dequeue so delayed jobs get promoted
	// (default: 1s)
	PollTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "sponsorsync:",
		PollTimeout: time.Second,
	}
}

// Queue implements queue.Queue on Redis lists and a sorted set
type Queue struct {
	client  redis.UniversalClient
	config  Config
	promote *redis.Script
}

// New creates a new Redis queue
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "sponsorsync:"
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = time.Second
	}

	return &Queue{
		client: client,
		config: config,
		// Move every due member of the delayed set onto the ready list
		promote: redis.NewScript(`
			local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
			for _, member in ipairs(due) do
				redis.call('ZREM', KEYS[1], member)
				redis.call('LPUSH', KEYS[2], member)
			end
			return #due
		`),
	}, nil
}

func (q *Queue) key(name string) string {
	return q.config.KeyPrefix + "queue:" + name
}

func (q *Queue) readyKey() string      { return q.key("ready") }
func (q *Queue) processingKey() string { return q.key("processing") }
func (q *Queue) delayedKey() string    { return q.key("delayed") }
func (q *Queue) deadKey() string       { return q.key("dead") }

func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	env, err := queue.NewEnvelope(job)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", env.Kind, err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.config.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, queue.ErrClosed
			}
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		var env queue.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// unreadable entries can never be processed
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, q.processingKey(), 1, raw)
			pipe.LPush(ctx, q.deadKey(), raw)
			if _, perr := pipe.Exec(ctx); perr != nil {
				return nil, fmt.Errorf("failed to dead-letter malformed envelope: %w", perr)
			}
			continue
		}
		env.Receipt = raw
		return &env, nil
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := q.promote.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return nil
}

func (q *Queue) Ack(ctx context.Context, env *queue.Envelope) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, env.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", env.ID, err)
	}
	return nil
}

func (q *Queue) Retry(ctx context.Context, env *queue.Envelope, delay time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, env.Receipt)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: string(data)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", env.ID, err)
	}
	return nil
}

func (q *Queue) Dead(ctx context.Context, env *queue.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, env.Receipt)
	pipe.LPush(ctx, q.deadKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", env.ID, err)
	}
	return nil
}

// Recover moves envelopes left in the processing list back to the ready
// list. Call it at worker startup; envelopes still held by a live worker
// are delivered twice, which idempotent handlers tolerate.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		moved++
	}
}

// Stats reports the size of each list
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	processing := pipe.LLen(ctx, q.processingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"ready":      ready.Val(),
		"processing": processing.Val(),
		"delayed":    delayed.Val(),
		"dead":       dead.Val(),
	}, nil
}

// Close closes the underlying client
func (q *Queue) Close() error {
	return q.client.Close()
}
