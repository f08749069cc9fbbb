package impl

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCounterQueue   = 256
	DefaultCounterTimeout = 500 * time.Millisecond

	maxCounterBatch = 64
)

type counterDelta struct {
	name  string
	delta int64
}

// RedisCounters keeps operational counters in the hash shapecast:<instance>.
// Incr only queues the delta; Run writes queued deltas in pipelined batches.
// When the queue is full the delta is dropped.
type RedisCounters struct {
	rdb     *redis.Client
	key     string
	logger  *slog.Logger
	queue   chan counterDelta
	timeout time.Duration
	dropped atomic.Uint64
}

func NewRedisCounters(logger *slog.Logger, rdb *redis.Client, instanceID string) *RedisCounters {
	return &RedisCounters{
		rdb:     rdb,
		key:     fmt.Sprintf("shapecast:%v", instanceID),
		logger:  logger.With(slog.String("component", "counters")),
		queue:   make(chan counterDelta, DefaultCounterQueue),
		timeout: DefaultCounterTimeout,
	}
}

// Start records the boot time, resetting nothing else.
func (c *RedisCounters) Start(ctx context.Context) error {
	data := map[string]any{
		"boot": strconv.Itoa(int(time.Now().Unix())),
	}

	return c.rdb.HSet(ctx, c.key, data).Err()
}

func (c *RedisCounters) Incr(_ context.Context, name string, delta int64) {
	select {
	case c.queue <- counterDelta{name: name, delta: delta}:
	default:
		c.dropped.Add(1)
	}
}

// Dropped counts deltas discarded because the queue was full.
func (c *RedisCounters) Dropped() uint64 {
	return c.dropped.Load()
}

// Run drains the queue until ctx is done.
func (c *RedisCounters) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-c.queue:
			batch := map[string]int64{d.name: d.delta}

		drain:
			for n := 1; n < maxCounterBatch; n++ {
				select {
				case d := <-c.queue:
					batch[d.name] += d.delta
				default:
					break drain
				}
			}

			c.flush(ctx, batch)
		}
	}
}

func (c *RedisCounters) flush(ctx context.Context, batch map[string]int64) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pipe := c.rdb.Pipeline()
	for name, delta := range batch {
		pipe.HIncrBy(ctx, c.key, name, delta)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to update counters",
			slog.Int("counters", len(batch)),
			slog.Uint64("dropped", c.Dropped()),
			slog.Any("err", err),
		)
	}
}

func (c *RedisCounters) Get(ctx context.Context, name string) (int64, error) {
	res, err := c.rdb.HGet(ctx, c.key, name).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	return strconv.ParseInt(res, 10, 64)
}

func (c *RedisCounters) All(ctx context.Context) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, c.key).Result()
}

func (c *RedisCounters) Delete(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
