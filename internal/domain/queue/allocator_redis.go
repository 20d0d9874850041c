package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// allocatorRedis keeps the day counters in Redis, one INCR key per day and
// kind. Useful when several clinicdesk instances share a queue and the
// database should not absorb the counter traffic. Keys expire two days after
// first use; the day scoping makes stale keys harmless anyway.
type allocatorRedis struct {
	client *redis.Client
}

func NewRedisAllocator(client *redis.Client) Allocator {
	return &allocatorRedis{client: client}
}

func redisCounterKey(day Day, kind string) string {
	return fmt.Sprintf("clinicdesk:queue:%s:%s", kind, day)
}

func (a *allocatorRedis) next(ctx context.Context, day Day, kind string) (int, error) {
	key := redisCounterKey(day, kind)
	value, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	if value == 1 {
		a.client.Expire(ctx, key, 48*time.Hour)
	}
	return int(value), nil
}

func (a *allocatorRedis) NextTicket(ctx context.Context, day Day) (int, error) {
	return a.next(ctx, day, counterTicket)
}

func (a *allocatorRedis) NextPosition(ctx context.Context, day Day) (int, error) {
	return a.next(ctx, day, counterPosition)
}

func (a *allocatorRedis) Peek(ctx context.Context, day Day) (int, error) {
	raw, err := a.client.Get(ctx, redisCounterKey(day, counterTicket)).Result()
	if err == redis.Nil {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter %q", ErrAllocationUnavailable, raw)
	}
	return value + 1, nil
}

func (a *allocatorRedis) Reset(ctx context.Context, day Day) error {
	err := a.client.Del(ctx,
		redisCounterKey(day, counterTicket),
		redisCounterKey(day, counterPosition),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}
	return nil
}
