// Package queue dispatches analysis runs to workers through Redis. A run id
// sits on a ready list until a worker claims it; claims carry a visibility
// lease so a dead worker's run returns to the ready list instead of being
// lost.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "analyses:ready"
	inflightKey = "analyses:inflight"
)

// RedisQueue coordinates the ready list and the in-flight lease set.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// NewRedisQueue wraps an existing client. visibility bounds how long a
// claimed run stays invisible before RequeueExpired reclaims it.
func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	return &RedisQueue{client: client, visibilityTTL: visibility}
}

// Enqueue places an analysis id on the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	return q.client.RPush(ctx, readyKey, id).Err()
}

// DequeueWithLease atomically claims the oldest ready id and records its
// lease deadline in the in-flight set. Returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := claimScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from claim script: %T", res)
	}
	return id, nil
}

// ExtendLease pushes the visibility deadline forward for a claimed run.
// Workers extend while a long stage is still making progress.
func (q *RedisQueue) ExtendLease(ctx context.Context, id string) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(q.visibilityTTL).UnixMilli()),
		Member: id,
	}).Err()
}

// Ack releases a claimed run once its record reached a terminal state.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	return q.client.ZRem(ctx, inflightKey, id).Err()
}

// RequeueExpired moves runs whose lease lapsed back onto the ready list and
// returns their ids. Their workers are presumed dead; the next claimer
// resumes from checkpoint.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Requeue puts a specific run back on the ready list, dropping any lease.
// Used by the reconciliation sweep for abandoned mid-stage runs.
func (q *RedisQueue) Requeue(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, id)
	pipe.LRem(ctx, readyKey, 0, id)
	pipe.RPush(ctx, readyKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth reports how many runs await a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

// InflightDepth reports how many runs hold an active lease.
func (q *RedisQueue) InflightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, inflightKey).Result()
}

var claimScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
