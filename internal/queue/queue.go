// Package queue implements the at-least-once task queue over Redis.
// Tasks move between four structures: the main list, an in-flight
// processing list guarded by per-task lease keys, a sorted set of
// delayed retries, and a dead-letter list after retries are exhausted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/luminapix/backend/internal/config"
)

const (
	queueKey      = "imagejobs:queue"
	processingKey = "imagejobs:processing"
	delayedKey    = "imagejobs:delayed"
	deadKey       = "imagejobs:dead"
	leasePrefix   = "imagejobs:lease:"
)

// Task is one unit of dispatched work. Attempt is 1-based.
type Task struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`

	raw string // wire form as dequeued, used for list removal
}

func (t *Task) encode() (string, error) {
	if t.raw != "" {
		return t.raw, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type RedisQueue struct {
	rdb *redis.Client
	cfg *config.QueueConfig
	now func() time.Time
}

func NewRedisQueue(rdb *redis.Client, cfg *config.QueueConfig) *RedisQueue {
	return &RedisQueue{
		rdb: rdb,
		cfg: cfg,
		now: time.Now,
	}
}

// Enqueue pushes a task onto the main queue.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := t.encode()
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, queueKey, data).Err()
}

// Dequeue blocks up to the poll timeout for a task, moving it to the
// processing list and taking a lease bounded by the hard time limit.
// Returns (nil, nil) when the timeout elapses with no work.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	raw, err := q.rdb.BRPopLPush(ctx, queueKey, processingKey, q.cfg.PollTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// Unreadable payload: drop it from processing so it cannot wedge the list.
		q.rdb.LRem(ctx, processingKey, 1, raw)
		return nil, fmt.Errorf("malformed task payload: %w", err)
	}
	t.raw = raw

	if err := q.rdb.Set(ctx, leasePrefix+t.JobID, raw, q.cfg.HardTimeLimit).Err(); err != nil {
		return nil, err
	}

	return &t, nil
}

// Ack removes a finished task from the processing list and releases its
// lease. Called only after the worker has reported an outcome
// (ack-late).
func (q *RedisQueue) Ack(ctx context.Context, t *Task) error {
	raw, err := t.encode()
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return err
	}
	return q.rdb.Del(ctx, leasePrefix+t.JobID).Err()
}

// Nack records a failed attempt. With attempts remaining the task is
// scheduled for redelivery after the fixed retry delay; otherwise it is
// dead-lettered and exhausted is true. Only the caller that still owns
// the processing entry gets to decide the task's fate: when the lease
// expired and the reclaim loop already re-queued the task, LRem removes
// nothing and the attempt outcome is dropped, so a retry is never
// scheduled twice.
func (q *RedisQueue) Nack(ctx context.Context, t *Task) (exhausted bool, err error) {
	raw, err := t.encode()
	if err != nil {
		return false, err
	}
	removed, err := q.rdb.LRem(ctx, processingKey, 1, raw).Result()
	if err != nil {
		return false, err
	}
	if err := q.rdb.Del(ctx, leasePrefix+t.JobID).Err(); err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}

	if t.Attempt >= q.cfg.MaxAttempts {
		if err := q.rdb.LPush(ctx, deadKey, raw).Err(); err != nil {
			return true, err
		}
		return true, nil
	}

	next := Task{JobID: t.JobID, Attempt: t.Attempt + 1}
	data, err := next.encode()
	if err != nil {
		return false, err
	}
	readyAt := q.now().Add(q.cfg.RetryDelay)
	err = q.rdb.ZAdd(ctx, delayedKey, &redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: data,
	}).Err()
	return false, err
}

// PromoteDue moves delayed tasks whose retry time has arrived back onto
// the main queue. Returns how many were promoted.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", q.now().Unix()),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, raw := range due {
		if err := q.rdb.ZRem(ctx, delayedKey, raw).Err(); err != nil {
			return promoted, err
		}
		if err := q.rdb.LPush(ctx, queueKey, raw).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// ReclaimExpired re-queues in-flight tasks whose lease has expired,
// which is how a crashed worker's task becomes visible again. The task
// keeps its attempt count; the hard time limit is counted as a failed
// attempt by the worker, not here.
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	inflight, err := q.rdb.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, raw := range inflight {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		held, err := q.rdb.Exists(ctx, leasePrefix+t.JobID).Result()
		if err != nil {
			return reclaimed, err
		}
		if held > 0 {
			continue
		}
		if err := q.rdb.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
			return reclaimed, err
		}
		if err := q.rdb.LPush(ctx, queueKey, raw).Err(); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// DeadLetters lists dead-lettered tasks for inspection.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]Task, error) {
	raws, err := q.rdb.LRange(ctx, deadKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(raws))
	for _, raw := range raws {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
