// Package queue provides the Redis-backed task stores of the voicepipe
// pipeline:
//   - the process queue, a sorted set ordered by a priority/time score,
//     holding synthesis tasks that have not been claimed by a worker yet
//   - the upload queue, a plain list used as a FIFO hand-off between the
//     synthesis worker and the delivery worker
//
// The Client type is the only entry point for queue operations. Dequeue is
// atomic (ZPOPMAX), so several synthesis workers may safely drain the same
// process queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fuuuzzy/voicepipe/pkg/tasks"
)

// Default Redis keys. Override via Config for multi-tenant deployments.
const (
	DefaultProcessQueueKey = "queue:process"
	DefaultUploadQueueKey  = "queue:upload"
)

// Config holds Redis connection settings for the queue client.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	ProcessQueueKey string
	UploadQueueKey  string
}

// Client manages the connection to Redis and provides the process-queue and
// upload-queue operations. All operations are context-aware.
type Client struct {
	rdb        *redis.Client
	processKey string
	uploadKey  string
}

// New creates a queue client from the given config. Zero-value fields fall
// back to sane defaults (pool of 10, default queue keys).
func New(cfg Config) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.ProcessQueueKey == "" {
		cfg.ProcessQueueKey = DefaultProcessQueueKey
	}
	if cfg.UploadQueueKey == "" {
		cfg.UploadQueueKey = DefaultUploadQueueKey
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  30 * time.Second, // blocking pops derive their own read deadline from the command timeout
		WriteTimeout: 2 * time.Second,
	})

	return &Client{
		rdb:        rdb,
		processKey: cfg.ProcessQueueKey,
		uploadKey:  cfg.UploadQueueKey,
	}
}

// Ping verifies the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Score computes the process-queue ordering weight for a task admitted at t:
//
//	score = (PriorityMax + 1 - priority) * unix-seconds(t)
//
// Dequeue pops the maximum score. Note two quirks of this scheme, kept
// bit-for-bit compatible with already-deployed callers rather than fixed:
//   - the weight term gives numerically low priorities the larger
//     multiplier, so priority 1 drains ahead of priority 5 at comparable
//     admission times
//   - within one priority tier later admissions score higher, so tier
//     ordering is LIFO, not FIFO, and scores grow without bound with the
//     wall clock
func Score(priority int, t time.Time) float64 {
	weight := float64(tasks.PriorityMax + 1 - priority)
	return weight * (float64(t.UnixNano()) / float64(time.Second))
}

// Enqueue admits a new task: it generates a fresh UUID, stamps the admission
// time, computes the score and adds the serialized task to the process queue.
// This is the only creation point for tasks. Returns the task id.
func (c *Client) Enqueue(ctx context.Context, payload tasks.Payload, priority int) (string, error) {
	if !tasks.ValidPriority(priority) {
		return "", fmt.Errorf("priority %d outside [%d, %d]", priority, tasks.PriorityMin, tasks.PriorityMax)
	}

	task := tasks.Task{
		ID:        uuid.New().String(),
		Priority:  priority,
		CreatedAt: time.Now(),
		Payload:   payload,
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	err = c.rdb.ZAdd(ctx, c.processKey, redis.Z{
		Score:  Score(task.Priority, task.CreatedAt),
		Member: data,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("zadd %s: %w", c.processKey, err)
	}

	return task.ID, nil
}

// Dequeue atomically removes and returns the highest-scored pending task.
// The pop is destructive: no two callers can ever receive the same task.
// Returns (nil, nil) when the queue is empty.
func (c *Client) Dequeue(ctx context.Context) (*tasks.Task, error) {
	members, err := c.rdb.ZPopMax(ctx, c.processKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("zpopmax %s: %w", c.processKey, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	raw, ok := members[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected member type %T in %s", members[0].Member, c.processKey)
	}

	var task tasks.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Cancel removes a still-pending task from the process queue by id. It scans
// all resident members, so it is O(n) in queue depth and meant for moderate
// queue sizes. Returns true only when ZREM confirms the member was still
// present; a cancel racing a concurrent dequeue therefore reports false
// instead of claiming a task a worker already owns.
func (c *Client) Cancel(ctx context.Context, taskID string) (bool, error) {
	members, err := c.rdb.ZRange(ctx, c.processKey, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("zrange %s: %w", c.processKey, err)
	}

	for _, raw := range members {
		var task tasks.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Skip malformed members; they are unreachable by id anyway.
			continue
		}
		if task.ID != taskID {
			continue
		}

		removed, err := c.rdb.ZRem(ctx, c.processKey, raw).Result()
		if err != nil {
			return false, fmt.Errorf("zrem %s: %w", c.processKey, err)
		}
		return removed > 0, nil
	}

	return false, nil
}

// PushUploadJob appends a completed synthesis result to the upload queue.
func (c *Client) PushUploadJob(ctx context.Context, job tasks.UploadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal upload job: %w", err)
	}
	if err := c.rdb.LPush(ctx, c.uploadKey, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", c.uploadKey, err)
	}
	return nil
}

// PopUploadJob removes the oldest upload job, blocking up to timeout.
// Returns (nil, nil) when the timeout elapses with nothing available.
func (c *Client) PopUploadJob(ctx context.Context, timeout time.Duration) (*tasks.UploadJob, error) {
	result, err := c.rdb.BRPop(ctx, timeout, c.uploadKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", c.uploadKey, err)
	}

	// BRPop returns [key, value].
	var job tasks.UploadJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal upload job: %w", err)
	}
	return &job, nil
}

// Stats reports the current depth of both queues.
type Stats struct {
	ProcessQueued int64 `json:"process_queued"`
	UploadQueued  int64 `json:"upload_queued"`
}

// Depths returns the number of resident entries in the process and upload
// queues. Used by the stats endpoint and the metrics collector.
func (c *Client) Depths(ctx context.Context) (Stats, error) {
	pipe := c.rdb.Pipeline()
	processCard := pipe.ZCard(ctx, c.processKey)
	uploadLen := pipe.LLen(ctx, c.uploadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue depths: %w", err)
	}
	return Stats{
		ProcessQueued: processCard.Val(),
		UploadQueued:  uploadLen.Val(),
	}, nil
}
