// Package queue is a Redis-backed durable job queue: one-shot jobs, delayed
// jobs, and recurring schedulers with upsert-by-id semantics. Producers use
// Client; worker processes run Worker against the same Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/publora/publora/internal/telemetry"
)

// StuckThreshold is how old a waiting job may be before the queue is
// considered stalled
const StuckThreshold = time.Hour

// Health is the result of a stuck-job inspection
type Health struct {
	Valid bool     `json:"valid"`
	Stuck []string `json:"stuck,omitempty"`
}

// Client is the producer-side queue façade. It does not own the Redis
// connection: Connect and Close exist for lifecycle symmetry with callers
// that expect them, but the go-redis client pools connections itself.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a queue client on an existing Redis connection
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Connect is a no-op; the Redis client manages its own pool
func (c *Client) Connect(ctx context.Context) error { return nil }

// Close is a no-op; the Redis connection is owned by the caller
func (c *Client) Close() error { return nil }

// Emit enqueues one job onto the named queue and returns its id. A zero
// Delay makes the job immediately available to workers; a positive Delay
// parks it in the delayed set until a worker's promoter moves it over.
func (c *Client) Emit(ctx context.Context, pattern string, payload any, opts *JobOptions) (string, error) {
	if opts == nil {
		opts = &JobOptions{}
	}
	job, err := c.buildJob(pattern, payload, opts)
	if err != nil {
		return "", err
	}
	if err := c.enqueue(ctx, job); err != nil {
		return "", err
	}
	telemetry.QueueJobsEnqueuedTotal.WithLabelValues(pattern).Inc()
	return job.ID, nil
}

// PublishAsync enqueues one job and blocks until a worker finishes it,
// returning the job's result payload or its error. The completion channel is
// subscribed before the enqueue so a fast worker cannot race the caller.
func (c *Client) PublishAsync(ctx context.Context, pattern string, payload any, opts *JobOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &JobOptions{}
	}
	job, err := c.buildJob(pattern, payload, opts)
	if err != nil {
		return nil, err
	}

	sub := c.rdb.Subscribe(ctx, eventsChannel(pattern, job.ID))
	defer sub.Close()
	// forces the SUBSCRIBE to complete before the job becomes visible
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe completion channel: %w", err)
	}

	if err := c.enqueue(ctx, job); err != nil {
		return nil, err
	}
	telemetry.QueueJobsEnqueuedTotal.WithLabelValues(pattern).Inc()

	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil, fmt.Errorf("completion channel closed for job %s", job.ID)
			}
			var ev jobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				return nil, fmt.Errorf("decode completion event: %w", err)
			}
			if !ev.OK {
				return nil, fmt.Errorf("job %s failed: %s", job.ID, ev.Error)
			}
			return ev.Result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// DispatchEvent is the fire-and-forget producer call. When the options carry
// an Every interval it upserts a recurring scheduler keyed by the options ID:
// re-dispatching with the same id replaces the existing schedule instead of
// duplicating it. Without Every it behaves like Emit.
func (c *Client) DispatchEvent(ctx context.Context, pattern string, payload any, opts *JobOptions) error {
	if opts == nil {
		opts = &JobOptions{}
	}
	if opts.Every <= 0 {
		_, err := c.Emit(ctx, pattern, payload, opts)
		return err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal scheduler payload: %w", err)
	}
	sched := scheduler{
		ID:       id,
		Pattern:  pattern,
		Payload:  raw,
		Every:    opts.Every,
		Attempts: opts.Attempts,
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}

	next := time.Now().Add(opts.Every)
	if opts.Immediately {
		next = time.Now()
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, schedulersKey(pattern), id, data)
	pipe.ZAdd(ctx, schedulerDueKey(pattern), redis.Z{
		Score:  float64(next.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert scheduler %s: %w", id, err)
	}
	slog.Debug("scheduler upserted", "queue", pattern, "scheduler_id", id, "every", opts.Every)
	return nil
}

// Delete removes a pending one-shot job by id. Removing an unknown job is
// not an error.
func (c *Client) Delete(ctx context.Context, pattern, jobID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, waitingKey(pattern), 0, jobID)
	pipe.ZRem(ctx, delayedKey(pattern), jobID)
	pipe.HDel(ctx, jobsKey(pattern), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteScheduler cancels a recurring scheduler by id. Idempotent.
func (c *Client) DeleteScheduler(ctx context.Context, pattern, schedulerID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, schedulersKey(pattern), schedulerID)
	pipe.ZRem(ctx, schedulerDueKey(pattern), schedulerID)
	_, err := pipe.Exec(ctx)
	return err
}

// CheckForStuckWaitingJobs flags the queue unhealthy when any waiting job has
// been sitting longer than StuckThreshold, which means the worker pool is
// stalled or absent.
func (c *Client) CheckForStuckWaitingJobs(ctx context.Context, pattern string) (*Health, error) {
	ids, err := c.rdb.LRange(ctx, waitingKey(pattern), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting jobs: %w", err)
	}
	telemetry.QueueWaitingJobs.WithLabelValues(pattern).Set(float64(len(ids)))

	health := &Health{Valid: true}
	if len(ids) == 0 {
		return health, nil
	}

	cutoff := time.Now().Add(-StuckThreshold)
	data, err := c.rdb.HMGet(ctx, jobsKey(pattern), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load waiting jobs: %w", err)
	}
	for _, v := range data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		if job.EnqueuedAt.Before(cutoff) {
			health.Valid = false
			health.Stuck = append(health.Stuck, job.ID)
		}
	}
	return health, nil
}

func (c *Client) buildJob(pattern string, payload any, opts *JobOptions) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:         id,
		Pattern:    pattern,
		Payload:    raw,
		Options:    *opts,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobsKey(job.Pattern), job.ID, data)
	if job.Options.Delay > 0 {
		pipe.ZAdd(ctx, delayedKey(job.Pattern), redis.Z{
			Score:  float64(time.Now().Add(job.Options.Delay).UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.LPush(ctx, waitingKey(job.Pattern), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s on %s: %w", job.ID, job.Pattern, err)
	}
	return nil
}
