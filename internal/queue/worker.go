package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/publora/publora/internal/safego"
	"github.com/publora/publora/internal/telemetry"
)

// Handler processes one job. The returned value is marshaled into the job's
// completion event for PublishAsync callers.
type Handler func(ctx context.Context, job *Job) (any, error)

// Worker consumes registered queues from Redis. One Worker runs a pool of
// consumer goroutines plus a promoter goroutine that moves due delayed jobs
// into the waiting list and fires due recurring schedulers.
type Worker struct {
	rdb         *redis.Client
	concurrency int

	// promoteInterval is how often delayed jobs and schedulers are checked
	promoteInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a worker pool of the given size
func NewWorker(rdb *redis.Client, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		rdb:             rdb,
		concurrency:     concurrency,
		promoteInterval: time.Second,
		handlers:        make(map[string]Handler),
	}
}

// Handle registers the handler for one queue pattern. Must be called before
// Run.
func (w *Worker) Handle(pattern string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[pattern]; exists {
		panic(fmt.Sprintf("queue: handler for %q registered twice", pattern))
	}
	w.handlers[pattern] = h
}

// Run blocks consuming jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	if len(w.handlers) == 0 {
		w.mu.RUnlock()
		return errors.New("queue: no handlers registered")
	}
	keys := make([]string, 0, len(w.handlers))
	for pattern := range w.handlers {
		keys = append(keys, waitingKey(pattern))
	}
	w.mu.RUnlock()

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		safego.Go(func() {
			defer wg.Done()
			w.consume(ctx, keys)
		})
	}
	wg.Add(1)
	safego.Go(func() {
		defer wg.Done()
		w.promote(ctx)
	})

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) consume(ctx context.Context, keys []string) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := w.rdb.BRPop(ctx, time.Second, keys...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Error("queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, member]
		pattern := strings.TrimSuffix(strings.TrimPrefix(res[0], "queue:"), ":waiting")
		w.process(ctx, pattern, res[1])
	}
}

func (w *Worker) process(ctx context.Context, pattern, jobID string) {
	data, err := w.rdb.HGet(ctx, jobsKey(pattern), jobID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("load job failed", "queue", pattern, "job_id", jobID, "error", err)
		}
		// deleted between pop and load; nothing to run
		return
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		slog.Error("corrupt job body", "queue", pattern, "job_id", jobID, "error", err)
		w.rdb.HDel(ctx, jobsKey(pattern), jobID)
		return
	}

	w.mu.RLock()
	handler := w.handlers[pattern]
	w.mu.RUnlock()
	if handler == nil {
		slog.Warn("no handler for queue", "queue", pattern, "job_id", jobID)
		return
	}

	result, runErr := w.runHandler(ctx, handler, &job)
	if runErr != nil {
		w.fail(ctx, &job, runErr)
		return
	}
	w.complete(ctx, &job, result)
}

// runHandler isolates handler panics so one bad job cannot take down the
// consumer goroutine
func (w *Worker) runHandler(ctx context.Context, handler Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) complete(ctx context.Context, job *Job, result any) {
	telemetry.QueueJobsProcessedTotal.WithLabelValues(job.Pattern, "completed").Inc()

	ev := jobEvent{JobID: job.ID, OK: true}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			ev.Result = raw
		}
	}
	w.publishEvent(ctx, job, ev)

	// jobs without an explicit attempts option are removed on completion
	if job.Options.Attempts == 0 {
		w.rdb.HDel(ctx, jobsKey(job.Pattern), job.ID)
	}
	slog.Debug("job completed", "queue", job.Pattern, "job_id", job.ID)
}

func (w *Worker) fail(ctx context.Context, job *Job, runErr error) {
	if job.Attempt+1 < job.Options.Attempts {
		job.Attempt++
		telemetry.QueueJobsProcessedTotal.WithLabelValues(job.Pattern, "retried").Inc()
		slog.Warn("job failed, retrying",
			"queue", job.Pattern, "job_id", job.ID, "attempt", job.Attempt, "error", runErr)
		if data, err := json.Marshal(job); err == nil {
			pipe := w.rdb.TxPipeline()
			pipe.HSet(ctx, jobsKey(job.Pattern), job.ID, data)
			pipe.LPush(ctx, waitingKey(job.Pattern), job.ID)
			if _, err := pipe.Exec(ctx); err != nil {
				slog.Error("requeue failed", "queue", job.Pattern, "job_id", job.ID, "error", err)
			}
		}
		return
	}

	telemetry.QueueJobsProcessedTotal.WithLabelValues(job.Pattern, "failed").Inc()
	slog.Error("job failed", "queue", job.Pattern, "job_id", job.ID, "error", runErr)
	w.publishEvent(ctx, job, jobEvent{JobID: job.ID, OK: false, Error: runErr.Error()})
	if job.Options.Attempts == 0 {
		w.rdb.HDel(ctx, jobsKey(job.Pattern), job.ID)
	}
}

func (w *Worker) publishEvent(ctx context.Context, job *Job, ev jobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := w.rdb.Publish(ctx, eventsChannel(job.Pattern, job.ID), data).Err(); err != nil {
		slog.Error("publish completion event failed", "job_id", job.ID, "error", err)
	}
}

// promote moves due delayed jobs into waiting and fires due schedulers
func (w *Worker) promote(ctx context.Context) {
	ticker := time.NewTicker(w.promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.RLock()
			patterns := make([]string, 0, len(w.handlers))
			for p := range w.handlers {
				patterns = append(patterns, p)
			}
			w.mu.RUnlock()
			for _, pattern := range patterns {
				w.promoteDelayed(ctx, pattern)
				w.fireSchedulers(ctx, pattern)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) promoteDelayed(ctx context.Context, pattern string) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := w.rdb.ZRangeByScore(ctx, delayedKey(pattern), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		// ZRem first so two promoters cannot both push the same job
		removed, err := w.rdb.ZRem(ctx, delayedKey(pattern), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := w.rdb.LPush(ctx, waitingKey(pattern), id).Err(); err != nil {
			slog.Error("promote delayed job failed", "queue", pattern, "job_id", id, "error", err)
		}
	}
}

func (w *Worker) fireSchedulers(ctx context.Context, pattern string) {
	now := time.Now()
	ids, err := w.rdb.ZRangeByScore(ctx, schedulerDueKey(pattern), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		data, err := w.rdb.HGet(ctx, schedulersKey(pattern), id).Result()
		if err != nil {
			// scheduler deleted; drop the orphaned due entry
			w.rdb.ZRem(ctx, schedulerDueKey(pattern), id)
			continue
		}
		var sched scheduler
		if err := json.Unmarshal([]byte(data), &sched); err != nil {
			slog.Error("corrupt scheduler", "queue", pattern, "scheduler_id", id, "error", err)
			w.rdb.ZRem(ctx, schedulerDueKey(pattern), id)
			continue
		}

		// reschedule before running so a crash mid-fire skips at most one
		// occurrence instead of stopping the schedule
		next := now.Add(sched.Every)
		if err := w.rdb.ZAdd(ctx, schedulerDueKey(pattern), redis.Z{
			Score:  float64(next.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			slog.Error("reschedule failed", "scheduler_id", id, "error", err)
			continue
		}

		job := &Job{
			ID:         id + ":" + uuid.NewString(),
			Pattern:    sched.Pattern,
			Payload:    sched.Payload,
			Options:    JobOptions{Attempts: sched.Attempts},
			EnqueuedAt: now.UTC(),
		}
		jobData, err := json.Marshal(job)
		if err != nil {
			continue
		}
		pipe := w.rdb.TxPipeline()
		pipe.HSet(ctx, jobsKey(pattern), job.ID, jobData)
		pipe.LPush(ctx, waitingKey(pattern), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("fire scheduler failed", "scheduler_id", id, "error", err)
			continue
		}
		telemetry.QueueJobsEnqueuedTotal.WithLabelValues(pattern).Inc()
		slog.Debug("scheduler fired", "queue", pattern, "scheduler_id", id, "job_id", job.ID)
	}
}
