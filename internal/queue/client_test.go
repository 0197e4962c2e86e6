package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type testPayload struct {
	Value string `json:"value"`
}

func TestEmitAndProcess(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	got := make(chan string, 1)
	w := NewWorker(rdb, 2)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("posts", func(ctx context.Context, job *Job) (any, error) {
		var p testPayload
		if err := job.Bind(&p); err != nil {
			return nil, err
		}
		got <- p.Value
		return nil, nil
	})
	startWorker(t, w)

	id, err := c.Emit(context.Background(), "posts", testPayload{Value: "hello"}, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if id == "" {
		t.Fatal("Emit returned empty job id")
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("payload = %q, want %q", v, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was never processed")
	}
}

func TestEmit_ExplicitIDWins(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	id, err := c.Emit(context.Background(), "posts", testPayload{}, &JobOptions{ID: "job-1"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if id != "job-1" {
		t.Errorf("id = %q, want job-1", id)
	}
}

func TestPublishAsync_ReturnsResult(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	w := NewWorker(rdb, 1)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("posts", func(ctx context.Context, job *Job) (any, error) {
		return map[string]string{"release_url": "https://x.com/i/status/1"}, nil
	})
	startWorker(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := c.PublishAsync(ctx, "posts", testPayload{Value: "v"}, nil)
	if err != nil {
		t.Fatalf("PublishAsync: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out["release_url"] != "https://x.com/i/status/1" {
		t.Errorf("result = %v", out)
	}
}

func TestPublishAsync_PropagatesJobError(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	w := NewWorker(rdb, 1)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("posts", func(ctx context.Context, job *Job) (any, error) {
		return nil, context.DeadlineExceeded
	})
	startWorker(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.PublishAsync(ctx, "posts", testPayload{}, nil); err == nil {
		t.Fatal("expected job failure to propagate")
	}
}

func TestDispatchEvent_SchedulerUpsert(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)
	ctx := context.Background()

	err := c.DispatchEvent(ctx, "autopost", testPayload{Value: "a"}, &JobOptions{
		ID: "org-1", Every: time.Hour,
	})
	if err != nil {
		t.Fatalf("DispatchEvent: %v", err)
	}
	// re-registering the same id replaces the schedule
	err = c.DispatchEvent(ctx, "autopost", testPayload{Value: "b"}, &JobOptions{
		ID: "org-1", Every: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("DispatchEvent upsert: %v", err)
	}

	n, err := rdb.HLen(ctx, schedulersKey("autopost")).Result()
	if err != nil {
		t.Fatalf("HLen: %v", err)
	}
	if n != 1 {
		t.Fatalf("schedulers = %d, want 1", n)
	}
	due, err := rdb.ZCard(ctx, schedulerDueKey("autopost")).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if due != 1 {
		t.Fatalf("due entries = %d, want 1", due)
	}

	data, _ := rdb.HGet(ctx, schedulersKey("autopost"), "org-1").Result()
	var sched scheduler
	if err := json.Unmarshal([]byte(data), &sched); err != nil {
		t.Fatalf("decode scheduler: %v", err)
	}
	if sched.Every != 2*time.Hour {
		t.Errorf("Every = %v, want 2h (latest registration wins)", sched.Every)
	}
}

func TestDispatchEvent_SchedulerFires(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	fired := make(chan struct{}, 4)
	w := NewWorker(rdb, 1)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("autopost", func(ctx context.Context, job *Job) (any, error) {
		fired <- struct{}{}
		return nil, nil
	})
	startWorker(t, w)

	err := c.DispatchEvent(context.Background(), "autopost", testPayload{}, &JobOptions{
		ID: "org-1", Every: time.Hour, Immediately: true,
	})
	if err != nil {
		t.Fatalf("DispatchEvent: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("immediate scheduler occurrence never fired")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)
	ctx := context.Background()

	if err := c.Delete(ctx, "posts", "never-existed"); err != nil {
		t.Errorf("Delete unknown job: %v", err)
	}
	if err := c.DeleteScheduler(ctx, "autopost", "never-existed"); err != nil {
		t.Errorf("DeleteScheduler unknown id: %v", err)
	}

	id, err := c.Emit(ctx, "posts", testPayload{}, &JobOptions{ID: "j1"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := c.Delete(ctx, "posts", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := rdb.LLen(ctx, waitingKey("posts")).Result(); n != 0 {
		t.Errorf("waiting = %d after delete, want 0", n)
	}
	// second delete of the same job is still fine
	if err := c.Delete(ctx, "posts", id); err != nil {
		t.Errorf("repeat Delete: %v", err)
	}
}

func TestCheckForStuckWaitingJobs(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)
	ctx := context.Background()

	// no worker running: a fresh waiting job is fine
	if _, err := c.Emit(ctx, "posts", testPayload{}, &JobOptions{ID: "fresh"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	health, err := c.CheckForStuckWaitingJobs(ctx, "posts")
	if err != nil {
		t.Fatalf("CheckForStuckWaitingJobs: %v", err)
	}
	if !health.Valid {
		t.Fatalf("fresh job flagged stuck: %+v", health)
	}

	// a job enqueued beyond the threshold flags the queue
	old := Job{
		ID:         "stale",
		Pattern:    "posts",
		Payload:    json.RawMessage(`{}`),
		EnqueuedAt: time.Now().Add(-StuckThreshold - time.Minute).UTC(),
	}
	data, _ := json.Marshal(old)
	if err := rdb.HSet(ctx, jobsKey("posts"), old.ID, data).Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := rdb.LPush(ctx, waitingKey("posts"), old.ID).Err(); err != nil {
		t.Fatalf("LPush: %v", err)
	}

	health, err = c.CheckForStuckWaitingJobs(ctx, "posts")
	if err != nil {
		t.Fatalf("CheckForStuckWaitingJobs: %v", err)
	}
	if health.Valid {
		t.Fatal("stale job not flagged")
	}
	if len(health.Stuck) != 1 || health.Stuck[0] != "stale" {
		t.Errorf("Stuck = %v, want [stale]", health.Stuck)
	}
}

func TestDelayedJobPromoted(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	got := make(chan struct{}, 1)
	w := NewWorker(rdb, 1)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("posts", func(ctx context.Context, job *Job) (any, error) {
		got <- struct{}{}
		return nil, nil
	})
	startWorker(t, w)

	_, err := c.Emit(context.Background(), "posts", testPayload{}, &JobOptions{Delay: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("delayed job never promoted")
	}
}

func TestWorker_RetriesUpToAttempts(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewClient(rdb)

	var calls int32
	done := make(chan struct{}, 1)
	w := NewWorker(rdb, 1)
	w.promoteInterval = 10 * time.Millisecond
	w.Handle("posts", func(ctx context.Context, job *Job) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, context.DeadlineExceeded
		}
		done <- struct{}{}
		return nil, nil
	})
	startWorker(t, w)

	_, err := c.Emit(context.Background(), "posts", testPayload{}, &JobOptions{Attempts: 3})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded after retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestConnectCloseAreNoOps(t *testing.T) {
	c := NewClient(newTestRedis(t))
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
