package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x", "x"},
		{"X", "x"},
		{"x-orgA", "x"},
		{"X-OrgB", "x"},
		{"linkedin-page-123", "linkedin"},
		{"mastodon", "mastodon"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeIdentifier(tt.in); got != tt.want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSchedule_SharedBucketAcrossSuffixes(t *testing.T) {
	r := NewRegistry()

	a := r.GetOrCreate("x-orgA", 1)
	b := r.GetOrCreate("x-orgB", 1)
	if a != b {
		t.Error("x-orgA and x-orgB should share one bucket")
	}

	c := r.GetOrCreate("linkedin-x", 1)
	if c == a {
		t.Error("linkedin-x should use a separate bucket from x")
	}
}

func TestSchedule_ConcurrencyBound(t *testing.T) {
	r := NewRegistry()
	const maxConcurrent = 2
	const tasks = 6

	var running, peak int64
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Schedule(context.Background(), "bound-test", maxConcurrent, false, func(context.Context) error {
				n := atomic.AddInt64(&running, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt64(&running, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Schedule returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", got, maxConcurrent)
	}
}

func TestSchedule_MinIntervalSpacing(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Schedule(context.Background(), "spacing", 5, false, func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if len(starts) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(starts))
	}
	for i := 0; i+1 < len(starts); i++ {
		for j := i + 1; j < len(starts); j++ {
			gap := starts[j].Sub(starts[i])
			if gap < 0 {
				gap = -gap
			}
			// Allow a small scheduling delta below the nominal 1s interval.
			if gap < MinInterval-50*time.Millisecond {
				t.Errorf("dispatch gap %v below minimum interval %v", gap, MinInterval)
			}
		}
	}
}

func TestSchedule_SwallowsTaskError(t *testing.T) {
	r := NewRegistry()

	taskErr := errors.New("task blew up")
	err := r.Schedule(context.Background(), "swallow", 1, false, func(context.Context) error {
		return taskErr
	})
	if err != nil {
		t.Errorf("Schedule returned %v, want nil (task errors are swallowed)", err)
	}
}

func TestSchedule_IgnoreConcurrencyBypassesBucket(t *testing.T) {
	r := NewRegistry()

	// Occupy the single slot for a while.
	release := make(chan struct{})
	go func() {
		_ = r.Schedule(context.Background(), "bypass", 1, false, func(context.Context) error {
			<-release
			return nil
		})
	}()
	// Give the occupier time to take the slot.
	time.Sleep(20 * time.Millisecond)
	defer close(release)

	done := make(chan struct{})
	go func() {
		_ = r.Schedule(context.Background(), "bypass", 1, true, func(context.Context) error {
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Error("ignoreConcurrency call blocked behind an occupied bucket")
	}
}

func TestSchedule_ContextCancelledWhileWaiting(t *testing.T) {
	r := NewRegistry()

	release := make(chan struct{})
	go func() {
		_ = r.Schedule(context.Background(), "cancel", 1, false, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Schedule(ctx, "cancel", 1, false, func(context.Context) error {
		t.Error("cancelled task should not run")
		return nil
	})

	var schedErr *ScheduleError
	if !errors.As(err, &schedErr) {
		t.Fatalf("expected *ScheduleError, got %v", err)
	}
	if schedErr.Identifier != "cancel" {
		t.Errorf("ScheduleError.Identifier = %q, want %q", schedErr.Identifier, "cancel")
	}
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("reset-me", 1)
	r.Reset()
	b := r.GetOrCreate("reset-me", 1)
	if a == b {
		t.Error("Reset should discard existing buckets")
	}
}
