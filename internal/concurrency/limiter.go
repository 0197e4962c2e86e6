// Package concurrency provides named, bounded-concurrency scheduling for calls
// to external rate-limited APIs.
//
// Buckets are keyed by a normalized identifier (lowercased, truncated at the
// first '-') so that related call sites share one bucket: "x-orgA" and
// "x-orgB" both schedule on the "x" bucket. This is deliberate cross-tenant
// coordination, not per-tenant isolation: the external API's rate limit is
// per app, not per tenant.
//
// Each bucket admits at most maxConcurrent operations at a time and spaces
// successive admissions by at least MinInterval. Work that waits longer than
// ScheduleExpiration for a slot is abandoned rather than run stale.
//
// When a Redis client is supplied, admission spacing additionally consults a
// redis_rate per-identifier limit so that multiple processes sharing the store
// cooperate on one budget. Without Redis the registry degrades to
// process-local coordination.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/publora/publora/internal/telemetry"
)

const (
	// MinInterval is the minimum spacing between two dispatches on one bucket
	MinInterval = time.Second

	// ScheduleExpiration is how long scheduled work may wait for a slot before
	// it is abandoned
	ScheduleExpiration = 60 * time.Second
)

// ScheduleError reports a scheduling-layer failure (slot wait expired, context
// cancelled). It is distinct from a failure of the scheduled work itself,
// which the limiter swallows.
type ScheduleError struct {
	Identifier string
	Err        error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("concurrency: scheduling failed for %q: %v", e.Identifier, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// NormalizeIdentifier lowercases the identifier and truncates it at the first
// '-' so related identifiers share one bucket.
func NormalizeIdentifier(identifier string) string {
	identifier = strings.ToLower(identifier)
	if i := strings.Index(identifier, "-"); i >= 0 {
		identifier = identifier[:i]
	}
	return identifier
}

// Bucket serializes admission for one normalized identifier
type Bucket struct {
	slots chan struct{}

	mu sync.Mutex
	// nextDispatch is the earliest instant the next operation may start
	nextDispatch time.Time
}

// Registry holds one bucket per normalized identifier for the life of the
// process. Construct one at startup and pass it by dependency injection; the
// explicit object (rather than package-level state) keeps tests resettable.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*Bucket

	// shared is nil when no coordination store is configured
	shared *redis_rate.Limiter
}

// Option configures a Registry
type Option func(*Registry)

// WithRedis enables cross-process admission coordination through the given client
func WithRedis(client redis.UniversalClient) Option {
	return func(r *Registry) {
		r.shared = redis_rate.NewLimiter(client)
	}
}

// NewRegistry creates an empty limiter registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{buckets: make(map[string]*Bucket)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the bucket for the identifier, creating it with
// maxConcurrent slots on first use. The first caller's maxConcurrent wins;
// later calls with a different value reuse the existing bucket.
func (r *Registry) GetOrCreate(identifier string, maxConcurrent int) *Bucket {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	key := NormalizeIdentifier(identifier)

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &Bucket{slots: make(chan struct{}, maxConcurrent)}
		r.buckets[key] = b
	}
	return b
}

// Reset discards all buckets. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[string]*Bucket)
}

// Schedule runs fn under the identifier's bucket: at most maxConcurrent
// concurrent executions, admissions spaced by MinInterval, and a
// ScheduleExpiration bound on the wait for a slot.
//
// An error returned by fn is logged and swallowed; callers that need the
// result or error of their own work capture it in a closure. The returned
// error is non-nil only when the scheduling itself failed, wrapped in a
// *ScheduleError carrying the identifier.
//
// ignoreConcurrency bypasses the bucket entirely and runs fn immediately.
func (r *Registry) Schedule(ctx context.Context, identifier string, maxConcurrent int, ignoreConcurrency bool, fn func(context.Context) error) error {
	if ignoreConcurrency {
		if err := fn(ctx); err != nil {
			slog.Debug("unbounded task failed", "identifier", identifier, "error", err)
		}
		return nil
	}

	key := NormalizeIdentifier(identifier)
	b := r.GetOrCreate(identifier, maxConcurrent)

	waitStart := time.Now()
	expire := time.NewTimer(ScheduleExpiration)
	defer expire.Stop()

	select {
	case b.slots <- struct{}{}:
	case <-expire.C:
		return &ScheduleError{Identifier: key, Err: fmt.Errorf("no slot within %s", ScheduleExpiration)}
	case <-ctx.Done():
		return &ScheduleError{Identifier: key, Err: ctx.Err()}
	}
	defer func() { <-b.slots }()

	if err := b.waitForInterval(ctx); err != nil {
		return &ScheduleError{Identifier: key, Err: err}
	}
	if err := r.waitForShared(ctx, key); err != nil {
		return &ScheduleError{Identifier: key, Err: err}
	}

	telemetry.LimiterWaitSeconds.WithLabelValues(key).Observe(time.Since(waitStart).Seconds())

	if err := fn(ctx); err != nil {
		slog.Debug("scheduled task failed", "identifier", key, "error", err)
	}
	return nil
}

// waitForInterval reserves the next admission instant and sleeps until it.
// Reserving under the lock (rather than sleeping under it) keeps concurrent
// admissions spaced without serializing the sleeps themselves.
func (b *Bucket) waitForInterval(ctx context.Context) error {
	b.mu.Lock()
	now := time.Now()
	at := b.nextDispatch
	if at.Before(now) {
		at = now
	}
	b.nextDispatch = at.Add(MinInterval)
	b.mu.Unlock()

	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitForShared blocks until the cross-process budget for the identifier
// admits one more dispatch. No-op when no shared store is configured.
func (r *Registry) waitForShared(ctx context.Context, key string) error {
	if r.shared == nil {
		return nil
	}
	limit := redis_rate.PerSecond(1)
	for {
		res, err := r.shared.Allow(ctx, "concurrency:"+key, limit)
		if err != nil {
			// A broken coordination store must not halt publishing; fall back
			// to the process-local spacing already applied.
			slog.Warn("shared limiter unavailable, using local spacing only", "identifier", key, "error", err)
			return nil
		}
		if res.Allowed > 0 {
			return nil
		}
		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-timer.C:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
