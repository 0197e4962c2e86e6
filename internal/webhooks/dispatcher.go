// Package webhooks delivers outbound event notifications to the HTTP
// endpoints an organization configured. Delivery is asynchronous so a slow
// or dead endpoint never blocks the publishing pipeline, and each endpoint
// can be scoped to a subset of the organization's integrations.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/safego"
	"github.com/publora/publora/internal/telemetry"
)

// Event kinds delivered to webhook endpoints.
const (
	EventPostPublished = "post.published"
	EventPostFailed    = "post.failed"
)

// Event is the JSON body posted to each matching endpoint
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	Event          string    `json:"event"`
	OrganizationID string    `json:"organization_id"`
	PostID         string    `json:"post_id"`
	IntegrationID  string    `json:"integration_id"`
	Provider       string    `json:"provider"`
	ReleaseURL     string    `json:"release_url,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type delivery struct {
	url   string
	event *Event
}

// Dispatcher fans events out to an org's configured webhook endpoints through
// a bounded in-process queue drained by a single delivery goroutine.
type Dispatcher struct {
	repo    *repositories.WebhookRepository
	client  *http.Client
	timeout time.Duration

	queue     chan delivery
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery worker
func NewDispatcher(repo *repositories.WebhookRepository, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		repo:    repo,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		queue:   make(chan delivery, 1000),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	safego.Go(d.run)
	return d
}

// Dispatch queues the event for every endpoint of the organization whose
// integration filter matches. When the queue is full the event is dropped
// with a warning: webhooks are best-effort notifications, not the system of
// record.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	hooks, err := d.repo.ListByOrg(ctx, ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("list webhooks for org %s: %w", ev.OrganizationID, err)
	}

	for _, hook := range hooks {
		if !matches(hook, ev.IntegrationID) {
			continue
		}
		select {
		case d.queue <- delivery{url: hook.URL, event: ev}:
		default:
			slog.Warn("webhook queue full, dropping event",
				"org_id", ev.OrganizationID, "url", hook.URL, "event", ev.Event)
			telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		}
	}
	return nil
}

// matches reports whether the endpoint wants events for this integration. An
// empty filter means every integration.
func matches(hook *models.Webhook, integrationID string) bool {
	if len(hook.Integrations) == 0 {
		return true
	}
	for _, id := range hook.Integrations {
		if id == integrationID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case del := <-d.queue:
			d.deliver(del)
		case <-d.closeCh:
			// drain whatever is already queued
			for {
				select {
				case del := <-d.queue:
					d.deliver(del)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(del delivery) {
	data, err := json.Marshal(del.event)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.url, bytes.NewReader(data))
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "publora-webhooks/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "url", del.url, "error", err)
		telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook endpoint rejected event", "url", del.url, "status", resp.StatusCode)
		telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	telemetry.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

// Close stops the worker after draining queued deliveries
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.closeCh)
	})
	<-d.done
	return nil
}
