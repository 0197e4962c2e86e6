package autopost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/queue"
)

// ContentGenerator is the AI collaborator the workflow calls for description
// and picture generation
type ContentGenerator interface {
	// GenerateDescription rewrites a feed item into post copy. Returning an
	// empty string means nothing worth posting was produced.
	GenerateDescription(ctx context.Context, item *FeedItem) (string, error)
	// GeneratePicture produces an image for the copy and returns its URL
	GeneratePicture(ctx context.Context, description string) (string, error)
}

// Enqueuer is the queue surface the workflow needs; satisfied by *queue.Client
type Enqueuer interface {
	Emit(ctx context.Context, pattern string, payload any, opts *queue.JobOptions) (string, error)
	DispatchEvent(ctx context.Context, pattern string, payload any, opts *queue.JobOptions) error
	DeleteScheduler(ctx context.Context, pattern, schedulerID string) error
}

// Workflow runs the autopost pipeline:
//
//	fetch → generate-description → (conditional) generate-picture →
//	schedule-post → update-watermark
//
// Picture generation runs only when the rule requests it. An empty generated
// description skips scheduling entirely so no empty posts are created. The
// watermark advances only after every publish job is enqueued; a crash before
// that point re-detects the same item on the next tick, trading duplicate
// attempts for at-least-once delivery.
type Workflow struct {
	autoposts *repositories.AutoPostRepository
	posts     *repositories.PostRepository
	queue     Enqueuer
	feeds     *FeedFetcher
	generator ContentGenerator
}

// NewWorkflow wires the autopost pipeline
func NewWorkflow(autoposts *repositories.AutoPostRepository, posts *repositories.PostRepository, q Enqueuer, feeds *FeedFetcher, generator ContentGenerator) *Workflow {
	return &Workflow{
		autoposts: autoposts,
		posts:     posts,
		queue:     q,
		feeds:     feeds,
		generator: generator,
	}
}

// Register upserts the rule's recurring scheduler. Calling it again after an
// interval change replaces the schedule in place.
func (w *Workflow) Register(ctx context.Context, ap *models.AutoPost) error {
	return w.queue.DispatchEvent(ctx, jobs.QueueAutopost, jobs.AutopostPayload{AutoPostID: ap.ID}, &queue.JobOptions{
		ID:          jobs.SchedulerID(ap.ID),
		Every:       ap.Every,
		Immediately: true,
	})
}

// Deactivate cancels the rule's scheduler and marks it inactive
func (w *Workflow) Deactivate(ctx context.Context, autopostID string) error {
	if err := w.queue.DeleteScheduler(ctx, jobs.QueueAutopost, jobs.SchedulerID(autopostID)); err != nil {
		return fmt.Errorf("delete scheduler for autopost %s: %w", autopostID, err)
	}
	return w.autoposts.SetActive(ctx, autopostID, false)
}

// Run executes one tick of the rule. It is the QueueAutopost job handler.
func (w *Workflow) Run(ctx context.Context, autopostID string) error {
	ap, err := w.autoposts.GetByID(ctx, autopostID)
	if err != nil {
		return fmt.Errorf("load autopost %s: %w", autopostID, err)
	}
	if ap == nil || !ap.Active {
		// rule deleted or paused after the scheduler fired
		return nil
	}

	item, err := w.feeds.Latest(ctx, ap.URL)
	if err != nil {
		return fmt.Errorf("fetch source for autopost %s: %w", ap.ID, err)
	}
	if item.URL == ap.LastURL {
		slog.Debug("autopost has no new item", "autopost_id", ap.ID, "watermark", ap.LastURL)
		return nil
	}

	content, err := w.describe(ctx, ap, item)
	if err != nil {
		return err
	}
	if content == "" {
		slog.Info("autopost produced no content, skipping item",
			"autopost_id", ap.ID, "item_url", item.URL)
		return nil
	}

	var mediaURLs []string
	if ap.AddPicture && w.generator != nil {
		picture, err := w.generator.GeneratePicture(ctx, content)
		if err != nil {
			return fmt.Errorf("generate picture for autopost %s: %w", ap.ID, err)
		}
		if picture != "" {
			mediaURLs = []string{picture}
		}
	}

	if err := w.schedule(ctx, ap, content, mediaURLs); err != nil {
		return err
	}

	// watermark moves only after every publish job is enqueued
	if err := w.autoposts.UpdateLastURL(ctx, ap.ID, item.URL); err != nil {
		return fmt.Errorf("advance watermark for autopost %s: %w", ap.ID, err)
	}
	slog.Info("autopost scheduled new item",
		"autopost_id", ap.ID, "item_url", item.URL, "integrations", len(ap.Integrations))
	return nil
}

func (w *Workflow) describe(ctx context.Context, ap *models.AutoPost, item *FeedItem) (string, error) {
	if !ap.GenerateContent {
		if item.Title == "" {
			return item.URL, nil
		}
		return item.Title + "\n\n" + item.URL, nil
	}
	if w.generator == nil {
		slog.Warn("autopost requests generated content but no generator is configured", "autopost_id", ap.ID)
		return item.Title + "\n\n" + item.URL, nil
	}
	content, err := w.generator.GenerateDescription(ctx, item)
	if err != nil {
		return "", fmt.Errorf("generate description for autopost %s: %w", ap.ID, err)
	}
	return content, nil
}

// schedule creates one queued post per target integration, all sharing a
// group id, and enqueues their publish jobs
func (w *Workflow) schedule(ctx context.Context, ap *models.AutoPost, content string, mediaURLs []string) error {
	if len(ap.Integrations) == 0 {
		return errors.New("autopost has no target integrations")
	}

	groupID := uuid.NewString()
	for _, integrationID := range ap.Integrations {
		post := &models.Post{
			OrganizationID: ap.OrganizationID,
			IntegrationID:  integrationID,
			GroupID:        groupID,
			Content:        content,
			MediaURLs:      mediaURLs,
			State:          models.PostStateQueued,
			PublishDate:    time.Now().UTC(),
		}
		if err := w.posts.Create(ctx, post); err != nil {
			return fmt.Errorf("create post for integration %s: %w", integrationID, err)
		}
		if _, err := w.queue.Emit(ctx, jobs.QueuePosts, jobs.PublishPayload{PostID: post.ID}, nil); err != nil {
			return fmt.Errorf("enqueue publish job for post %s: %w", post.ID, err)
		}
	}
	return nil
}
