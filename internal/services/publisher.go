// Package services holds the domain services between the HTTP handlers, the
// queue, and the provider adapters. Publisher is the worker-side service that
// turns a queued post into a live one.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/publora/publora/internal/crypto"
	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/social"
	"github.com/publora/publora/internal/webhooks"
)

// Publisher executes publish jobs: it loads the queued post, unseals the
// integration's credential, pushes the content through the provider adapter,
// and records the outcome.
type Publisher struct {
	posts        *repositories.PostRepository
	integrations *repositories.IntegrationRepository
	registry     *social.Registry
	cipher       *crypto.TokenCipher
	dispatcher   *webhooks.Dispatcher
}

// NewPublisher wires the publishing pipeline
func NewPublisher(posts *repositories.PostRepository, integrations *repositories.IntegrationRepository, registry *social.Registry, cipher *crypto.TokenCipher, dispatcher *webhooks.Dispatcher) *Publisher {
	return &Publisher{
		posts:        posts,
		integrations: integrations,
		registry:     registry,
		cipher:       cipher,
		dispatcher:   dispatcher,
	}
}

// HandleJob is the queue handler for jobs.QueuePosts. The returned value is
// delivered to PublishAsync callers.
func (p *Publisher) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	var payload jobs.PublishPayload
	if err := job.Bind(&payload); err != nil {
		return nil, fmt.Errorf("decode publish payload: %w", err)
	}
	return p.Publish(ctx, payload.PostID)
}

// PublishOutcome is the job result reported back to async producers
type PublishOutcome struct {
	PostID     string `json:"post_id"`
	ReleaseURL string `json:"release_url"`
}

// Publish pushes one queued post to its provider
func (p *Publisher) Publish(ctx context.Context, postID string) (*PublishOutcome, error) {
	post, err := p.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("load post %s: %w", postID, err)
	}
	if post == nil || post.State != models.PostStateQueued {
		// deleted or already handled by another worker
		return nil, nil
	}

	integration, err := p.integrations.GetByID(ctx, post.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("load integration %s: %w", post.IntegrationID, err)
	}
	if integration == nil || integration.Disabled || integration.RefreshNeeded {
		return nil, p.failPost(ctx, post, integration, "integration is unavailable")
	}

	provider := p.registry.Get(integration.Provider)
	if provider == nil {
		return nil, p.failPost(ctx, post, integration, fmt.Sprintf("unknown provider %q", integration.Provider))
	}

	accessToken, err := p.accessToken(ctx, integration, provider)
	if err != nil {
		return nil, p.failPost(ctx, post, integration, err.Error())
	}

	result, err := provider.Publish(ctx, &social.PublishRequest{
		IntegrationID: integration.ID,
		AccessToken:   accessToken,
		Content:       post.Content,
		MediaURLs:     post.MediaURLs,
	})

	var refreshErr *social.RefreshTokenError
	if errors.As(err, &refreshErr) {
		// the stored credential was rejected mid-flight; refresh once and
		// replay, never retry with the same credential
		accessToken, rerr := p.refresh(ctx, integration, provider)
		if rerr != nil {
			if merr := p.integrations.MarkRefreshNeeded(ctx, integration.ID); merr != nil {
				slog.Error("failed to mark integration for reconnect", "integration_id", integration.ID, "error", merr)
			}
			return nil, p.failPost(ctx, post, integration, "credential expired and refresh failed: "+rerr.Error())
		}
		result, err = provider.Publish(ctx, &social.PublishRequest{
			IntegrationID: integration.ID,
			AccessToken:   accessToken,
			Content:       post.Content,
			MediaURLs:     post.MediaURLs,
		})
	}
	if err != nil {
		return nil, p.failPost(ctx, post, integration, err.Error())
	}

	if err := p.posts.MarkPublished(ctx, post.ID, result.ReleaseURL); err != nil {
		return nil, fmt.Errorf("mark post %s published: %w", post.ID, err)
	}
	p.notify(ctx, post, integration, webhooks.EventPostPublished, result.ReleaseURL, "")
	slog.Info("post published",
		"post_id", post.ID, "provider", integration.Provider, "release_url", result.ReleaseURL)
	return &PublishOutcome{PostID: post.ID, ReleaseURL: result.ReleaseURL}, nil
}

// accessToken unseals the stored credential, proactively refreshing it when
// its recorded expiry has passed
func (p *Publisher) accessToken(ctx context.Context, integration *models.Integration, provider social.Provider) (string, error) {
	if integration.TokenExpiresAt != nil && time.Now().After(*integration.TokenExpiresAt) {
		token, err := p.refresh(ctx, integration, provider)
		if err != nil {
			if merr := p.integrations.MarkRefreshNeeded(ctx, integration.ID); merr != nil {
				slog.Error("failed to mark integration for reconnect", "integration_id", integration.ID, "error", merr)
			}
			return "", fmt.Errorf("credential expired and refresh failed: %w", err)
		}
		return token, nil
	}
	return p.cipher.Open(integration.AccessToken)
}

// refresh exchanges the refresh token, stores the new sealed credentials, and
// returns the fresh access token
func (p *Publisher) refresh(ctx context.Context, integration *models.Integration, provider social.Provider) (string, error) {
	refreshToken, err := p.cipher.Open(integration.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("unseal refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", errors.New("no refresh token stored")
	}

	token, err := provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	sealedAccess, err := p.cipher.Seal(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("seal access token: %w", err)
	}
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		// providers that rotate refresh tokens return a new one; others keep
		// the old one valid
		newRefresh = refreshToken
	}
	sealedRefresh, err := p.cipher.Seal(newRefresh)
	if err != nil {
		return "", fmt.Errorf("seal refresh token: %w", err)
	}

	var expiresAt sql.NullTime
	if !token.Expiry.IsZero() {
		expiresAt = sql.NullTime{Time: token.Expiry, Valid: true}
	}
	if err := p.integrations.UpdateTokens(ctx, integration.ID, sealedAccess, sealedRefresh, expiresAt); err != nil {
		return "", fmt.Errorf("store refreshed tokens: %w", err)
	}
	return token.AccessToken, nil
}

// failPost records the failure on the post and notifies webhooks. The
// returned error is nil: a domain failure is terminal for the post, not a
// reason to retry the job.
func (p *Publisher) failPost(ctx context.Context, post *models.Post, integration *models.Integration, message string) error {
	if err := p.posts.MarkError(ctx, post.ID, message); err != nil {
		return fmt.Errorf("mark post %s errored: %w", post.ID, err)
	}
	providerName := ""
	if integration != nil {
		providerName = integration.Provider
	}
	p.notify(ctx, post, integration, webhooks.EventPostFailed, "", message)
	slog.Warn("post failed", "post_id", post.ID, "provider", providerName, "error", message)
	return nil
}

func (p *Publisher) notify(ctx context.Context, post *models.Post, integration *models.Integration, event, releaseURL, errMsg string) {
	if p.dispatcher == nil {
		return
	}
	ev := &webhooks.Event{
		Timestamp:      time.Now().UTC(),
		Event:          event,
		OrganizationID: post.OrganizationID,
		PostID:         post.ID,
		IntegrationID:  post.IntegrationID,
		ReleaseURL:     releaseURL,
		Error:          errMsg,
	}
	if integration != nil {
		ev.Provider = integration.Provider
	}
	if err := p.dispatcher.Dispatch(ctx, ev); err != nil {
		slog.Warn("webhook dispatch failed", "post_id", post.ID, "error", err)
	}
}
