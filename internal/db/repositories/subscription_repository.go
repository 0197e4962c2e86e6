// subscription_repository.go implements SubscriptionRepository. The latest
// non-deleted subscription is the one the permissions engine reads; billing
// webhook events upsert it.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/publora/publora/internal/db/models"
)

// SubscriptionRepository handles database operations for subscriptions
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetLatest retrieves the organization's current (latest, non-deleted)
// subscription, or nil when the organization has never subscribed
func (r *SubscriptionRepository) GetLatest(ctx context.Context, orgID string) (*models.Subscription, error) {
	query := `
		SELECT id, organization_id, tier, period, total_channels, is_lifetime,
		       provider_ref, cancel_at, created_at, updated_at, deleted_at
		FROM subscriptions
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	sub := &models.Subscription{}
	err := r.db.QueryRowContext(ctx, query, orgID).Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.Tier,
		&sub.Period,
		&sub.TotalChannels,
		&sub.IsLifetime,
		&sub.ProviderRef,
		&sub.CancelAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.DeletedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Never subscribed
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// Upsert replaces the organization's live subscription: the previous one (if
// any) is soft-deleted and the new record inserted. Billing events and
// lifetime-code redemption both go through here.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	softDelete := `
		UPDATE subscriptions
		SET deleted_at = now(), updated_at = now()
		WHERE organization_id = $1 AND deleted_at IS NULL
	`
	if _, err := tx.ExecContext(ctx, softDelete, sub.OrganizationID); err != nil {
		return fmt.Errorf("failed to retire previous subscription: %w", err)
	}

	insert := `
		INSERT INTO subscriptions (organization_id, tier, period, total_channels,
		                           is_lifetime, provider_ref, cancel_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, insert,
		sub.OrganizationID, string(sub.Tier), string(sub.Period), sub.TotalChannels,
		sub.IsLifetime, sub.ProviderRef, sub.CancelAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription upsert: %w", err)
	}
	return nil
}

// Cancel sets the cancellation timestamp on the organization's live
// subscription without deleting it; the plan stays active until cancel_at
func (r *SubscriptionRepository) Cancel(ctx context.Context, orgID string, at time.Time) error {
	query := `
		UPDATE subscriptions
		SET cancel_at = $2, updated_at = now()
		WHERE organization_id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, orgID, at); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// Delete soft-deletes the organization's live subscription (provider reported
// the subscription fully ended); the organization falls back to FREE
func (r *SubscriptionRepository) Delete(ctx context.Context, orgID string) error {
	query := `
		UPDATE subscriptions
		SET deleted_at = now(), updated_at = now()
		WHERE organization_id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, orgID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
