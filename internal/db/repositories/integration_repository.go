// integration_repository.go implements IntegrationRepository. CountActive is
// the permissions engine's live channel count: integrations flagged
// refresh_needed or soft-deleted do not occupy a channel slot.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/publora/publora/internal/db/models"
)

// IntegrationRepository handles database operations for integrations
type IntegrationRepository struct {
	db *sql.DB
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = `id, organization_id, provider, internal_id, name, picture,
	access_token, refresh_token, token_expires_at, disabled, refresh_needed,
	created_at, updated_at, deleted_at`

func scanIntegration(row interface{ Scan(...any) error }) (*models.Integration, error) {
	in := &models.Integration{}
	err := row.Scan(
		&in.ID,
		&in.OrganizationID,
		&in.Provider,
		&in.InternalID,
		&in.Name,
		&in.Picture,
		&in.AccessToken,
		&in.RefreshToken,
		&in.TokenExpiresAt,
		&in.Disabled,
		&in.RefreshNeeded,
		&in.CreatedAt,
		&in.UpdatedAt,
		&in.DeletedAt,
	)
	return in, err
}

// GetByID retrieves an integration by ID
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1 AND deleted_at IS NULL`

	in, err := scanIntegration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return in, nil
}

// CountActive returns the number of channel slots the organization occupies:
// non-deleted integrations that do not need a credential refresh
func (r *IntegrationRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM integrations
		WHERE organization_id = $1 AND deleted_at IS NULL AND refresh_needed = false
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count integrations: %w", err)
	}
	return count, nil
}

// ListByOrg returns the organization's non-deleted integrations
func (r *IntegrationRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.Integration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM integrations
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Create creates a new integration
func (r *IntegrationRepository) Create(ctx context.Context, in *models.Integration) error {
	query := `
		INSERT INTO integrations (organization_id, provider, internal_id, name, picture,
		                          access_token, refresh_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		in.OrganizationID, in.Provider, in.InternalID, in.Name, in.Picture,
		in.AccessToken, in.RefreshToken, in.TokenExpiresAt,
	).Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// UpdateTokens replaces the stored (sealed) tokens after a refresh and clears
// the refresh_needed flag
func (r *IntegrationRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt sql.NullTime) error {
	query := `
		UPDATE integrations
		SET access_token = $2, refresh_token = $3, token_expires_at = $4,
		    refresh_needed = false, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("failed to update integration tokens: %w", err)
	}
	return nil
}

// MarkRefreshNeeded flags the integration as holding an invalid credential.
// The integration stops counting against the channel quota and is excluded
// from publishing until the user reconnects.
func (r *IntegrationRepository) MarkRefreshNeeded(ctx context.Context, id string) error {
	query := `
		UPDATE integrations
		SET refresh_needed = true, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark integration refresh needed: %w", err)
	}
	return nil
}

// SetDisabled toggles the disabled flag (plan downgrades disable surplus channels)
func (r *IntegrationRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	query := `
		UPDATE integrations
		SET disabled = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, disabled); err != nil {
		return fmt.Errorf("failed to set integration disabled: %w", err)
	}
	return nil
}

// Delete soft-deletes an integration
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE integrations
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return nil
}
