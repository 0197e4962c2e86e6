// webhook_repository.go implements WebhookRepository for org-registered
// callback endpoints. Count feeds the webhooks quota check.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/publora/publora/internal/db/models"
)

// WebhookRepository handles database operations for webhooks
type WebhookRepository struct {
	db *sql.DB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Count returns the organization's live webhook count
func (r *WebhookRepository) Count(ctx context.Context, orgID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM webhooks
		WHERE organization_id = $1 AND deleted_at IS NULL
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count webhooks: %w", err)
	}
	return count, nil
}

// ListByOrg returns the organization's live webhooks
func (r *WebhookRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.Webhook, error) {
	query := `
		SELECT id, organization_id, name, url, integrations, created_at, updated_at, deleted_at
		FROM webhooks
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*models.Webhook
	for rows.Next() {
		hook := &models.Webhook{}
		var integrationsJSON []byte
		if err := rows.Scan(
			&hook.ID,
			&hook.OrganizationID,
			&hook.Name,
			&hook.URL,
			&integrationsJSON,
			&hook.CreatedAt,
			&hook.UpdatedAt,
			&hook.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		if len(integrationsJSON) > 0 {
			if err := json.Unmarshal(integrationsJSON, &hook.Integrations); err != nil {
				return nil, fmt.Errorf("failed to decode webhook integrations: %w", err)
			}
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}

// Create creates a new webhook
func (r *WebhookRepository) Create(ctx context.Context, hook *models.Webhook) error {
	integrationsJSON, err := json.Marshal(hook.Integrations)
	if err != nil {
		return fmt.Errorf("failed to encode webhook integrations: %w", err)
	}
	if hook.Integrations == nil {
		integrationsJSON = []byte("[]")
	}

	query := `
		INSERT INTO webhooks (organization_id, name, url, integrations)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		hook.OrganizationID, hook.Name, hook.URL, integrationsJSON,
	).Scan(&hook.ID, &hook.CreatedAt, &hook.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// Delete soft-deletes a webhook
func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE webhooks
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
