// autopost_repository.go implements AutoPostRepository for recurring
// content-import rules. UpdateLastURL advances the dedup watermark and is only
// called after a successful publish enqueue.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/publora/publora/internal/db/models"
)

// AutoPostRepository handles database operations for autopost rules
type AutoPostRepository struct {
	db *sql.DB
}

// NewAutoPostRepository creates a new autopost repository
func NewAutoPostRepository(db *sql.DB) *AutoPostRepository {
	return &AutoPostRepository{db: db}
}

const autopostColumns = `id, organization_id, title, url, every_seconds, integrations,
	generate_content, add_picture, active, last_url, created_at, updated_at, deleted_at`

func scanAutoPost(row interface{ Scan(...any) error }) (*models.AutoPost, error) {
	ap := &models.AutoPost{}
	var everySeconds int64
	var integrationsJSON []byte
	err := row.Scan(
		&ap.ID,
		&ap.OrganizationID,
		&ap.Title,
		&ap.URL,
		&everySeconds,
		&integrationsJSON,
		&ap.GenerateContent,
		&ap.AddPicture,
		&ap.Active,
		&ap.LastURL,
		&ap.CreatedAt,
		&ap.UpdatedAt,
		&ap.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	ap.Every = time.Duration(everySeconds) * time.Second
	if len(integrationsJSON) > 0 {
		if err := json.Unmarshal(integrationsJSON, &ap.Integrations); err != nil {
			return nil, fmt.Errorf("failed to decode autopost integrations: %w", err)
		}
	}
	return ap, nil
}

// GetByID retrieves an autopost rule by ID
func (r *AutoPostRepository) GetByID(ctx context.Context, id string) (*models.AutoPost, error) {
	query := `SELECT ` + autopostColumns + ` FROM autoposts WHERE id = $1 AND deleted_at IS NULL`

	ap, err := scanAutoPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get autopost: %w", err)
	}
	return ap, nil
}

// ListByOrg returns the organization's live autopost rules
func (r *AutoPostRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.AutoPost, error) {
	query := `SELECT ` + autopostColumns + `
		FROM autoposts
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list autoposts: %w", err)
	}
	defer rows.Close()

	var out []*models.AutoPost
	for rows.Next() {
		ap, err := scanAutoPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan autopost: %w", err)
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

// Create creates a new autopost rule
func (r *AutoPostRepository) Create(ctx context.Context, ap *models.AutoPost) error {
	integrationsJSON, err := json.Marshal(ap.Integrations)
	if err != nil {
		return fmt.Errorf("failed to encode autopost integrations: %w", err)
	}
	if ap.Integrations == nil {
		integrationsJSON = []byte("[]")
	}

	query := `
		INSERT INTO autoposts (organization_id, title, url, every_seconds,
		                       integrations, generate_content, add_picture, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		ap.OrganizationID, ap.Title, ap.URL, int64(ap.Every/time.Second),
		integrationsJSON, ap.GenerateContent, ap.AddPicture, ap.Active,
	).Scan(&ap.ID, &ap.CreatedAt, &ap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create autopost: %w", err)
	}
	return nil
}

// UpdateLastURL advances the watermark to the given item URL
func (r *AutoPostRepository) UpdateLastURL(ctx context.Context, id, lastURL string) error {
	query := `
		UPDATE autoposts
		SET last_url = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, lastURL); err != nil {
		return fmt.Errorf("failed to update autopost watermark: %w", err)
	}
	return nil
}

// SetActive toggles the rule's active flag
func (r *AutoPostRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE autoposts
		SET active = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("failed to set autopost active: %w", err)
	}
	return nil
}

// Delete soft-deletes an autopost rule
func (r *AutoPostRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE autoposts
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete autopost: %w", err)
	}
	return nil
}
