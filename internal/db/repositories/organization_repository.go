// organization_repository.go implements OrganizationRepository, providing
// database queries for organization CRUD, membership roles, and API key lookup.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/publora/publora/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `
		SELECT id, name, description, api_key_hash, api_key_prefix,
		       allow_trial, is_trailing, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	org := &models.Organization{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.Description,
		&org.APIKeyHash,
		&org.APIKeyPrefix,
		&org.AllowTrial,
		&org.IsTrailing,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// GetByAPIKeyPrefix retrieves candidate organizations whose stored key prefix
// matches. The caller narrows the candidates with a bcrypt comparison; the
// prefix query exists so that comparison runs on a handful of rows instead of
// the whole table.
func (r *OrganizationRepository) GetByAPIKeyPrefix(ctx context.Context, prefix string) ([]*models.Organization, error) {
	query := `
		SELECT id, name, description, api_key_hash, api_key_prefix,
		       allow_trial, is_trailing, created_at, updated_at
		FROM organizations
		WHERE api_key_prefix = $1
	`

	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations by key prefix: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Description,
			&org.APIKeyHash,
			&org.APIKeyPrefix,
			&org.AllowTrial,
			&org.IsTrailing,
			&org.CreatedAt,
			&org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// Create creates a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (name, description, api_key_hash, api_key_prefix, allow_trial)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		org.Name, org.Description, org.APIKeyHash, org.APIKeyPrefix, org.AllowTrial,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// AddMember adds a user to an organization with the given role
func (r *OrganizationRepository) AddMember(ctx context.Context, orgID, userID string, role models.Role) error {
	query := `
		INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.db.ExecContext(ctx, query, orgID, userID, string(role)); err != nil {
		return fmt.Errorf("failed to add organization member: %w", err)
	}
	return nil
}

// GetMemberRole returns the user's role within the organization, or nil when
// the user is not a member
func (r *OrganizationRepository) GetMemberRole(ctx context.Context, orgID, userID string) (*models.Role, error) {
	query := `
		SELECT role
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`

	var roleStr string
	err := r.db.QueryRowContext(ctx, query, orgID, userID).Scan(&roleStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not a member
		}
		return nil, fmt.Errorf("failed to get member role: %w", err)
	}

	role := models.Role(roleStr)
	return &role, nil
}

// ListForUser returns all organizations the user is a member of
func (r *OrganizationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Organization, error) {
	query := `
		SELECT o.id, o.name, o.description, o.api_key_hash, o.api_key_prefix,
		       o.allow_trial, o.is_trailing, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations for user: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Description,
			&org.APIKeyHash,
			&org.APIKeyPrefix,
			&org.AllowTrial,
			&org.IsTrailing,
			&org.CreatedAt,
			&org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
