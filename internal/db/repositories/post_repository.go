// post_repository.go implements PostRepository. CountSince feeds the
// posts-per-month quota check: it is always evaluated live at decision time.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/publora/publora/internal/db/models"
)

// PostRepository handles database operations for posts
type PostRepository struct {
	db *sql.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `
		SELECT id, organization_id, integration_id, group_id, content, media_urls,
		       state, publish_date, release_url, error, created_at, updated_at, deleted_at
		FROM posts
		WHERE id = $1 AND deleted_at IS NULL
	`

	post := &models.Post{}
	var mediaJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID,
		&post.OrganizationID,
		&post.IntegrationID,
		&post.GroupID,
		&post.Content,
		&mediaJSON,
		&post.State,
		&post.PublishDate,
		&post.ReleaseURL,
		&post.Error,
		&post.CreatedAt,
		&post.UpdatedAt,
		&post.DeletedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &post.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media urls: %w", err)
		}
	}
	return post, nil
}

// CountSince returns the number of non-draft posts the organization created at
// or after the given instant
func (r *PostRepository) CountSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM posts
		WHERE organization_id = $1 AND created_at >= $2
		  AND deleted_at IS NULL AND state != 'DRAFT'
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, orgID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// ListByOrg retrieves the organization's posts, newest first
func (r *PostRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]*models.Post, error) {
	query := `
		SELECT id, organization_id, integration_id, group_id, content, media_urls,
		       state, publish_date, release_url, error, created_at, updated_at, deleted_at
		FROM posts
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY publish_date DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post := &models.Post{}
		var mediaJSON []byte
		if err := rows.Scan(
			&post.ID,
			&post.OrganizationID,
			&post.IntegrationID,
			&post.GroupID,
			&post.Content,
			&mediaJSON,
			&post.State,
			&post.PublishDate,
			&post.ReleaseURL,
			&post.Error,
			&post.CreatedAt,
			&post.UpdatedAt,
			&post.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if len(mediaJSON) > 0 {
			if err := json.Unmarshal(mediaJSON, &post.MediaURLs); err != nil {
				return nil, fmt.Errorf("failed to decode media urls: %w", err)
			}
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Create creates a new post
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	mediaJSON, err := json.Marshal(post.MediaURLs)
	if err != nil {
		return fmt.Errorf("failed to encode media urls: %w", err)
	}
	if post.MediaURLs == nil {
		mediaJSON = []byte("[]")
	}

	query := `
		INSERT INTO posts (organization_id, integration_id, group_id, content,
		                   media_urls, state, publish_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		post.OrganizationID, post.IntegrationID, post.GroupID, post.Content,
		mediaJSON, string(post.State), post.PublishDate,
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// MarkPublished records a successful publish with the provider's public URL
func (r *PostRepository) MarkPublished(ctx context.Context, id, releaseURL string) error {
	query := `
		UPDATE posts
		SET state = 'PUBLISHED', release_url = $2, error = '', updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, releaseURL); err != nil {
		return fmt.Errorf("failed to mark post published: %w", err)
	}
	return nil
}

// MarkError records a terminal publish failure
func (r *PostRepository) MarkError(ctx context.Context, id, message string) error {
	query := `
		UPDATE posts
		SET state = 'ERROR', error = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, message); err != nil {
		return fmt.Errorf("failed to mark post error: %w", err)
	}
	return nil
}

// Delete soft-deletes a post
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE posts
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}
