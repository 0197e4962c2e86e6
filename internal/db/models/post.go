// Package models - post.go defines the Post model, one scheduled or published
// piece of content targeting a single integration. Multi-channel posts share a
// GroupID.
package models

import "time"

// PostState is the lifecycle state of a post
type PostState string

const (
	PostStateDraft     PostState = "DRAFT"
	PostStateQueued    PostState = "QUEUE"
	PostStatePublished PostState = "PUBLISHED"
	PostStateError     PostState = "ERROR"
)

// Post represents one scheduled piece of content for one integration
type Post struct {
	ID             string
	OrganizationID string
	IntegrationID  string
	// GroupID ties together the per-integration copies of a multi-channel post
	GroupID     string
	Content     string
	MediaURLs   []string
	State       PostState
	PublishDate time.Time
	// ReleaseURL is the public URL of the published post, set on success
	ReleaseURL string
	// Error holds the provider error message when State is ERROR
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
