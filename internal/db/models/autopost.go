// Package models - autopost.go defines the AutoPost model, a recurring
// content-import rule that polls an external feed and schedules posts for new
// items. LastURL is the dedup watermark: it records the most recently
// scheduled item so re-runs skip content that was already imported.
package models

import "time"

// AutoPost represents a recurring content-import rule
type AutoPost struct {
	ID             string
	OrganizationID string
	Title          string
	// URL is the feed or page to poll (RSS, Atom, or plain HTML)
	URL string
	// Every is the polling interval
	Every time.Duration
	// Integrations are the target integration ids for generated posts
	Integrations []string
	// GenerateContent rewrites the item through the AI collaborator rather
	// than posting the raw title/link
	GenerateContent bool
	// AddPicture requests AI image generation for the post
	AddPicture bool
	Active     bool
	// LastURL is the watermark: the URL of the last item that was scheduled
	LastURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
