// Package models - webhook.go defines the Webhook model for org-registered
// HTTP callbacks fired on post lifecycle events.
package models

import "time"

// Webhook represents an organization's registered callback endpoint
type Webhook struct {
	ID             string
	OrganizationID string
	Name           string
	URL            string
	// Integrations restricts delivery to events for these integration ids;
	// empty means all integrations.
	Integrations []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}
