// Package models - organization.go defines the Organization model, the tenant
// root that owns integrations, posts, webhooks, and subscriptions.
package models

import "time"

// Organization represents a tenant in Publora
type Organization struct {
	ID          string
	Name        string
	Description string
	// APIKeyHash is the bcrypt hash of the organization API key; the raw key is
	// shown once at creation and never stored.
	APIKeyHash string
	// APIKeyPrefix is the plaintext first characters of the key, stored for
	// fast indexed lookup before the bcrypt comparison.
	APIKeyPrefix string
	// AllowTrial marks organizations that may start a free trial
	AllowTrial bool
	// IsTrailing marks organizations currently on a trial period
	IsTrailing bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Role is a member's role within an organization
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

// IsAdmin reports whether the role carries administrative rights
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// OrganizationMember links a user to an organization with a role
type OrganizationMember struct {
	OrganizationID string
	UserID         string
	Role           Role
	CreatedAt      time.Time
}
