// Package models - integration.go defines the Integration model, one connected
// social account belonging to an organization. Tokens are stored encrypted with
// the crypto.TokenCipher; the repository layer never sees plaintext.
package models

import "time"

// Integration represents a connected social-network account
type Integration struct {
	ID             string
	OrganizationID string
	// Provider is the social network identifier (e.g. "x", "linkedin")
	Provider string
	// InternalID is the account id on the provider side
	InternalID string
	Name       string
	Picture    string
	// AccessToken and RefreshToken are AES-GCM sealed values
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	// Disabled is set on plan downgrade; disabled integrations keep their
	// tokens but are excluded from publishing.
	Disabled bool
	// RefreshNeeded is set when a publish attempt fails with an invalid
	// credential; the user must reconnect the account.
	RefreshNeeded bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}
