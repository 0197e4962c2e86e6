// Package models - user.go defines the User model for local email/password accounts.
package models

import "time"

// User represents a registered user account
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
