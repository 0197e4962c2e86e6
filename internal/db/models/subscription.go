// Package models - subscription.go defines the Subscription model. An
// organization has at most one live (non-deleted) subscription; billing webhook
// events mutate it and the permissions engine reads it.
package models

import "time"

// Tier is a subscription pricing tier
type Tier string

const (
	TierFree     Tier = "FREE"
	TierStandard Tier = "STANDARD"
	TierPro      Tier = "PRO"
)

// BillingPeriod is the subscription billing cadence
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "MONTHLY"
	PeriodYearly  BillingPeriod = "YEARLY"
)

// Subscription represents an organization's current plan
type Subscription struct {
	ID             string
	OrganizationID string
	Tier           Tier
	Period         BillingPeriod
	// TotalChannels is an explicit per-subscription channel quota override. It
	// grants channels beyond the tier quota (lifetime deals, support bumps).
	TotalChannels int
	IsLifetime    bool
	// ProviderRef is the billing provider's subscription id, empty for
	// lifetime-code redemptions.
	ProviderRef string
	CancelAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}
