package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/publora/publora/internal/db/models"
)

// UsageReader supplies the live usage counts evaluation depends on. Counts
// are read at decision time, never cached, so a just-connected channel is
// visible to the very next check.
type UsageReader interface {
	CountActiveIntegrations(ctx context.Context, orgID string) (int, error)
	CountPostsSince(ctx context.Context, orgID string, since time.Time) (int, error)
	CountWebhooks(ctx context.Context, orgID string) (int, error)
	LatestSubscription(ctx context.Context, orgID string) (*models.Subscription, error)
}

// Service evaluates ability requests against the pricing table and live usage
type Service struct {
	usage UsageReader
	// billingConfigured mirrors config.BillingConfig.Configured(); a
	// deployment without a billing key is unmetered
	billingConfigured bool
	tiers             map[models.Tier]TierOptions

	// now is injectable for window tests
	now func() time.Time
}

// NewService builds the evaluator. A nil tiers map selects DefaultTiers.
func NewService(usage UsageReader, billingConfigured bool, tiers map[models.Tier]TierOptions) *Service {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Service{
		usage:             usage,
		billingConfigured: billingConfigured,
		tiers:             tiers,
		now:               time.Now,
	}
}

// Check computes the ability for one request. Pairs not in requested are
// never granted; evaluation is deny-by-default and only the rules below add
// grants.
func (s *Service) Check(ctx context.Context, orgID string, orgCreatedAt time.Time, role models.Role, requested []Rule) (*Ability, error) {
	ability := newAbility()

	// unmetered deployment or nothing demanded: grant everything asked for
	if !s.billingConfigured || len(requested) == 0 {
		for _, r := range requested {
			ability.grant(r.Action, r.Section)
		}
		return ability, nil
	}

	sub, err := s.usage.LatestSubscription(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load subscription for org %s: %w", orgID, err)
	}
	tier := models.TierFree
	if sub != nil {
		tier = sub.Tier
	}
	opts, ok := s.tiers[tier]
	if !ok {
		slog.Warn("unknown tier, falling back to FREE", "org_id", orgID, "tier", tier)
		opts = s.tiers[models.TierFree]
	}

	for _, r := range requested {
		granted, err := s.evaluate(ctx, orgID, orgCreatedAt, role, sub, opts, r)
		if err != nil {
			return nil, err
		}
		if granted {
			ability.grant(r.Action, r.Section)
		}
	}
	return ability, nil
}

func (s *Service) evaluate(ctx context.Context, orgID string, orgCreatedAt time.Time, role models.Role, sub *models.Subscription, opts TierOptions, r Rule) (bool, error) {
	switch r.Section {
	case SectionChannel:
		count, err := s.usage.CountActiveIntegrations(ctx, orgID)
		if err != nil {
			return false, fmt.Errorf("count integrations: %w", err)
		}
		if withinQuota(count, opts.Channel) {
			return true, nil
		}
		// per-subscription override bought as an add-on
		if sub != nil && sub.TotalChannels > 0 && count < sub.TotalChannels {
			return true, nil
		}
		return false, nil

	case SectionPostsPerMonth:
		start := s.periodStart(sub, orgCreatedAt)
		count, err := s.usage.CountPostsSince(ctx, orgID, start)
		if err != nil {
			return false, fmt.Errorf("count posts: %w", err)
		}
		return withinQuota(count, opts.PostsPerMonth), nil

	case SectionVideosPerMonth:
		// no per-video usage tracking yet; the tier either includes video
		// generation or it does not
		return opts.VideosPerMonth == UnlimitedQuota || opts.VideosPerMonth > 0, nil

	case SectionWebhooks:
		count, err := s.usage.CountWebhooks(ctx, orgID)
		if err != nil {
			return false, fmt.Errorf("count webhooks: %w", err)
		}
		return withinQuota(count, opts.Webhooks), nil

	case SectionTeamMembers:
		return opts.TeamMembers, nil
	case SectionCommunityFeatures:
		return opts.CommunityFeatures, nil
	case SectionFeaturedByGitroom:
		return opts.FeaturedByGitroom, nil
	case SectionAI:
		return opts.AI, nil
	case SectionImportFromChannels:
		return opts.ImportFromChannels, nil

	case SectionAdmin:
		// tier-independent
		return role.IsAdmin(), nil
	}
	return false, nil
}

// periodStart anchors the posts-per-month window at the subscription's
// creation date (organization creation when no subscription exists) advanced
// by the whole months elapsed since, so the window rolls on the subscriber's
// own monthly anniversary rather than the calendar month.
func (s *Service) periodStart(sub *models.Subscription, orgCreatedAt time.Time) time.Time {
	anchor := orgCreatedAt
	if sub != nil {
		anchor = sub.CreatedAt
	}
	return anchor.AddDate(0, wholeMonthsSince(anchor, s.now()), 0)
}

// wholeMonthsSince counts full calendar months between anchor and now
func wholeMonthsSince(anchor, now time.Time) int {
	if now.Before(anchor) {
		return 0
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	// AddDate normalizes end-of-month overflow, so step down until the
	// candidate anniversary is actually in the past
	for months > 0 && now.Before(anchor.AddDate(0, months, 0)) {
		months--
	}
	return months
}
