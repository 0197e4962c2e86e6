package permissions

import "github.com/publora/publora/internal/db/models"

// UnlimitedQuota is the historical sentinel for an unbounded quota. It is
// stored and compared as the literal value -10, not converted to a separate
// flag, so tier tables stay compatible with existing subscription data.
const UnlimitedQuota = -10

// TierOptions is the bundle of quotas and feature flags one pricing tier
// grants
type TierOptions struct {
	Channel            int
	PostsPerMonth      int
	VideosPerMonth     int
	Webhooks           int
	TeamMembers        bool
	CommunityFeatures  bool
	FeaturedByGitroom  bool
	AI                 bool
	ImportFromChannels bool
}

// DefaultTiers is the built-in pricing table. The Service takes the table as
// a parameter so deployments can override quotas without a rebuild.
func DefaultTiers() map[models.Tier]TierOptions {
	return map[models.Tier]TierOptions{
		models.TierFree: {
			Channel:       1,
			PostsPerMonth: 30,
		},
		models.TierStandard: {
			Channel:            5,
			PostsPerMonth:      400,
			VideosPerMonth:     10,
			Webhooks:           2,
			AI:                 true,
			ImportFromChannels: true,
		},
		models.TierPro: {
			Channel:            UnlimitedQuota,
			PostsPerMonth:      UnlimitedQuota,
			VideosPerMonth:     UnlimitedQuota,
			Webhooks:           10,
			TeamMembers:        true,
			CommunityFeatures:  true,
			FeaturedByGitroom:  true,
			AI:                 true,
			ImportFromChannels: true,
		},
	}
}

// withinQuota reports whether a live count fits a tier quota, honoring the
// unlimited sentinel
func withinQuota(count, quota int) bool {
	return quota == UnlimitedQuota || count < quota
}
