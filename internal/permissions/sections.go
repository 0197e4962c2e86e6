// Package permissions computes, per request, the set of (action, section)
// capabilities an organization is allowed given its subscription tier and
// current resource usage. Evaluation is deny-by-default: a pair is permitted
// only when an explicit rule grants it.
package permissions

// Action is what the caller wants to do to a section
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Section is a billing-gated feature area
type Section string

const (
	SectionChannel            Section = "channel"
	SectionPostsPerMonth      Section = "posts_per_month"
	SectionVideosPerMonth     Section = "videos_per_month"
	SectionTeamMembers        Section = "team_members"
	SectionCommunityFeatures  Section = "community_features"
	SectionFeaturedByGitroom  Section = "featured_by_gitroom"
	SectionAI                 Section = "ai"
	SectionImportFromChannels Section = "import_from_channels"
	SectionAdmin              Section = "admin"
	SectionWebhooks           Section = "webhooks"
)

// Rule is one required (action, section) pair
type Rule struct {
	Action  Action
	Section Section
}
