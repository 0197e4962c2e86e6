package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/publora/publora/internal/db/models"
)

// fakeUsage is a canned UsageReader. postsSince records the window start the
// evaluator asked for.
type fakeUsage struct {
	integrations int
	posts        int
	webhooks     int
	sub          *models.Subscription

	postsSince time.Time
}

func (f *fakeUsage) CountActiveIntegrations(ctx context.Context, orgID string) (int, error) {
	return f.integrations, nil
}

func (f *fakeUsage) CountPostsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	f.postsSince = since
	return f.posts, nil
}

func (f *fakeUsage) CountWebhooks(ctx context.Context, orgID string) (int, error) {
	return f.webhooks, nil
}

func (f *fakeUsage) LatestSubscription(ctx context.Context, orgID string) (*models.Subscription, error) {
	return f.sub, nil
}

func subscription(tier models.Tier, createdAt time.Time) *models.Subscription {
	return &models.Subscription{Tier: tier, CreatedAt: createdAt}
}

func TestCheck_UnmeteredDeploymentGrantsEverything(t *testing.T) {
	usage := &fakeUsage{integrations: 100, posts: 100, webhooks: 100}
	svc := NewService(usage, false, nil)

	requested := []Rule{
		{ActionCreate, SectionChannel},
		{ActionCreate, SectionPostsPerMonth},
		{ActionCreate, SectionWebhooks},
		{ActionRead, SectionAdmin},
	}
	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser, requested)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	for _, r := range requested {
		if !ability.Can(r.Action, r.Section) {
			t.Errorf("Can(%s, %s) = false, want true without billing key", r.Action, r.Section)
		}
	}
}

func TestCheck_FreeTierAtChannelQuotaDenied(t *testing.T) {
	usage := &fakeUsage{
		integrations: 1,
		sub:          subscription(models.TierFree, time.Now().AddDate(0, -1, 0)),
	}
	svc := NewService(usage, true, nil)

	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser,
		[]Rule{{ActionCreate, SectionChannel}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ability.Can(ActionCreate, SectionChannel) {
		t.Error("FREE org at channel quota was granted (create, channel)")
	}
}

func TestCheck_ChannelBelowQuotaGranted(t *testing.T) {
	usage := &fakeUsage{
		integrations: 0,
		sub:          subscription(models.TierFree, time.Now()),
	}
	svc := NewService(usage, true, nil)

	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser,
		[]Rule{{ActionCreate, SectionChannel}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ability.Can(ActionCreate, SectionChannel) {
		t.Error("FREE org below channel quota was denied")
	}
}

func TestCheck_TotalChannelsOverride(t *testing.T) {
	sub := subscription(models.TierFree, time.Now())
	sub.TotalChannels = 3
	usage := &fakeUsage{integrations: 2, sub: sub}
	svc := NewService(usage, true, nil)

	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser,
		[]Rule{{ActionCreate, SectionChannel}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ability.Can(ActionCreate, SectionChannel) {
		t.Error("subscription channel override not honored")
	}
}

func TestCheck_PostsWindowAnchoredAtSubscriptionAnniversary(t *testing.T) {
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	subCreated := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	usage := &fakeUsage{posts: 0, sub: subscription(models.TierFree, subCreated)}
	svc := NewService(usage, true, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Check(context.Background(), "org-1", subCreated, models.RoleUser,
		[]Rule{{ActionCreate, SectionPostsPerMonth}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	// 3 whole months elapsed: the window starts at the June 5 anniversary,
	// not at subscription creation and not at June 1
	want := time.Date(2026, 6, 5, 9, 30, 0, 0, time.UTC)
	if !usage.postsSince.Equal(want) {
		t.Errorf("posts window start = %v, want %v", usage.postsSince, want)
	}
}

func TestCheck_PostsWindowFallsBackToOrgCreation(t *testing.T) {
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	orgCreated := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	usage := &fakeUsage{posts: 0, sub: nil}
	svc := NewService(usage, true, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Check(context.Background(), "org-1", orgCreated, models.RoleUser,
		[]Rule{{ActionCreate, SectionPostsPerMonth}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	want := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	if !usage.postsSince.Equal(want) {
		t.Errorf("posts window start = %v, want %v", usage.postsSince, want)
	}
}

func TestCheck_QuotaExhaustionThenProUpgrade(t *testing.T) {
	tiers := DefaultTiers()
	tiers[models.TierFree] = TierOptions{Channel: 1, PostsPerMonth: 5}

	subCreated := time.Now().AddDate(0, -2, 0)
	usage := &fakeUsage{
		integrations: 1,
		posts:        5,
		sub:          subscription(models.TierFree, subCreated),
	}
	svc := NewService(usage, true, tiers)

	requested := []Rule{
		{ActionCreate, SectionChannel},
		{ActionCreate, SectionPostsPerMonth},
	}
	ability, err := svc.Check(context.Background(), "org-1", subCreated, models.RoleUser, requested)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ability.Can(ActionCreate, SectionChannel) {
		t.Error("channel at quota was granted")
	}
	if ability.Can(ActionCreate, SectionPostsPerMonth) {
		t.Error("posts at quota was granted")
	}

	// upgrade to PRO: no usage changes, both grants flip via the unlimited
	// sentinel quotas
	usage.sub = subscription(models.TierPro, subCreated)
	ability, err = svc.Check(context.Background(), "org-1", subCreated, models.RoleUser, requested)
	if err != nil {
		t.Fatalf("Check after upgrade: %v", err)
	}
	if !ability.Can(ActionCreate, SectionChannel) {
		t.Error("PRO channel denied")
	}
	if !ability.Can(ActionCreate, SectionPostsPerMonth) {
		t.Error("PRO posts denied")
	}
}

func TestCheck_AdminRequiresRole(t *testing.T) {
	usage := &fakeUsage{sub: subscription(models.TierFree, time.Now())}
	svc := NewService(usage, true, nil)

	for _, tc := range []struct {
		role models.Role
		want bool
	}{
		{models.RoleUser, false},
		{models.RoleAdmin, true},
		{models.RoleSuperAdmin, true},
	} {
		ability, err := svc.Check(context.Background(), "org-1", time.Now(), tc.role,
			[]Rule{{ActionRead, SectionAdmin}})
		if err != nil {
			t.Fatalf("Check(%s): %v", tc.role, err)
		}
		if got := ability.Can(ActionRead, SectionAdmin); got != tc.want {
			t.Errorf("Can(read, admin) as %s = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestCheck_FeatureFlagsByTier(t *testing.T) {
	usage := &fakeUsage{sub: subscription(models.TierFree, time.Now())}
	svc := NewService(usage, true, nil)

	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser,
		[]Rule{{ActionCreate, SectionAI}, {ActionCreate, SectionTeamMembers}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ability.Can(ActionCreate, SectionAI) {
		t.Error("FREE tier granted ai")
	}

	usage.sub = subscription(models.TierPro, time.Now())
	ability, err = svc.Check(context.Background(), "org-1", time.Now(), models.RoleUser,
		[]Rule{{ActionCreate, SectionAI}, {ActionCreate, SectionTeamMembers}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ability.Can(ActionCreate, SectionAI) || !ability.Can(ActionCreate, SectionTeamMembers) {
		t.Error("PRO tier denied ai or team_members")
	}
}

func TestCheck_UnrequestedPairStaysDenied(t *testing.T) {
	usage := &fakeUsage{sub: subscription(models.TierPro, time.Now())}
	svc := NewService(usage, true, nil)

	ability, err := svc.Check(context.Background(), "org-1", time.Now(), models.RoleSuperAdmin,
		[]Rule{{ActionCreate, SectionChannel}})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ability.Can(ActionRead, SectionAdmin) {
		t.Error("pair outside the requested set was granted")
	}
}

func TestFirstDenied(t *testing.T) {
	a := newAbility()
	a.grant(ActionCreate, SectionChannel)

	rules := []Rule{
		{ActionCreate, SectionChannel},
		{ActionCreate, SectionWebhooks},
		{ActionCreate, SectionAI},
	}
	denied := a.FirstDenied(rules)
	if denied == nil || denied.Section != SectionWebhooks {
		t.Errorf("FirstDenied = %v, want webhooks", denied)
	}
	if a.FirstDenied(rules[:1]) != nil {
		t.Error("FirstDenied on fully granted set should be nil")
	}
}

func TestWholeMonthsSince(t *testing.T) {
	anchor := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), 12},
		{time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range tests {
		if got := wholeMonthsSince(anchor, tt.now); got != tt.want {
			t.Errorf("wholeMonthsSince(%v, %v) = %d, want %d", anchor, tt.now, got, tt.want)
		}
	}
}
