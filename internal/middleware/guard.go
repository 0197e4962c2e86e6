package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/permissions"
)

// AbilityChecker is the permission evaluator the guard consults; satisfied by
// *permissions.Service
type AbilityChecker interface {
	Check(ctx context.Context, orgID string, orgCreatedAt time.Time, role models.Role, requested []permissions.Rule) (*permissions.Ability, error)
}

// sectionMessages are the canned upgrade prompts keyed by the denied section,
// so clients can render a specific call-to-action without their own copy of
// the pricing rules.
var sectionMessages = map[permissions.Section]string{
	permissions.SectionChannel:        "You have reached the maximum number of channels for your plan. Upgrade to connect more channels.",
	permissions.SectionPostsPerMonth:  "You have reached your monthly post limit. Upgrade your plan to schedule more posts.",
	permissions.SectionVideosPerMonth: "Video generation is not included in your plan. Upgrade to generate videos.",
	permissions.SectionWebhooks:       "You have reached the maximum number of webhooks for your plan. Upgrade to add more.",
}

const defaultDeniedMessage = "Your current plan does not include this feature. Upgrade to unlock it."

// paymentRequired is the fixed denial body. statusCode is embedded in the
// JSON as well as carried on the HTTP status line, matching what the
// frontend's billing interceptor expects.
type paymentRequired struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	URL        string `json:"url"`
}

// Guard returns a handler enforcing the given required (action, section)
// pairs for the wrapped route. Authorization is opt-in: routes that declare
// no rules pass through untouched, and any request whose path contains /auth
// or /stripe bypasses evaluation entirely because those endpoints must stay
// reachable before an organization or subscription exists.
//
// The first declared pair the computed ability denies determines the
// rejection; evaluation does not collect all failures.
func Guard(checker AbilityChecker, billingURL string, rules ...permissions.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(rules) == 0 || bypassed(c.Request.URL.Path) {
			c.Next()
			return
		}

		org := CurrentOrganization(c)
		if org == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization context missing"})
			return
		}

		ability, err := checker.Check(c.Request.Context(), org.ID, org.CreatedAt, CurrentRole(c), rules)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "permission check failed"})
			return
		}

		if denied := ability.FirstDenied(rules); denied != nil {
			msg, ok := sectionMessages[denied.Section]
			if !ok {
				msg = defaultDeniedMessage
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired{
				StatusCode: http.StatusPaymentRequired,
				Message:    msg,
				URL:        billingURL,
			})
			return
		}
		c.Next()
	}
}

func bypassed(path string) bool {
	return strings.Contains(path, "/auth") || strings.Contains(path, "/stripe")
}
