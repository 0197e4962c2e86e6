// Package middleware provides Gin HTTP middleware for request identification,
// metrics, rate limiting, authentication, and the billing-aware permission
// guard.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → RateLimit → Auth → Guard → Handler
//
// Auth populates the organization context that the guard reads; rate limiting
// runs before auth so brute-force traffic is rejected before any DB work.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/auth"
	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
)

// Context keys populated by AuthMiddleware.
const (
	UserKey         = "user"
	OrganizationKey = "organization"
	RoleKey         = "role"
	AuthMethodKey   = "auth_method"
)

// OrgHeader selects the organization for users that belong to several
const OrgHeader = "X-Organization-Id"

// AuthMiddleware authenticates the request. JWTs are tried first: only a
// signature check, no DB round-trip. Failing that, the credential is treated
// as an organization API key: the plaintext display prefix narrows the
// candidate rows through an indexed query, then bcrypt runs only on those
// candidates.
func AuthMiddleware(jwtMgr *auth.JWTManager, userRepo *repositories.UserRepository, orgRepo *repositories.OrganizationRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if claims, err := jwtMgr.Validate(token); err == nil {
			authenticateSession(c, claims, userRepo, orgRepo)
			return
		}

		authenticateAPIKey(c, token, orgRepo)
	}
}

func authenticateSession(c *gin.Context, claims *auth.Claims, userRepo *repositories.UserRepository, orgRepo *repositories.OrganizationRepository) {
	ctx := c.Request.Context()

	user, err := userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	orgs, err := orgRepo.ListForUser(ctx, user.ID)
	if err != nil || len(orgs) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no organization membership"})
		return
	}

	org := orgs[0]
	if wanted := c.GetHeader(OrgHeader); wanted != "" {
		org = nil
		for _, o := range orgs {
			if o.ID == wanted {
				org = o
				break
			}
		}
		if org == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of the requested organization"})
			return
		}
	}

	role, err := orgRepo.GetMemberRole(ctx, org.ID, user.ID)
	if err != nil || role == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "membership not found"})
		return
	}

	c.Set(UserKey, user)
	c.Set(OrganizationKey, org)
	c.Set(RoleKey, *role)
	c.Set(AuthMethodKey, "jwt")
	c.Next()
}

func authenticateAPIKey(c *gin.Context, token string, orgRepo *repositories.OrganizationRepository) {
	candidates, err := orgRepo.GetByAPIKeyPrefix(c.Request.Context(), auth.DisplayPrefix(token))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
		return
	}

	for _, org := range candidates {
		if auth.ValidateAPIKey(token, org.APIKeyHash) {
			// an API key is the organization's own credential, so it carries
			// full rights within that organization
			c.Set(OrganizationKey, org)
			c.Set(RoleKey, models.RoleSuperAdmin)
			c.Set(AuthMethodKey, "api_key")
			c.Next()
			return
		}
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
}

// CurrentOrganization returns the authenticated organization, or nil when the
// request was not authenticated
func CurrentOrganization(c *gin.Context) *models.Organization {
	v, ok := c.Get(OrganizationKey)
	if !ok {
		return nil
	}
	org, _ := v.(*models.Organization)
	return org
}

// CurrentRole returns the caller's role within the authenticated organization
func CurrentRole(c *gin.Context) models.Role {
	v, ok := c.Get(RoleKey)
	if !ok {
		return models.RoleUser
	}
	role, _ := v.(models.Role)
	return role
}
