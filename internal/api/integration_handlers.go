package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/middleware"
	"github.com/publora/publora/internal/social"
)

type createIntegrationRequest struct {
	Provider   string `json:"provider" binding:"required"`
	InternalID string `json:"internal_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Picture    string `json:"picture"`
	// Tokens arrive in plaintext from the OAuth callback exchange and are
	// sealed before they touch the database
	AccessToken    string     `json:"access_token" binding:"required"`
	RefreshToken   string     `json:"refresh_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Scopes         []string   `json:"scopes"`
}

type integrationResponse struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	InternalID    string    `json:"internal_id"`
	Name          string    `json:"name"`
	Picture       string    `json:"picture,omitempty"`
	Disabled      bool      `json:"disabled"`
	RefreshNeeded bool      `json:"refresh_needed"`
	CreatedAt     time.Time `json:"created_at"`
}

func toIntegrationResponse(in *models.Integration) integrationResponse {
	return integrationResponse{
		ID:            in.ID,
		Provider:      in.Provider,
		InternalID:    in.InternalID,
		Name:          in.Name,
		Picture:       in.Picture,
		Disabled:      in.Disabled,
		RefreshNeeded: in.RefreshNeeded,
		CreatedAt:     in.CreatedAt,
	}
}

// handleCreateIntegration connects a social account. The provider must be a
// registered adapter and the granted scopes must cover what it needs to
// publish; tokens are sealed before storage.
func (s *Server) handleCreateIntegration(c *gin.Context) {
	var req createIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	provider := s.registry.Get(req.Provider)
	if provider == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider", "available": s.registry.Identifiers()})
		return
	}

	if len(req.Scopes) > 0 {
		if err := social.CheckScopes(provider.Scopes(), req.Scopes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sealedAccess, err := s.cipher.Seal(req.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal access token"})
		return
	}
	sealedRefresh, err := s.cipher.Seal(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal refresh token"})
		return
	}

	integration := &models.Integration{
		OrganizationID: org.ID,
		Provider:       req.Provider,
		InternalID:     req.InternalID,
		Name:           req.Name,
		Picture:        req.Picture,
		AccessToken:    sealedAccess,
		RefreshToken:   sealedRefresh,
		TokenExpiresAt: req.TokenExpiresAt,
	}
	if err := s.integrations.Create(ctx, integration); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create integration"})
		return
	}
	c.JSON(http.StatusCreated, toIntegrationResponse(integration))
}

func (s *Server) handleListIntegrations(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	list, err := s.integrations.ListByOrg(c.Request.Context(), org.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list integrations"})
		return
	}

	out := make([]integrationResponse, 0, len(list))
	for _, in := range list {
		out = append(out, toIntegrationResponse(in))
	}
	c.JSON(http.StatusOK, gin.H{"integrations": out})
}

func (s *Server) handleDeleteIntegration(c *gin.Context) {
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	integration, err := s.integrations.GetByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load integration"})
		return
	}
	if integration == nil || integration.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return
	}
	if err := s.integrations.Delete(ctx, integration.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete integration"})
		return
	}
	c.Status(http.StatusNoContent)
}
