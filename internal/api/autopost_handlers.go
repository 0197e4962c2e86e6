package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/middleware"
)

type createAutopostRequest struct {
	Title string `json:"title" binding:"required"`
	URL   string `json:"url" binding:"required,url"`
	// EverySeconds is the polling interval; minimum one minute
	EverySeconds    int      `json:"every_seconds" binding:"required,min=60"`
	Integrations    []string `json:"integrations" binding:"required,min=1"`
	GenerateContent bool     `json:"generate_content"`
	AddPicture      bool     `json:"add_picture"`
}

type autopostResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	EverySeconds    int       `json:"every_seconds"`
	Integrations    []string  `json:"integrations"`
	GenerateContent bool      `json:"generate_content"`
	AddPicture      bool      `json:"add_picture"`
	Active          bool      `json:"active"`
	LastURL         string    `json:"last_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAutopostResponse(ap *models.AutoPost) autopostResponse {
	return autopostResponse{
		ID:              ap.ID,
		Title:           ap.Title,
		URL:             ap.URL,
		EverySeconds:    int(ap.Every / time.Second),
		Integrations:    ap.Integrations,
		GenerateContent: ap.GenerateContent,
		AddPicture:      ap.AddPicture,
		Active:          ap.Active,
		LastURL:         ap.LastURL,
		CreatedAt:       ap.CreatedAt,
	}
}

// handleCreateAutopost stores the rule and registers its recurring scheduler.
// The first run fires immediately so a fresh rule imports the current item
// without waiting a full interval.
func (s *Server) handleCreateAutopost(c *gin.Context) {
	var req createAutopostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	for _, integrationID := range req.Integrations {
		integration, err := s.integrations.GetByID(ctx, integrationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load integration"})
			return
		}
		if integration == nil || integration.OrganizationID != org.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "integration " + integrationID + " not found"})
			return
		}
	}

	ap := &models.AutoPost{
		OrganizationID:  org.ID,
		Title:           req.Title,
		URL:             req.URL,
		Every:           time.Duration(req.EverySeconds) * time.Second,
		Integrations:    req.Integrations,
		GenerateContent: req.GenerateContent,
		AddPicture:      req.AddPicture,
		Active:          true,
	}
	if err := s.autoposts.Create(ctx, ap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create autopost"})
		return
	}
	if err := s.workflow.Register(ctx, ap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register autopost scheduler"})
		return
	}
	c.JSON(http.StatusCreated, toAutopostResponse(ap))
}

func (s *Server) handleListAutoposts(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	list, err := s.autoposts.ListByOrg(c.Request.Context(), org.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list autoposts"})
		return
	}

	out := make([]autopostResponse, 0, len(list))
	for _, ap := range list {
		out = append(out, toAutopostResponse(ap))
	}
	c.JSON(http.StatusOK, gin.H{"autoposts": out})
}

func (s *Server) handleDeactivateAutopost(c *gin.Context) {
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	ap, err := s.autoposts.GetByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load autopost"})
		return
	}
	if ap == nil || ap.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "autopost not found"})
		return
	}
	if err := s.workflow.Deactivate(ctx, ap.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate autopost"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAutopost(c *gin.Context) {
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	ap, err := s.autoposts.GetByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load autopost"})
		return
	}
	if ap == nil || ap.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "autopost not found"})
		return
	}
	// cancel the scheduler first so a fire between the two steps cannot
	// resurrect the rule
	if err := s.workflow.Deactivate(ctx, ap.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel autopost scheduler"})
		return
	}
	if err := s.autoposts.Delete(ctx, ap.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete autopost"})
		return
	}
	c.Status(http.StatusNoContent)
}
