package api

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/billing"
	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/middleware"
)

type createWebhookRequest struct {
	Name string `json:"name" binding:"required"`
	URL  string `json:"url" binding:"required,url"`
	// Integrations limits delivery to these integration ids; empty means all
	Integrations []string `json:"integrations"`
}

type webhookResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Integrations []string  `json:"integrations,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) handleCreateWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}
	org := middleware.CurrentOrganization(c)

	hook := &models.Webhook{
		OrganizationID: org.ID,
		Name:           req.Name,
		URL:            req.URL,
		Integrations:   req.Integrations,
	}
	if err := s.hooks.Create(c.Request.Context(), hook); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}
	c.JSON(http.StatusCreated, webhookResponse{
		ID: hook.ID, Name: hook.Name, URL: hook.URL,
		Integrations: hook.Integrations, CreatedAt: hook.CreatedAt,
	})
}

func (s *Server) handleListWebhooks(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	list, err := s.hooks.ListByOrg(c.Request.Context(), org.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}

	out := make([]webhookResponse, 0, len(list))
	for _, hook := range list {
		out = append(out, webhookResponse{
			ID: hook.ID, Name: hook.Name, URL: hook.URL,
			Integrations: hook.Integrations, CreatedAt: hook.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out})
}

func (s *Server) handleDeleteWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	list, err := s.hooks.ListByOrg(ctx, org.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load webhooks"})
		return
	}
	id := c.Param("id")
	for _, hook := range list {
		if hook.ID == id {
			if err := s.hooks.Delete(ctx, id); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
}

// handleStripeWebhook verifies and applies a billing event. Processing
// failures after signature verification still return 200 so Stripe does not
// redeliver an event we cannot apply; the error is logged by the handler.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, billing.MaxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if err := s.stripe.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
