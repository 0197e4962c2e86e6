package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/middleware"
	"github.com/publora/publora/internal/queue"
)

type createPostsRequest struct {
	Content      string    `json:"content" binding:"required"`
	MediaURLs    []string  `json:"media_urls"`
	Integrations []string  `json:"integrations" binding:"required,min=1"`
	PublishDate  time.Time `json:"publish_date" binding:"required"`
	Draft        bool      `json:"draft"`
}

type postResponse struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	GroupID       string    `json:"group_id"`
	Content       string    `json:"content"`
	MediaURLs     []string  `json:"media_urls,omitempty"`
	State         string    `json:"state"`
	PublishDate   time.Time `json:"publish_date"`
	ReleaseURL    string    `json:"release_url,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func toPostResponse(p *models.Post) postResponse {
	return postResponse{
		ID:            p.ID,
		IntegrationID: p.IntegrationID,
		GroupID:       p.GroupID,
		Content:       p.Content,
		MediaURLs:     p.MediaURLs,
		State:         string(p.State),
		PublishDate:   p.PublishDate,
		ReleaseURL:    p.ReleaseURL,
		Error:         p.Error,
	}
}

// handleCreatePosts schedules one post per target integration. All copies
// share a group id; each gets its own publish job delayed until the publish
// date. The job id is the post id so deleting the post can cancel the job.
func (s *Server) handleCreatePosts(c *gin.Context) {
	var req createPostsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	state := models.PostStateQueued
	if req.Draft {
		state = models.PostStateDraft
	}

	groupID := uuid.NewString()
	created := make([]postResponse, 0, len(req.Integrations))
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

		post := &models.Post{
			OrganizationID: org.ID,
			IntegrationID:  integrationID,
			GroupID:        groupID,
			Content:        req.Content,
			MediaURLs:      req.MediaURLs,
			State:          state,
			PublishDate:    req.PublishDate,
		}
		if err := s.posts.Create(ctx, post); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create post"})
			return
		}

		if state == models.PostStateQueued {
			delay := time.Until(req.PublishDate)
			if delay < 0 {
				delay = 0
			}
			_, err := s.queue.Emit(ctx, jobs.QueuePosts, jobs.PublishPayload{PostID: post.ID}, &queue.JobOptions{
				ID:    post.ID,
				Delay: delay,
			})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue publish job"})
				return
			}
		}
		created = append(created, toPostResponse(post))
	}

	c.JSON(http.StatusCreated, gin.H{"group_id": groupID, "posts": created})
}

func (s *Server) handleListPosts(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	posts, err := s.posts.ListByOrg(c.Request.Context(), org.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list posts"})
		return
	}

	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"posts": out})
}

func (s *Server) handleGetPost(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	post, err := s.posts.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post"})
		return
	}
	if post == nil || post.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, toPostResponse(post))
}

// handleDeletePost removes the post and cancels its pending publish job.
// Published posts stay deleted locally; the provider-side content is not
// touched.
func (s *Server) handleDeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	org := middleware.CurrentOrganization(c)

	post, err := s.posts.GetByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post"})
		return
	}
	if post == nil || post.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	if post.State == models.PostStateQueued {
		if err := s.queue.Delete(ctx, jobs.QueuePosts, post.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel publish job"})
			return
		}
	}
	if err := s.posts.Delete(ctx, post.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete post"})
		return
	}
	c.Status(http.StatusNoContent)
}
