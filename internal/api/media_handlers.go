package api

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/publora/publora/internal/middleware"
)

// maxMediaSize bounds a single upload
const maxMediaSize = 32 << 20

var allowedMediaExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true,
}

// handleUploadMedia stores an uploaded file under the organization's prefix
// and returns the URL to reference from post media.
func (s *Server) handleUploadMedia(c *gin.Context) {
	org := middleware.CurrentOrganization(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	if header.Size > maxMediaSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedMediaExt[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type " + ext})
		return
	}

	ctx := c.Request.Context()
	path := org.ID + "/" + uuid.NewString() + ext

	result, err := s.store.Upload(ctx, path, file, header.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	url, err := s.store.GetURL(ctx, result.Path, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build file url"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"path":     result.Path,
		"url":      url,
		"size":     result.Size,
		"checksum": result.Checksum,
	})
}
