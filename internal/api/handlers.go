package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/techask2021/fsmvid-sub005/internal/job"
	"github.com/techask2021/fsmvid-sub005/internal/media"
	"github.com/techask2021/fsmvid-sub005/internal/orchestrator"
	"github.com/techask2021/fsmvid-sub005/internal/resolver"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

// Resolver resolves source URLs for the standalone resolve endpoint.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) ([]media.Option, error)
}

const userIDHeader = "X-User-ID"

type createJobRequest struct {
	URLs    []string `json:"urls" binding:"required"`
	Quality string   `json:"quality"`
	Format  string   `json:"format"`
}

type resolveRequest struct {
	URL string `json:"url" binding:"required"`
}

type jobResponse struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	TotalFiles     int             `json:"total_files"`
	CompletedFiles int             `json:"completed_files"`
	FailedFiles    int             `json:"failed_files"`
	FailedURLs     []job.FailedURL `json:"failed_urls,omitempty"`
	ZipURL         *string         `json:"zip_url,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toJobResponse(j *job.Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		Status:         string(j.Status),
		Progress:       j.Progress,
		TotalFiles:     j.TotalFiles,
		CompletedFiles: j.CompletedFiles,
		FailedFiles:    j.FailedFiles,
		FailedURLs:     j.FailedURLs,
		ZipURL:         j.ArchiveURL,
		ExpiresAt:      j.ArchiveExpiresAt,
		Error:          j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateJob(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userIDHeader + " header"})
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	j, err := s.submitter.Submit(c.Request.Context(), userID, req.URLs, req.Quality, req.Format)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		case errors.Is(err, orchestrator.ErrTooManyURLs),
			errors.Is(err, orchestrator.ErrUnsupportedURL),
			errors.Is(err, job.ErrNoURLs):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("job submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		}
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(j))
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		s.logger.Error("job lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch job"})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(j))
}

func (s *Server) handleGetCredits(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userIDHeader + " header"})
		return
	}

	balance, err := s.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
			return
		}
		s.logger.Error("balance lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "credits": balance})
}

func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	options, err := s.resolver.Resolve(c.Request.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, resolver.ErrUpstream):
			c.JSON(http.StatusBadGateway, gin.H{"error": "media extraction failed"})
		default:
			s.logger.Error("resolve failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": req.URL, "options": options})
}

// handleProxy streams a remote media file through the server. The proxy
// writes the response itself, headers and status included.
func (s *Server) handleProxy(c *gin.Context) {
	remoteURL := c.Query("url")
	if remoteURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url parameter"})
		return
	}

	s.proxy.Stream(c.Writer, c.Request, remoteURL)
}
