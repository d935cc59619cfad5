package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadpass/pipeline/pkg/core"
)

// emitProgress lets a sibling service inject a status event into the
// progress channel, for deployments where another process drives part of
// a job's lifecycle.
func (s *Server) emitProgress(c *gin.Context) {
	var ev core.StatusEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	s.orch.Hub().Publish(ev.JobID, ev)
	c.JSON(http.StatusOK, gin.H{
		"status":      "published",
		"connections": s.orch.Hub().Connections(ev.JobID),
	})
}

type cleanupRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

// cleanupJob forcibly detaches every observer of a job.
func (s *Server) cleanupJob(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.orch.Hub().Cleanup(req.JobID)
	c.JSON(http.StatusOK, gin.H{"status": "cleaned"})
}
