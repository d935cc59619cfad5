package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadpass/pipeline/pkg/core"
)

type conflictResponse struct {
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Field        string    `json:"field"`
	Owner        string    `json:"owner"`
	ConflictWith string    `json:"conflict_with"`
	LastWritten  time.Time `json:"last_written_at"`
}

func (s *Server) listConflicts(c *gin.Context) {
	conflicts, err := s.orch.ListConflicts(c.Request.Context(), c.Param("brandID"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]conflictResponse, len(conflicts))
	for i, rec := range conflicts {
		out[i] = conflictResponse{
			EntityType:   rec.EntityType,
			EntityID:     rec.EntityID,
			Field:        rec.FieldName,
			Owner:        string(rec.Owner),
			ConflictWith: string(rec.ConflictWith),
			LastWritten:  rec.LastWrittenAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": out})
}

type resolveConflictRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	Field      string `json:"field" binding:"required"`
	Chosen     string `json:"chosen" binding:"required"`
}

func (s *Server) resolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.orch.ResolveConflict(c.Request.Context(), c.Param("brandID"),
		req.EntityType, req.EntityID, req.Field, core.Source(req.Chosen))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
