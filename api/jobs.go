package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/run"
	"github.com/threadpass/pipeline/pkg/source"
)

type submitJobRequest struct {
	Kind      string              `json:"kind" binding:"required"`
	Source    string              `json:"source"`
	SourceRef string              `json:"source_ref"`
	Rows      []map[string]string `json:"rows"`
}

type rowFailureResponse struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Warning bool   `json:"warning,omitempty"`
}

func failureResponses(failures []core.RowFailure) []rowFailureResponse {
	out := make([]rowFailureResponse, len(failures))
	for i, f := range failures {
		out[i] = rowFailureResponse{
			Row:     f.RowIndex,
			Column:  f.Column,
			Message: f.Message,
			Kind:    string(f.Kind),
			Warning: f.Warning,
		}
	}
	return out
}

func (s *Server) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actingSource := core.SourceManual
	if req.Source != "" {
		actingSource = core.Source(req.Source)
	}

	sub := run.SubmitRequest{
		BrandID:      c.Param("brandID"),
		Kind:         core.JobKind(req.Kind),
		ActingSource: actingSource,
		SourceRef:    req.SourceRef,
	}

	var capture *source.Capture
	switch sub.Kind {
	case core.KindImport:
		sub.Rows = source.FromRows(req.Rows)
	case core.KindExport:
		capture = &source.Capture{}
		sub.Sink = capture
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be import or export"})
		return
	}

	job, err := s.orch.Submit(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}
	if capture != nil {
		s.mu.Lock()
		s.exports[job.ID] = capture
		s.mu.Unlock()
	}

	c.JSON(http.StatusAccepted, core.Snapshot(job))
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.orch.ListJobs(c.Request.Context(), c.Param("brandID"), 100)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]core.StatusEvent, len(jobs))
	for i, j := range jobs {
		out[i] = core.Snapshot(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) jobStatus(c *gin.Context) {
	job, failures, err := s.orch.Status(c.Request.Context(), c.Param("brandID"), c.Param("jobID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":      core.Snapshot(job),
		"failures": failureResponses(failures),
	})
}

func (s *Server) approveJob(c *gin.Context) {
	if err := s.orch.Approve(c.Request.Context(), c.Param("brandID"), c.Param("jobID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (s *Server) cancelJob(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("brandID"), c.Param("jobID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// streamJob serves job progress as server-sent events. The observer is
// attached before the initial snapshot is read, so no event between the
// two can be missed; a terminal event ends the stream.
func (s *Server) streamJob(c *gin.Context) {
	brandID := c.Param("brandID")
	jobID := c.Param("jobID")

	obs, _ := s.orch.Hub().Attach(jobID)
	defer s.orch.Hub().Detach(obs)

	job, _, err := s.orch.Status(c.Request.Context(), brandID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	initial := core.Snapshot(job)
	c.SSEvent("status", initial)
	c.Writer.Flush()
	if initial.Terminal() {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-obs.Events():
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return !ev.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type exportRowResponse struct {
	Index  int               `json:"index"`
	Fields map[string]string `json:"fields"`
}

// downloadExport returns the captured rows of a completed export job.
func (s *Server) downloadExport(c *gin.Context) {
	job, _, err := s.orch.Status(c.Request.Context(), c.Param("brandID"), c.Param("jobID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if job.Kind != core.KindExport {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an export job"})
		return
	}
	if job.Status != core.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "export not finished", "status": job.Status})
		return
	}

	s.mu.Lock()
	capture := s.exports[job.ID]
	s.mu.Unlock()
	if capture == nil {
		c.JSON(http.StatusGone, gin.H{"error": "export result no longer available; run the export again"})
		return
	}

	captured := capture.Snapshot()
	rows := make([]exportRowResponse, len(captured))
	for i, row := range captured {
		rows[i] = exportRowResponse{Index: row.Index, Fields: row.Fields}
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "rows": rows})
}

type promoteRequest struct {
	NewPrimary string `json:"new_primary" binding:"required"`
}

// promote submits a promotion job making the named integration the
// brand's primary source.
func (s *Server) promote(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newPrimary := core.Source(req.NewPrimary)
	if _, ok := newPrimary.Integration(); !ok {
		newPrimary = core.IntegrationSource(req.NewPrimary)
	}

	job, err := s.orch.Submit(c.Request.Context(), run.SubmitRequest{
		BrandID:    c.Param("brandID"),
		Kind:       core.KindPromotion,
		NewPrimary: newPrimary,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, core.Snapshot(job))
}
