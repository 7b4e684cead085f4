package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleListSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sources.All())
}

func (s *Server) handleSourceStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"stats":     s.sources.Stats(),
		"last_sync": s.sources.LastSync(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	snap := s.metrics.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"metrics":         snap,
		"recommendations": snap.Recommendations(),
	})
}

func (s *Server) knownSource(id string) bool {
	for _, info := range s.sources.All() {
		if info.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handleToggleSource(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "enabled is required"})
	}
	id := c.Param("id")
	if err := s.sources.Toggle(id, *req.Enabled); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

// handleSyncSource syncs one source inline. A failed sync still returns the
// report so the caller can see what the source said.
func (s *Server) handleSyncSource(c echo.Context) error {
	id := c.Param("id")
	if !s.knownSource(id) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown source"})
	}
	report, err := s.sources.SyncSource(c.Request().Context(), id)
	if err != nil {
		s.logger.Warn("source sync failed", zap.String("source", id), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":  "source sync failed",
			"report": report,
		})
	}
	return c.JSON(http.StatusOK, report)
}

// handleSyncAll starts a background sync of every enabled source. Only one
// job runs at a time.
func (s *Server) handleSyncAll(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "A sync job is already running",
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from the request but keeps its values.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), s.jobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		reports, err := s.sources.SyncAll(jobCtx)

		saved, failed := 0, []string{}
		for _, r := range reports {
			saved += r.Saved
			if !r.Success {
				failed = append(failed, r.Source)
			}
		}

		s.jobMu.Lock()
		job.EndedAt = time.Now()
		job.Result = map[string]any{
			"sources":        len(reports),
			"grants_saved":   saved,
			"failed_sources": failed,
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
		} else {
			job.Status = "completed"
		}
		s.jobMu.Unlock()

		if err != nil {
			s.logger.Warn("sync job finished with errors", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		s.logger.Info("sync job completed", zap.String("job_id", jobID), zap.Int("grants_saved", saved))
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "Sync job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSetUpstreamToken(c echo.Context) error {
	if s.tokens == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "upstream token is set in configuration"})
	}
	var req tokenRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}
	if err := s.tokens.Set(req.Token); err != nil {
		return s.fail(c, err)
	}
	s.grants.ClearCache()
	s.logger.Info("upstream token updated")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearUpstreamToken(c echo.Context) error {
	if s.tokens == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "upstream token is set in configuration"})
	}
	if err := s.tokens.Clear(); err != nil {
		return s.fail(c, err)
	}
	s.grants.ClearCache()
	s.logger.Info("upstream token cleared")
	return c.NoContent(http.StatusNoContent)
}
