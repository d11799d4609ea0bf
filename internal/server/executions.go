package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runhawk/engine/pkg/api"
)

// startExecution queues a run of the named runbook. The response is
// returned before the first step executes; progress streams over the
// WebSocket feed and the execution endpoints
func (s *Server) startExecution(c *gin.Context) {
	var req api.StartExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.RunbookID == "" {
		badRequest(c, fmt.Errorf("%w: runbook_id", api.ErrMissingParam))
		return
	}

	ex, err := s.engine.StartExecution(
		c.Request.Context(), req.RunbookID, &req,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, api.StartExecutionResult{
		ExecutionID: ex.ID,
		Status:      ex.Status,
	})
}

// listExecutions returns executions, optionally filtered by the
// runbook_id query parameter
func (s *Server) listExecutions(c *gin.Context) {
	runbookID := api.RunbookID(c.Query("runbook_id"))

	executions, err := s.store.ListExecutions(c.Request.Context(), runbookID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ExecutionListResponse{
		Executions: executions,
		Count:      len(executions),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))

	ex, err := s.store.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ex)
}

func (s *Server) cancelExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))

	var req api.CancelExecutionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	ex, err := s.engine.CancelExecution(
		c.Request.Context(), id, req.CancelledBy,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ex)
}

func (s *Server) listExecutionSteps(c *gin.Context) {
	ctx := c.Request.Context()
	id := api.ExecutionID(c.Param("executionID"))

	if _, err := s.store.GetExecution(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	steps, err := s.store.ListStepResults(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.StepResultListResponse{
		Steps: steps,
		Count: len(steps),
	})
}

func (s *Server) listExecutionLogs(c *gin.Context) {
	ctx := c.Request.Context()
	id := api.ExecutionID(c.Param("executionID"))

	if _, err := s.store.GetExecution(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	logs, err := s.store.ListLogs(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.LogListResponse{
		Logs:  logs,
		Count: len(logs),
	})
}
