package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runhawk/engine/pkg/api"
)

func (s *Server) getApproval(c *gin.Context) {
	id := api.ApprovalID(c.Param("approvalID"))

	a, err := s.store.GetApproval(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

func (s *Server) approveStep(c *gin.Context) {
	id := api.ApprovalID(c.Param("approvalID"))

	req, ok := bindDecision(c)
	if !ok {
		return
	}

	a, err := s.engine.Approve(
		c.Request.Context(), id, req.ApproverID, req.Note,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

func (s *Server) rejectStep(c *gin.Context) {
	id := api.ApprovalID(c.Param("approvalID"))

	req, ok := bindDecision(c)
	if !ok {
		return
	}

	a, err := s.engine.Reject(
		c.Request.Context(), id, req.ApproverID, req.Note,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

func bindDecision(c *gin.Context) (*api.ApprovalDecisionRequest, bool) {
	var req api.ApprovalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("invalid request body: %w", err))
		return nil, false
	}
	if req.ApproverID == "" {
		badRequest(c, fmt.Errorf("%w: approver_id", api.ErrMissingParam))
		return nil, false
	}
	return &req, true
}
