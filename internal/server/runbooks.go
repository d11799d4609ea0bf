package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runhawk/engine/internal/engine"
	"github.com/runhawk/engine/internal/loader"
	"github.com/runhawk/engine/pkg/api"
)

func (s *Server) listRunbooks(c *gin.Context) {
	runbooks, err := s.store.ListRunbooks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.RunbookListResponse{
		Runbooks: runbooks,
		Count:    len(runbooks),
	})
}

// createRunbook accepts a YAML or JSON runbook definition as the raw
// request body and stores it as version 1
func (s *Server) createRunbook(c *gin.Context) {
	rb, ok := s.parseRunbookBody(c)
	if !ok {
		return
	}

	if err := s.store.SaveRunbook(c.Request.Context(), rb); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rb)
}

func (s *Server) getRunbook(c *gin.Context) {
	id := api.RunbookID(c.Param("runbookID"))

	rb, err := s.store.GetRunbook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rb)
}

// updateRunbook forks a new version from the named runbook. The stored
// version is immutable; the update lands as a new row linked to its
// parent, and only the latest version of a lineage accepts updates
func (s *Server) updateRunbook(c *gin.Context) {
	ctx := c.Request.Context()
	id := api.RunbookID(c.Param("runbookID"))

	current, err := s.store.GetRunbook(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !current.IsLatest {
		respondError(c, fmt.Errorf(
			"%w: %s", engine.ErrRunbookNotLatest, id,
		))
		return
	}

	updated, ok := s.parseRunbookBody(c)
	if !ok {
		return
	}

	next := current.Fork(updated)
	if err := s.store.SaveRunbook(ctx, next); err != nil {
		respondError(c, err)
		return
	}

	current.IsLatest = false
	if err := s.store.SaveRunbook(ctx, current); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, next)
}

func (s *Server) parseRunbookBody(c *gin.Context) (*api.Runbook, bool) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	if len(body) == 0 {
		respondError(c, ErrBodyRequired)
		return nil, false
	}

	rb, err := loader.Parse(body)
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	return rb, true
}
