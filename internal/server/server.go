package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/runhawk/engine/internal/bus"
	"github.com/runhawk/engine/internal/engine"
	"github.com/runhawk/engine/internal/loader"
	"github.com/runhawk/engine/internal/store"
	"github.com/runhawk/engine/internal/util"
	"github.com/runhawk/engine/pkg/api"
)

// Server implements the HTTP API for the runbook engine
type Server struct {
	engine  *engine.Engine
	store   store.Store
	bus     *bus.Bus
	sockets util.Set[*Client]
	mu      sync.Mutex
}

var ErrBodyRequired = errors.New("request body required")

// NewServer creates an HTTP API server over the engine and its store
func NewServer(eng *engine.Engine, st store.Store, b *bus.Bus) *Server {
	return &Server{
		engine:  eng,
		store:   st,
		bus:     b,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Engine endpoints
	eng := router.Group("/engine")
	{
		// Runbook endpoints
		eng.GET("/runbook", s.listRunbooks)
		eng.POST("/runbook", s.createRunbook)
		eng.GET("/runbook/:runbookID", s.getRunbook)
		eng.PUT("/runbook/:runbookID", s.updateRunbook)

		// Execution endpoints
		eng.GET("/execution", s.listExecutions)
		eng.POST("/execution", s.startExecution)
		eng.GET("/execution/:executionID", s.getExecution)
		eng.POST("/execution/:executionID/cancel", s.cancelExecution)
		eng.GET("/execution/:executionID/steps", s.listExecutionSteps)
		eng.GET("/execution/:executionID/logs", s.listExecutionLogs)

		// Approval endpoints
		eng.GET("/approval/:approvalID", s.getApproval)
		eng.POST("/approval/:approvalID/approve", s.approveStep)
		eng.POST("/approval/:approvalID/reject", s.rejectStep)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

// respondError maps domain errors to HTTP status codes and writes the
// standard error body
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrApprovalNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrApprovalProcessed),
		errors.Is(err, engine.ErrApprovalExpired),
		errors.Is(err, engine.ErrRunbookNotLatest),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrConcurrentUpdate):
		status = http.StatusConflict
	case errors.Is(err, api.ErrMissingParam),
		errors.Is(err, loader.ErrEmptyDocument),
		errors.Is(err, loader.ErrBadDocument),
		errors.Is(err, ErrBodyRequired):
		status = http.StatusBadRequest
	}
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusBadRequest,
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
