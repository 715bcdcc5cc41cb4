// Package api serves the queue engine over HTTP/JSON.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/refset/supportqueue/internal/queue"
)

type Server struct {
	engine  *queue.Engine
	logger  *slog.Logger
	metrics http.Handler
}

// NewServer wires the engine into a router. metrics may be nil, in which
// case /metrics is not registered.
func NewServer(engine *queue.Engine, logger *slog.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{engine: engine, logger: logger, metrics: metrics}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := router.Group("/api")
	api.GET("/board", s.handleBoard)

	api.POST("/teams", s.handleAddTeam)
	api.GET("/teams/:id", s.handleGetTeam)
	api.PATCH("/teams/:id", s.handleRenameTeam)
	api.PUT("/teams/:id/allowance", s.handleSetAllowance)
	api.DELETE("/teams/:id", s.handleDeleteTeam)
	api.POST("/participants", s.handleAddParticipant)
	api.DELETE("/participants/:id", s.handleDeleteParticipant)

	api.POST("/tickets", s.handleCreateTicket)
	api.PATCH("/tickets/:id", s.handleEditTopic)
	api.DELETE("/tickets/:id", s.handleDeleteTicket)
	api.POST("/tickets/:id/relocate", s.handleRelocate)

	api.POST("/terminals", s.handleAddTerminal)
	api.PATCH("/terminals/:id", s.handleRenameTerminal)
	api.DELETE("/terminals/:id", s.handleDeleteTerminal)
	api.POST("/terminals/:id/toggle", s.handleToggle)
	api.POST("/terminals/:id/call-next", s.handleCallNext)
	api.POST("/terminals/:id/start", s.handleStart)
	api.POST("/terminals/:id/end", s.handleEnd)

	return router
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
