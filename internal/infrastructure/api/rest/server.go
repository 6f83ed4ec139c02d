// Package rest exposes the workflow API over HTTP.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	"github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/websocket"
	"github.com/smilemakc/flowforge/pkg/models"
)

// Config holds server settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Pinger is anything with a health check (redis, extra backends).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	store     repository.Store
	engine    *engine.Manager
	scheduler *schedule.Scheduler
	signals   *signal.Service
	hub       *websocket.Hub
	log       *logger.Logger
	cfg       Config
	extraPing []Pinger

	httpServer *http.Server
}

// NewServer wires the API server.
func NewServer(
	store repository.Store,
	eng *engine.Manager,
	scheduler *schedule.Scheduler,
	signals *signal.Service,
	hub *websocket.Hub,
	log *logger.Logger,
	cfg Config,
	extraPing ...Pinger,
) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:     store,
		engine:    eng,
		scheduler: scheduler,
		signals:   signals,
		hub:       hub,
		log:       log,
		cfg:       cfg,
		extraPing: extraPing,
	}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1")
	{
		workflows := api.Group("/workflows")
		{
			workflows.POST("", s.handleCreateWorkflow)
			workflows.GET("", s.handleListWorkflows)
			workflows.GET("/:workflow_id", s.handleGetWorkflow)
			workflows.PUT("/:workflow_id", s.handleUpdateWorkflow)
			workflows.DELETE("/:workflow_id", s.handleDeleteWorkflow)
			workflows.POST("/:workflow_id/executions", s.handleCreateExecution)
			workflows.GET("/:workflow_id/executions", s.handleListExecutions)
			workflows.GET("/:workflow_id/schedules", s.handleListSchedules)
			workflows.POST("/:workflow_id/schedules", s.handleCreateSchedule)
		}

		executions := api.Group("/executions")
		{
			executions.GET("/:execution_id", s.handleGetExecution)
			executions.GET("/:execution_id/logs", s.handleExecutionLogs)
			executions.GET("/:execution_id/timeline", s.handleExecutionTimeline)
			executions.GET("/:execution_id/events", s.handleExecutionEvents)
			executions.POST("/:execution_id/pause", s.handlePauseExecution)
			executions.POST("/:execution_id/resume", s.handleResumeExecution)
			executions.POST("/:execution_id/terminate", s.handleTerminateExecution)
			executions.POST("/:execution_id/replay", s.handleReplayExecution)
			executions.POST("/:execution_id/signals", s.handleEmitSignal)
		}

		schedules := api.Group("/schedules")
		{
			schedules.GET("/:schedule_id", s.handleGetSchedule)
			schedules.PUT("/:schedule_id", s.handleUpdateSchedule)
			schedules.DELETE("/:schedule_id", s.handleDeleteSchedule)
		}

		subscriptions := api.Group("/webhook-subscriptions")
		{
			subscriptions.POST("", s.handleCreateSubscription)
			subscriptions.GET("/:subscription_id", s.handleGetSubscription)
			subscriptions.PUT("/:subscription_id", s.handleUpdateSubscription)
			subscriptions.DELETE("/:subscription_id", s.handleDeleteSubscription)
		}
	}

	// Webhook ingress lives outside the versioned API group, addressed by
	// connector slug with the trigger id as a query parameter.
	router.POST("/:connector/webhook", s.handleWebhook)

	return router
}

// Start runs the HTTP server until the context ends.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
		return
	}
	for _, p := range s.extraPing {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependency": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrWorkflowNotFound),
		errors.Is(err, models.ErrExecutionNotFound),
		errors.Is(err, models.ErrScheduleNotFound),
		errors.Is(err, models.ErrSubscriptionNotFound),
		errors.Is(err, models.ErrSignalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidWorkflow),
		errors.Is(err, models.ErrInvalidNodeType),
		errors.Is(err, models.ErrCyclicGraph),
		errors.Is(err, models.ErrWorkflowInactive):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrExecutionTerminal):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidSignature):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
