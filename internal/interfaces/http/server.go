// Package http is the HTTP adapter: it translates requests into workflow
// controller calls and controller errors into status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/repository"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter.
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates the HTTP server with its middleware chain and routes.
func NewServer(
	config ServerConfig,
	handlers *Handlers,
	users *repository.UserRepository,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())

	server := &Server{
		config: config,
		router: router,
		logger: logger,
	}
	server.setupRoutes(handlers, users)
	return server
}

func (s *Server) setupRoutes(handlers *Handlers, users *repository.UserRepository) {
	s.router.GET("/health", handlers.HealthCheck)
	s.router.POST("/api/v1/auth/signup", handlers.Signup)

	api := s.router.Group("/api/v1")
	api.Use(identityMiddleware(users, s.logger))

	approvals := api.Group("/approvals")
	approvals.Use(requireApprover())
	{
		approvals.GET("/pending", handlers.ListPending)
		approvals.GET("/history", handlers.ListHistory)
		approvals.GET("/stats", handlers.GetStats)
		approvals.GET("/stats/export", handlers.ExportStats)
		approvals.PUT("/bulk", handlers.HandleBulkAction)
		approvals.PUT("/:expenseId", handlers.HandleAction)
	}

	expenses := api.Group("/expenses")
	{
		expenses.POST("", handlers.CreateExpense)
		expenses.GET("/:id", handlers.GetExpense)
		expenses.POST("/:id/submit", handlers.SubmitExpense)
		expenses.POST("/:id/cancel", handlers.CancelExpense)
		expenses.DELETE("/:id", handlers.DeleteExpense)
	}

	rules := api.Group("/rules")
	rules.Use(requireApprover())
	{
		rules.GET("", handlers.ListRules)
		rules.GET("/:id", handlers.GetRule)
		rules.POST("", requireAdmin(), handlers.CreateRule)
	}

	api.POST("/users", requireAdmin(), handlers.CreateUser)
	api.GET("/notifications", handlers.ListNotifications)
	api.PUT("/notifications/:id/read", handlers.MarkNotificationRead)
}

// Start runs the server until the context is cancelled or serving fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
