// internal/interfaces/http/server.go
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-cart/internal/interfaces/http/routes"
	"gorm.io/gorm"
)

// Server represents the HTTP server
type Server struct {
	deps       routes.Dependencies
	db         *gorm.DB
	gin        *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
	log        logrus.FieldLogger
}

// NewServer creates a new HTTP server instance with its routes mounted
func NewServer(deps routes.Dependencies, db *gorm.DB) *Server {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		deps:      deps,
		db:        db,
		gin:       gin.New(),
		startedAt: time.Now(),
		log:       deps.Log.WithField("component", "http"),
	}
	// item keys may contain escaped slashes
	s.gin.UseRawPath = true

	if err := s.gin.SetTrustedProxies(deps.Config.Security.TrustedProxies); err != nil {
		s.log.WithError(err).Warn("Invalid trusted proxies, trusting none")
		_ = s.gin.SetTrustedProxies(nil)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start starts the HTTP server
func (s *Server) Start() error {
	cfg := s.deps.Config.Server
	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.gin,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.log.WithField("port", cfg.Port).Info("HTTP server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.log.Info("HTTP server stopped gracefully")
	return nil
}

func (s *Server) setupMiddleware() {
	s.gin.Use(gin.Recovery())
	s.gin.Use(middleware.RequestID())
	s.gin.Use(middleware.Logger(s.deps.Log))
	s.gin.Use(middleware.CORS(s.deps.Config.Security))
	s.gin.Use(middleware.SecurityHeaders())
	s.gin.Use(middleware.Timeout(s.deps.Config.Cart.RequestTimeout))
}

func (s *Server) setupRoutes() {
	s.gin.GET("/health", s.healthCheck)
	s.gin.GET("/ready", s.readinessCheck)

	routes.SetupRoutes(s.gin.Group("/api/v1"), s.deps)
}

// healthCheck reports database and Redis reachability
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database ping failed",
			})
			return
		}
	}

	if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "redis ping failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"version":     s.deps.Config.App.Version,
		"environment": s.deps.Config.App.Environment,
	})
}

func (s *Server) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}
