package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agent-mesh/src/core/config"
	"agent-mesh/src/core/database"
	"agent-mesh/src/core/logger"
)

// Server represents the registry HTTP server
type Server struct {
	engine        *gin.Engine
	service       *Service
	config        *config.Config
	logger        *logger.Logger
	healthMonitor *HealthMonitor
	startTime     time.Time
	httpServer    *http.Server
}

// NewServer creates a new registry server wired to the given database.
func NewServer(db *database.Database, cfg *config.Config, log *logger.Logger) *Server {
	registryConfig := &RegistryConfig{
		DefaultTimeoutThreshold:  cfg.DefaultTimeoutThreshold,
		DefaultEvictionThreshold: cfg.DefaultEvictionThreshold,
		HealthCheckInterval:      cfg.HealthCheckInterval,
		RequestTimeout:           cfg.RequestTimeout,
	}

	service := NewService(db, registryConfig, log)
	healthMonitor := NewHealthMonitor(service, registryConfig, log)

	log.SetGinMode()
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.IsDebugMode() {
		engine.Use(gin.Logger())
	}

	server := &Server{
		engine:        engine,
		service:       service,
		config:        cfg,
		logger:        log,
		healthMonitor: healthMonitor,
		startTime:     time.Now().UTC(),
	}

	if cfg.EnableCORS {
		engine.Use(server.corsMiddleware())
	}

	server.setupRoutes()
	return server
}

// Engine returns the gin engine for httptest-style drivers.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)

	s.engine.POST("/agents/register", s.handleRegisterAgent)
	s.engine.POST("/heartbeat", s.handleHeartbeat)
	s.engine.GET("/agents", s.handleListAgents)
	s.engine.GET("/agents/:id", s.handleGetAgent)
	s.engine.DELETE("/agents/:id", s.handleUnregisterAgent)
	s.engine.GET("/capabilities", s.handleSearchCapabilities)
	s.engine.GET("/events", s.handleListEvents)
}

// Run starts the health monitor and serves HTTP until Stop is called.
func (s *Server) Run(addr string) error {
	s.healthMonitor.Start()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	s.logger.Info("Registry server listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and stops the health monitor.
func (s *Server) Stop(ctx context.Context) error {
	s.healthMonitor.Stop()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// corsMiddleware applies the configured CORS policy. Kept deliberately
// simple; the registry sits behind trusted infrastructure in most
// deployments.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowedOrigins := strings.Join(s.config.AllowedOrigins, ", ")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
