package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/finflow-labs/sentinel/internal/config"
	"github.com/finflow-labs/sentinel/internal/handler"
	"github.com/finflow-labs/sentinel/internal/middleware"
	"github.com/finflow-labs/sentinel/internal/monitor"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/proxy"
	"github.com/finflow-labs/sentinel/internal/ratelimit"
	"github.com/finflow-labs/sentinel/internal/repository"
	"github.com/finflow-labs/sentinel/internal/service"
	"github.com/finflow-labs/sentinel/internal/storage"
	"github.com/finflow-labs/sentinel/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries the wired collaborators. Redis and Postgres may be nil
// (memory store, or a deployment without the admin surface); everything
// downstream is built to tolerate that.
type Deps struct {
	Config    *config.Config
	Store     ratelimit.CounterStore
	Redis     *storage.RedisClient
	Postgres  *storage.Postgres
	Publisher *stream.Publisher
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	limiter    *ratelimit.Limiter
	mon        *monitor.Monitor
	backend    *proxy.Proxy
	httpServer *http.Server
}

func New(deps Deps) (*Server, error) {
	cfg := deps.Config

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry, err := policy.NewRegistry(cfg.Limits.Overrides)
	if err != nil {
		return nil, err
	}

	blocks := ratelimit.NewBlockStore(deps.Store)
	limiter := ratelimit.NewLimiter(registry, deps.Store, blocks)
	limiter.ViolationThreshold = cfg.Monitor.ViolationThreshold

	var authService *service.AuthService
	var apiKeyService *service.APIKeyService
	var auditRepo *repository.AuditRepository
	if deps.Postgres != nil {
		authService = service.NewAuthService(repository.NewAuthRepository(deps.Postgres), cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)
		auditRepo = repository.NewAuditRepository(deps.Postgres)
		if deps.Redis != nil {
			apiKeyService = service.NewAPIKeyService(repository.NewAPIKeyRepository(deps.Postgres), deps.Redis)
		}
	}

	channels := []monitor.Channel{monitor.LogChannel{}}
	if cfg.Monitor.SlackWebhookURL != "" {
		channels = append(channels, monitor.NewSlackChannel(cfg.Monitor.SlackWebhookURL))
	}
	if cfg.Monitor.AlertWebhookURL != "" {
		channels = append(channels, monitor.NewWebhookChannel(cfg.Monitor.AlertWebhookURL))
	}
	if cfg.Monitor.AlertEmail != "" {
		channels = append(channels, monitor.EmailChannel{To: cfg.Monitor.AlertEmail})
	}
	if auditRepo != nil {
		channels = append(channels, auditRepo)
	}
	if deps.Publisher != nil {
		channels = append(channels, stream.NewChannel(deps.Publisher))
	}

	retention := time.Duration(cfg.Monitor.AlertRetentionHours) * time.Hour
	alerts := monitor.NewAlertManager(channels, retention)
	mon := monitor.New(cfg.Monitor, alerts, blocks)

	var auditSink middleware.AuditSink
	if auditRepo != nil {
		auditSink = auditRepo
	}
	pipeline, err := middleware.NewPipeline(limiter, mon, deps.Publisher, auditSink, cfg.Limits)
	if err != nil {
		return nil, err
	}

	var backend *proxy.Proxy
	if cfg.Backend.Target != "" {
		backend, err = proxy.New(cfg.Backend.Target)
		if err != nil {
			return nil, err
		}
	}

	router := gin.New()

	s := &Server{
		router:  router,
		config:  cfg,
		deps:    deps,
		limiter: limiter,
		mon:     mon,
		backend: backend,
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())
	router.Use(middleware.Identity(authService, apiKeyService))
	router.Use(pipeline.Handler())

	s.setupRoutes(authService, apiKeyService, auditRepo, blocks)

	return s, nil
}

func (s *Server) setupRoutes(authService *service.AuthService, apiKeyService *service.APIKeyService, auditRepo *repository.AuditRepository, blocks *ratelimit.BlockStore) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if authService != nil {
		authHandler := handler.NewAuthHandler(authService)
		s.router.POST("/admin/login", authHandler.Login)

		admin := s.router.Group("/admin")
		admin.Use(middleware.RequireAdmin(authService))
		{
			admin.POST("/register", authHandler.Register)

			adminHandler := handler.NewAdminHandler(blocks, s.mon, auditRepo)
			admin.GET("/blocks/:type/:identifier", adminHandler.GetBlock)
			admin.DELETE("/blocks/:type/:identifier", adminHandler.RemoveBlock)
			admin.GET("/alerts", adminHandler.ListAlerts)
			admin.POST("/alerts/:id/resolve", adminHandler.ResolveAlert)
			admin.GET("/audit", adminHandler.AuditTrail)
			admin.GET("/status", s.adminStatus)

			if apiKeyService != nil {
				apiKeyHandler := handler.NewAPIKeyHandler(apiKeyService)
				admin.POST("/keys", apiKeyHandler.Create)
				admin.GET("/keys", apiKeyHandler.List)
				admin.GET("/keys/:id", apiKeyHandler.Get)
				admin.PATCH("/keys/:id", apiKeyHandler.Update)
				admin.DELETE("/keys/:id", apiKeyHandler.Delete)
			}
		}
	}

	if s.backend != nil {
		s.router.NoRoute(func(c *gin.Context) {
			s.backend.Handle(c)
		})
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
	}

	dbHealthy := true
	if s.deps.Postgres != nil {
		if err := s.deps.Postgres.Ping(c.Request.Context()); err != nil {
			dbHealthy = false
			log.Printf("Database health check failed: %v", err)
		}
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "sentinel",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":        "running",
		"store":         s.config.Store,
		"active_alerts": len(s.mon.Alerts().Active()),
		"uptime":        time.Since(startTime).Seconds(),
		"timestamp":     time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting sentinel on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
