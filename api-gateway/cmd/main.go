package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Venomous0511/JeepEZ/api-gateway/internal/config"
	"github.com/Venomous0511/JeepEZ/api-gateway/internal/proxy"
	"github.com/Venomous0511/JeepEZ/shared/logger"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newRouter(cfg *config.Config, log *slog.Logger) *gin.Engine {
	p := proxy.New(cfg.UpstreamTimeout, log)
	authenticated := middleware.AuthMiddleware([]byte(cfg.JWTSecret))
	toAuth := p.To(cfg.AuthServiceURL)
	toUsers := p.To(cfg.UserServiceURL)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})

	// Auth routes (no authentication required)
	router.POST("/v1/auth/login", toAuth)
	router.POST("/v1/auth/refresh", toAuth)

	// User routes
	router.GET("/users", toUsers)
	router.POST("/users", toUsers) // No auth for registration
	router.POST("/users/change-password", toUsers)
	router.DELETE("/users/:userId", authenticated, toUsers)
	router.POST("/users/:userId/restore", authenticated, toUsers)

	// Operator routes; user-service enforces the role
	admin := router.Group("/admin/reconciliation", authenticated)
	{
		admin.GET("/failed", toUsers)
		admin.POST("/tasks/:taskId/retry", toUsers)
		admin.GET("/audit/:identity", toUsers)
	}

	return router
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, "api-gateway", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("API gateway starting", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init("api-gateway", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("API gateway terminated with error", "error", err)
		os.Exit(1)
	}
}
