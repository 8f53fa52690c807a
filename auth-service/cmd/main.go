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

	authcmd "github.com/Venomous0511/JeepEZ/auth-service/internal/command"
	"github.com/Venomous0511/JeepEZ/auth-service/internal/config"
	"github.com/Venomous0511/JeepEZ/auth-service/internal/handler"
	authqry "github.com/Venomous0511/JeepEZ/auth-service/internal/query"
	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/db"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/logger"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	sharedredis "github.com/Venomous0511/JeepEZ/shared/redis"
	"github.com/Venomous0511/JeepEZ/shared/telemetry"
)

const shutdownTimeout = 15 * time.Second

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, "auth-service", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	// Database connection (users table read-only, credentials table owned)
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		return err
	}

	redis, err := sharedredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	// --- CQRS wiring ---
	userRepo := repository.NewUserRepository(conn)
	credentialRepo := repository.NewCredentialRepository(conn)
	commandSvc := authcmd.NewCredentialCommandService(credentialRepo, log)
	querySvc := authqry.NewAuthQueryService(userRepo, credentialRepo, []byte(cfg.JWTSecret), cfg.TokenTTL, cfg.OperatorEmails)

	authHandler := handler.NewAuthHandler(querySvc, log)
	credentialHandler := handler.NewCredentialHandler(commandSvc, querySvc, log)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))

	v1 := router.Group("/v1/auth")
	{
		v1.POST("/login", authHandler.Login)
		v1.POST("/refresh", authHandler.RefreshToken)
	}

	internal := router.Group("/internal/credentials", middleware.InternalAuth(cfg.InternalToken))
	{
		internal.POST("", credentialHandler.Issue)
		internal.GET("/:userId", credentialHandler.Get)
		internal.DELETE("/:userId", credentialHandler.Delete)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Profile events keep credentials in step with profiles
	subscriber := events.NewSubscriber(redis.Client, events.SubscriberConfig{
		Group:    "auth-service-credentials",
		Consumer: cfg.ConsumerName,
		Stream:   events.ProfileEventsStream,
		Handler:  commandSvc.HandleProfileEvent,
		Logger:   log,
	})
	subErr := make(chan error, 1)
	go func() {
		subErr <- subscriber.Start(ctx)
	}()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("auth service starting", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	case err := <-subErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("profile event subscriber: %w", err)
		}
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
	log := logger.Init("auth-service", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("auth service terminated with error", "error", err)
		os.Exit(1)
	}
}
