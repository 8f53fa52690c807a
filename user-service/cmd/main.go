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

	"github.com/Venomous0511/JeepEZ/shared/db"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/logger"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	sharedredis "github.com/Venomous0511/JeepEZ/shared/redis"
	"github.com/Venomous0511/JeepEZ/shared/telemetry"
	usercmd "github.com/Venomous0511/JeepEZ/user-service/internal/command"
	"github.com/Venomous0511/JeepEZ/user-service/internal/config"
	"github.com/Venomous0511/JeepEZ/user-service/internal/credentials"
	"github.com/Venomous0511/JeepEZ/user-service/internal/handler"
	userqry "github.com/Venomous0511/JeepEZ/user-service/internal/query"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
	"github.com/Venomous0511/JeepEZ/user-service/internal/repository"
)

const shutdownTimeout = 15 * time.Second

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, "user-service", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	// Database connection (write store, task table, audit log)
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		return err
	}

	// Redis connection (read model, event streaming, identity locks)
	redis, err := sharedredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	publisher := events.NewPublisher(redis.Client)
	writeRepo := repository.NewUserWriteRepository(conn)
	readRepo := repository.NewUserReadRepository(conn, redis.Client)

	reconciler, err := reconcile.New(reconcile.Dependencies{
		Tasks:       repository.NewTaskRepository(conn),
		Audit:       repository.NewAuditRepository(conn),
		Credentials: credentials.NewClient(cfg.AuthServiceURL, cfg.InternalToken, cfg.CredentialTimeout),
		Profiles:    writeRepo,
		Publisher:   publisher,
		Locker: reconcile.ChainLocker{
			reconcile.NewKeyedMutex(),
			sharedredis.NewIdentityLocker(redis.Client, cfg.LockTTL),
		},
		Logger: log,
	}, cfg.Policy())
	if err != nil {
		return err
	}
	if err := reconciler.Start(ctx); err != nil {
		return err
	}
	defer reconciler.Stop()

	// --- CQRS wiring ---
	commandSvc := usercmd.NewUserCommandService(writeRepo, readRepo, publisher, reconciler, cfg.BcryptCost, log)
	querySvc := userqry.NewUserQueryService(readRepo, reconciler)

	userHandler := handler.NewUserHandler(commandSvc, querySvc)
	reconciliationHandler := handler.NewReconciliationHandler(commandSvc, querySvc)

	secret := []byte(cfg.JWTSecret)
	operatorOnly := []gin.HandlerFunc{middleware.AuthMiddleware(secret), middleware.RequireRole(middleware.RoleOperator)}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))

	users := router.Group("/users")
	{
		users.GET("", userHandler.ListUsers)
		users.POST("", userHandler.CreateUser)
		users.POST("/change-password", userHandler.ChangePassword)
		users.DELETE("/:userId", middleware.AuthMiddleware(secret), userHandler.DeleteUser)
		users.POST("/:userId/restore", append(operatorOnly, userHandler.RestoreUser)...)
	}

	admin := router.Group("/admin/reconciliation", operatorOnly...)
	{
		admin.GET("/failed", reconciliationHandler.ListFailed)
		admin.POST("/tasks/:taskId/retry", reconciliationHandler.Retry)
		admin.GET("/audit/:identity", reconciliationHandler.AuditTrail)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Profile events drive credential reconciliation
	subscriber := events.NewSubscriber(redis.Client, events.SubscriberConfig{
		Group:    "user-service-reconciler",
		Consumer: cfg.ConsumerName,
		Stream:   events.ProfileEventsStream,
		Handler:  reconciler.HandleEvent,
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
		log.Info("user service starting", "port", cfg.Port)
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
	log := logger.Init("user-service", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("user service terminated with error", "error", err)
		os.Exit(1)
	}
}
