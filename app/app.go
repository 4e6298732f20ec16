// File: app/app.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go-task-api/config"
	"go-task-api/db"
	"go-task-api/handler"
	"go-task-api/logger"
	"go-task-api/ratelimit"
	"go-task-api/repository"
	"go-task-api/router"
	"go-task-api/service"

	"github.com/redis/go-redis/v9"
)

// App holds the wired application.
type App struct {
	DB     *sql.DB
	Redis  *redis.Client
	Limits *ratelimit.WindowStore
	Router http.Handler
}

// New wires repositories, services, handlers and the router.
// redisClient may be nil, which disables the task cache.
func New(cfg *config.Config, database *sql.DB, redisClient *redis.Client) *App {
	// Layers for users and tokens
	userRepo := repository.NewUserRepository(database)
	tokenRepo := repository.NewTokenRepository(database)
	refreshStore := service.NewRefreshTokenStore(tokenRepo, service.RefreshStoreConfig{
		TTL:        cfg.JWT.RefreshTTL,
		Retries:    cfg.Security.RotationRetries,
		RetryDelay: cfg.Security.RotationRetryDelay,
	})
	accessTokens := service.NewAccessTokenManager(cfg.JWT.SecretKey, cfg.JWT.AccessTTL)
	authService := service.NewAuthService(userRepo, refreshStore, accessTokens, service.NewBcryptHasher(cfg.Security.BcryptCost))
	userService := service.NewUserService(userRepo)

	// Layers for tasks
	var cache service.ICacheClient
	if redisClient != nil {
		cache = redisClient
	}
	taskService := service.NewTaskService(repository.NewTaskRepository(database), cache, cfg.Redis.CacheTTL)

	// Admission control
	limits := ratelimit.NewWindowStore(
		ratelimit.WithShards(cfg.RateLimit.Shards),
		ratelimit.WithRetention(cfg.RateLimit.Retention),
	)
	rules := ratelimit.NewRuleSet(ratelimit.Rule{Limit: cfg.RateLimit.DefaultLimit, Window: cfg.RateLimit.DefaultWindow})
	for _, rl := range cfg.RateLimit.Routes {
		rules.Set(rl.Method, rl.Route, ratelimit.Rule{Limit: rl.Limit, Window: rl.Window})
	}

	r := router.NewRouter(router.Deps{
		Auth:              handler.NewAuthHandler(authService),
		Tasks:             handler.NewTaskHandler(taskService),
		Users:             handler.NewUserHandler(userService),
		Tokens:            accessTokens,
		Guard:             ratelimit.NewGuard(limits),
		Rules:             rules,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	})

	return &App{DB: database, Redis: redisClient, Limits: limits, Router: r}
}

func Run() {
	logger.Init()
	config.LoadConfig(".")
	cfg := &config.AppConfig
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	logger.Log.Info("Configuration loaded successfully")

	database, err := db.Connect(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Error connecting to the database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.Database.MigrationsPath); err != nil {
		logger.Log.Fatalf("Error running migrations: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = db.ConnectRedis(cfg.Redis)
		if err != nil {
			logger.Log.WithError(err).Warn("Redis unavailable, task cache disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	a := New(cfg, database, redisClient)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		a.Limits.Run(sweepCtx, cfg.RateLimit.SweepInterval, func(removed int) {
			logger.Log.WithField("removed", removed).Debug("Rate limit sweep finished")
		})
	}()

	// --- Start the Server with Graceful Shutdown ---
	port := cfg.Server.Port
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: a.Router,
	}

	go func() {
		logger.Log.Infof("Server starting on port :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Warn("Shutdown signal received. Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	stopSweeper()
	<-sweeperDone

	logger.Log.Info("Server exited properly")
}
