package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"piggybank/internal/auth"
	"piggybank/internal/cache"
	"piggybank/internal/cli"
	"piggybank/internal/events"
	apphttp "piggybank/internal/http"
	applog "piggybank/internal/log"
	"piggybank/internal/services"
	"piggybank/internal/session"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = time.Minute
	sessionPruneEvery  = time.Hour
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	be := cli.InitBackend(ctx, logger, cfg)

	authSvc := auth.NewService(be.Backend, auth.Options{
		Secret:     []byte(cfg.AuthSecret),
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	})

	queryCache := cache.NewQueryCache(cfg.CacheMaxEntries, cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(queryCache)
	cacheManager.StartCleanup(cacheSweepInterval)

	// Drop a user's cached queries when their session ends.
	authWatch := session.Watch(authSvc, queryCache, logger)

	var (
		publisher  events.Publisher = events.NoopPublisher{}
		amqpClient *events.Client
	)
	if cfg.AMQPURL != "" {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		amqpClient = client
		publisher = client
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled, change events stay in process")
	}

	guard := services.NewInFlight()
	savings := services.NewSavingsService(be.Backend, queryCache, publisher, guard, services.Options{
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	profile := services.NewProfileService(authSvc, guard, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Savings:        savings,
		Profile:        profile,
		Accounts:       authSvc,
		Cookie:         session.CookieConfig{Name: session.DefaultCookieName, Secure: cfg.CookieSecure},
		SessionTimeout: cfg.BackendTimeout,
		CacheStats:     queryCache.Stats,
		Ready:          be.Backend.Ping,
		Logger:         logger,
	})

	runCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		authWatch.Unsubscribe()
		cacheManager.Stop()
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher", applog.FieldError, err)
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Warn("Failed to close backend", applog.FieldError, err)
			}
		}
	})

	// Other instances' writes arrive on the exchange; invalidate the same
	// keys they did.
	if amqpClient != nil {
		go func() {
			if err := amqpClient.Subscribe(runCtx, services.ChangeInvalidator(queryCache)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change subscription stopped", applog.FieldError, err)
			}
		}()
	}

	go pruneSessions(runCtx, authSvc, logger)

	go func() {
		logger.Info("Starting piggybank server",
			"port", cfg.Port,
			applog.FieldBackend, cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(runCtx, done)
	logger.Info("Server stopped gracefully")
}

// pruneSessions deletes expired sessions until ctx is cancelled.
func pruneSessions(ctx context.Context, a *auth.Service, logger *applog.Logger) {
	ticker := time.NewTicker(sessionPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.PruneExpired(ctx)
			if err != nil {
				logger.Warn("Session prune failed", applog.FieldError, err)
				continue
			}
			if n > 0 {
				logger.Info("Pruned expired sessions", "count", n)
			}
		}
	}
}
