package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/analytics"
	"github.com/craftora/domain-gateway/internal/api"
	"github.com/craftora/domain-gateway/internal/api/handlers"
	"github.com/craftora/domain-gateway/internal/certs"
	"github.com/craftora/domain-gateway/internal/config"
	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/health"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
	"github.com/craftora/domain-gateway/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database
	db, err := registry.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	jobQueue := queue.NewRedisQueue(redisClient)
	store := registry.NewPostgres(db)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	cache := resolver.NewCache(cfg.Platform.ResolverTTL, nil)
	invalidations := resolver.NewFanout(cache, redisClient, logger)
	events := newEvents(cfg, logger)
	directory := newDirectory(cfg)

	regSvc := registry.NewService(store, registry.DefaultPlanPolicy(), directory, invalidations,
		events, registry.NoopSettings{}, jobQueue, logger, registry.ServiceConfig{
			BaseDomain: cfg.Platform.BaseDomain,
			EdgeHost:   cfg.Platform.EdgeHost,
		})

	evaluator := dnsverify.NewEvaluator(dnsverify.NewDNSSource(cfg.Platform.DNSResolver, 0))
	verifySvc := dnsverify.NewService(store, evaluator, invalidations, events, jobQueue,
		collector, logger, cfg.Platform.EdgeHost, nil)

	authority := certs.NewACMEAuthority(certs.ACMEConfig{
		Email:             cfg.ACME.Email,
		DirectoryURL:      cfg.ACME.DirectoryURL,
		HTTP01Port:        cfg.ACME.HTTPPort,
		RequestsPerMinute: cfg.ACME.RatePerMin,
	})
	certSvc := certs.NewService(store, authority, events, collector, logger, 0, nil)

	checker := health.NewChecker(evaluator, cfg.Platform.EdgeHost)
	healthSvc := health.NewService(store, checker, invalidations, collector, logger, nil)

	analyticsSvc := analytics.NewService(analytics.NewPostgresStore(db))
	res := resolver.New(store, cache, collector, logger, cfg.Platform.BaseDomain)

	domains := handlers.NewDomainHandler(regSvc, verifySvc, certSvc, healthSvc, analyticsSvc, logger)
	resolve := handlers.NewResolveHandler(res, analyticsSvc, logger)
	server := api.NewServer(cfg, domains, resolve, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go purgeLoop(ctx, cache, cfg.Scheduler.CachePurgeEvery)
	go resolver.Listen(ctx, redisClient, cache, logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New(cfg.Database.MigrationsPath, cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func newEvents(cfg *config.Config, logger *zap.Logger) notify.Events {
	if cfg.Notify.WebhookURL != "" {
		return notify.NewWebhookEvents(cfg.Notify.WebhookURL, logger)
	}
	return &notify.LogEvents{Logger: logger}
}

func newDirectory(cfg *config.Config) registry.TenantDirectory {
	if cfg.Platform.DirectoryURL != "" {
		return registry.NewHTTPDirectory(cfg.Platform.DirectoryURL, cfg.ServiceToken)
	}
	return &registry.StaticDirectory{Default: registry.Plan(cfg.Platform.DefaultPlan)}
}

func purgeLoop(ctx context.Context, cache *resolver.Cache, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Purge()
		}
	}
}
