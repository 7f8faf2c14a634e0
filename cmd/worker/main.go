package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/certs"
	"github.com/craftora/domain-gateway/internal/config"
	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/health"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
	"github.com/craftora/domain-gateway/internal/resolver"
	"github.com/craftora/domain-gateway/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := registry.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	jobQueue := queue.NewRedisQueue(redisClient)
	store := registry.NewPostgres(db)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// The worker has no request path of its own; its cache is only the
	// local half of the invalidation fan-out. What matters is the
	// broadcast: verify activations, health demotions and cleanups
	// committed here must drop the api processes' cached routing too.
	cache := resolver.NewCache(cfg.Platform.ResolverTTL, nil)
	invalidations := resolver.NewFanout(cache, redisClient, logger)

	var events notify.Events = &notify.LogEvents{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		events = notify.NewWebhookEvents(cfg.Notify.WebhookURL, logger)
	}

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

	worker := scheduler.NewWorker(jobQueue, store, verifySvc, certSvc, healthSvc, invalidations,
		collector, logger, cfg.Scheduler.QueuePollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx, cfg.Scheduler.WorkerCount)
		close(done)
	}()

	logger.Info("Worker started", zap.Int("count", cfg.Scheduler.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
	logger.Info("Worker exited")
}
