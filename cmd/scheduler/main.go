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
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
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

	var events notify.Events = &notify.LogEvents{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		events = notify.NewWebhookEvents(cfg.Notify.WebhookURL, logger)
	}

	authority := certs.NewACMEAuthority(certs.ACMEConfig{
		Email:             cfg.ACME.Email,
		DirectoryURL:      cfg.ACME.DirectoryURL,
		HTTP01Port:        cfg.ACME.HTTPPort,
		RequestsPerMinute: cfg.ACME.RatePerMin,
	})
	certSvc := certs.NewService(store, authority, events, collector, logger, 0, nil)

	sweep := certs.NewSweep(store, certSvc, collector, logger)
	if cfg.Scheduler.RenewalHorizon > 0 {
		sweep.Horizon = cfg.Scheduler.RenewalHorizon
	}

	sched := scheduler.NewScheduler(store, jobQueue, sweep, collector, logger, cfg.Scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	logger.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done
	logger.Info("Scheduler exited")
}
