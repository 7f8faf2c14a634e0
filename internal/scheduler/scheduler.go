package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/certs"
	"github.com/craftora/domain-gateway/internal/config"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
)

// healthBatchSize caps how many mappings one scheduling pass enqueues.
const healthBatchSize = 500

// Scheduler owns the periodic loops: the renewal sweep, health check
// fan-out and the queue depth gauge. Actual work happens in the queue
// workers; the scheduler only decides what is due.
type Scheduler struct {
	store   registry.Store
	queue   *queue.RedisQueue
	sweep   *certs.Sweep
	metrics *metrics.Collector
	logger  *zap.Logger
	config  config.SchedulerConfig
}

func NewScheduler(store registry.Store, q *queue.RedisQueue, sweep *certs.Sweep,
	collector *metrics.Collector, logger *zap.Logger, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:   store,
		queue:   q,
		sweep:   sweep,
		metrics: collector,
		logger:  logger,
		config:  cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("renewal_sweep_every", s.config.RenewalSweepEvery),
		zap.Duration("health_check_every", s.config.HealthCheckEvery),
	)

	renewalTicker := time.NewTicker(s.config.RenewalSweepEvery)
	defer renewalTicker.Stop()
	healthTicker := time.NewTicker(s.config.HealthCheckEvery)
	defer healthTicker.Stop()
	depthTicker := time.NewTicker(15 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			return
		case <-renewalTicker.C:
			s.runRenewalSweep(ctx)
		case <-healthTicker.C:
			s.scheduleHealthChecks(ctx)
		case <-depthTicker.C:
			s.reportQueueDepth(ctx)
		}
	}
}

func (s *Scheduler) runRenewalSweep(ctx context.Context) {
	renewed := s.sweep.Run(ctx)
	if renewed > 0 {
		s.logger.Info("Renewal sweep finished", zap.Int("renewed", renewed))
	}
}

// scheduleHealthChecks enqueues a health job for every routable mapping
// whose last check predates the interval.
func (s *Scheduler) scheduleHealthChecks(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.HealthCheckEvery)
	due, err := s.store.DueForHealthCheck(ctx, cutoff, healthBatchSize)
	if err != nil {
		s.logger.Error("Failed to list mappings due for health check", zap.Error(err))
		return
	}

	for _, m := range due {
		job := &queue.Job{
			ID:        uuid.New().String(),
			Type:      queue.JobHealthCheck,
			MappingID: m.ID.String(),
			TenantID:  m.TenantID.String(),
			ReadyAt:   time.Now(),
			CreatedAt: time.Now(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Warn("Failed to enqueue health check",
				zap.String("domain", m.Name), zap.Error(err))
		}
	}

	if len(due) > 0 {
		s.logger.Debug("Scheduled health checks", zap.Int("count", len(due)))
	}
}

func (s *Scheduler) reportQueueDepth(ctx context.Context) {
	depth, err := s.queue.Length(ctx)
	if err != nil {
		s.logger.Debug("Failed to read queue depth", zap.Error(err))
		return
	}
	s.metrics.RecordQueueDepth(depth)
}
