package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/certs"
	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/health"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
)

// maxCertAttempts bounds retries for transient issuance failures.
const maxCertAttempts = 5

// Worker drains the job queue. Each job type maps onto one service call;
// the services own the semantics, the worker owns retry and dispatch.
type Worker struct {
	queue    *queue.RedisQueue
	store    registry.Store
	verify   *dnsverify.Service
	certs    *certs.Service
	health   *health.Service
	cache    registry.CacheInvalidator
	metrics  *metrics.Collector
	logger   *zap.Logger
	pollWait time.Duration
}

func NewWorker(q *queue.RedisQueue, store registry.Store, verify *dnsverify.Service,
	certSvc *certs.Service, healthSvc *health.Service, cache registry.CacheInvalidator,
	collector *metrics.Collector, logger *zap.Logger, pollWait time.Duration) *Worker {
	if pollWait <= 0 {
		pollWait = 2 * time.Second
	}
	return &Worker{
		queue:    q,
		store:    store,
		verify:   verify,
		certs:    certSvc,
		health:   healthSvc,
		cache:    cache,
		metrics:  collector,
		logger:   logger,
		pollWait: pollWait,
	}
}

// Start runs count polling goroutines until the context is cancelled.
func (w *Worker) Start(ctx context.Context, count int) {
	w.logger.Info("Starting workers", zap.Int("count", count))

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.run(ctx, w.logger.With(zap.Int("worker_id", id)))
		}(i)
	}
	wg.Wait()
}

func (w *Worker) run(ctx context.Context, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		default:
		}

		job, err := w.queue.PopDue(ctx, time.Now())
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
				logger.Warn("Failed to pop job", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.pollWait):
			}
			continue
		}

		w.processJob(ctx, job, logger)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	start := time.Now()
	logger.Debug("Processing job",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("mapping_id", job.MappingID),
	)

	var err error
	switch job.Type {
	case queue.JobVerifyRecheck:
		err = w.verify.ProcessRecheck(ctx, job)
	case queue.JobIssueCertificate:
		err = w.certJob(ctx, job, true)
	case queue.JobRenewCertificate:
		err = w.certJob(ctx, job, false)
	case queue.JobDomainCleanup:
		err = w.cleanup(ctx, job)
	case queue.JobHealthCheck:
		err = w.healthCheck(ctx, job)
	default:
		logger.Error("Unknown job type", zap.String("type", job.Type))
		w.metrics.RecordJob(job.Type, "unknown")
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Warn("Job failed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Error(err),
		)
	}
	w.metrics.RecordJob(job.Type, outcome)

	logger.Debug("Job completed",
		zap.String("job_id", job.ID),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	)
}

func (w *Worker) parseIDs(job *queue.Job) (tenantID, mappingID uuid.UUID, err error) {
	tenantID, err = uuid.Parse(job.TenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	mappingID, err = uuid.Parse(job.MappingID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, mappingID, nil
}

func (w *Worker) certJob(ctx context.Context, job *queue.Job, issue bool) error {
	tenantID, mappingID, err := w.parseIDs(job)
	if err != nil {
		return err
	}

	if issue {
		_, err = w.certs.IssueManaged(ctx, tenantID, mappingID, "system")
	} else {
		_, err = w.certs.RenewManaged(ctx, tenantID, mappingID, "system")
	}
	if err == nil {
		return nil
	}

	// Mapping gone or no longer eligible, nothing to retry.
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrDomainNotVerified) ||
		errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}

	var issuanceErr *domain.IssuanceError
	if errors.As(err, &issuanceErr) && issuanceErr.Permanent {
		return err
	}

	w.rescheduleCert(ctx, job, err)
	return err
}

// rescheduleCert re-enqueues a failed certificate job, honoring the
// authority's retry-after hint when one was given.
func (w *Worker) rescheduleCert(ctx context.Context, job *queue.Job, cause error) {
	if job.Attempt+1 > maxCertAttempts {
		w.logger.Error("Giving up on certificate job",
			zap.String("mapping_id", job.MappingID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause),
		)
		return
	}

	delay := time.Duration(job.Attempt+1) * 5 * time.Minute
	var rateErr *domain.RateLimitError
	if errors.As(cause, &rateErr) && rateErr.RetryAfter > delay {
		delay = rateErr.RetryAfter
	}

	retry := &queue.Job{
		ID:        uuid.New().String(),
		Type:      job.Type,
		MappingID: job.MappingID,
		TenantID:  job.TenantID,
		Attempt:   job.Attempt + 1,
		ReadyAt:   time.Now().Add(delay),
		CreatedAt: time.Now(),
	}
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		w.logger.Error("Failed to reschedule certificate job", zap.Error(err))
	}
}

// cleanup finishes a removal: best-effort revocation, then the hard
// delete and a final cache invalidation.
func (w *Worker) cleanup(ctx context.Context, job *queue.Job) error {
	tenantID, mappingID, err := w.parseIDs(job)
	if err != nil {
		return err
	}

	m, err := w.store.GetMapping(ctx, tenantID, mappingID)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil
		}
		return err
	}

	if m.CertType == domain.CertManaged && m.SSLEnabled {
		w.certs.RevokeManaged(ctx, mappingID)
	}

	if err := w.store.HardDelete(ctx, mappingID); err != nil {
		return err
	}
	w.cache.Invalidate(m.Name)

	w.logger.Info("Domain cleanup finished",
		zap.String("domain", m.Name),
		zap.String("tenant_id", job.TenantID),
	)
	return nil
}

func (w *Worker) healthCheck(ctx context.Context, job *queue.Job) error {
	tenantID, mappingID, err := w.parseIDs(job)
	if err != nil {
		return err
	}

	_, err = w.health.RunHealthCheck(ctx, tenantID, mappingID)
	if registry.IsNotFound(err) {
		return nil
	}
	return err
}
