package dnsverify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
)

// recheckDelays is the automatic recheck backoff: 1m, 5m, 15m, 60m, then
// hourly until recheckWindow is exhausted, at which point the tenant gets
// a stalled-verification event and the chain stops.
var recheckDelays = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute, 60 * time.Minute}

const recheckWindow = 24 * time.Hour

type Service struct {
	store     registry.Store
	evaluator *Evaluator
	cache     registry.CacheInvalidator
	events    notify.Events
	jobs      registry.Jobs
	metrics   *metrics.Collector
	logger    *zap.Logger
	edgeHost  string
	now       func() time.Time
}

func NewService(store registry.Store, evaluator *Evaluator, cache registry.CacheInvalidator,
	events notify.Events, jobs registry.Jobs, collector *metrics.Collector,
	logger *zap.Logger, edgeHost string, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     store,
		evaluator: evaluator,
		cache:     cache,
		events:    events,
		jobs:      jobs,
		metrics:   collector,
		logger:    logger,
		edgeHost:  edgeHost,
		now:       now,
	}
}

type InitiateOptions struct {
	Method      string
	AutoRecheck bool
	Actor       string
}

// InitiateVerification (re-)enters the verification machine: resets the
// token, moves the mapping to pending_verification and optionally starts
// the automatic recheck chain. Not valid on an already-active mapping.
func (s *Service) InitiateVerification(ctx context.Context, tenantID, id uuid.UUID, opts InitiateOptions) (*domain.Mapping, error) {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Kind != domain.KindCustom {
		return nil, fmt.Errorf("%w: subdomains do not require verification", domain.ErrInvalidInput)
	}
	if m.Status == domain.StatusActive || m.Status == domain.StatusDeleting {
		return nil, fmt.Errorf("%w: cannot initiate verification on %s mapping %s",
			domain.ErrInvalidTransition, m.Status, m.Name)
	}

	if opts.Method != "" {
		method, err := domain.ValidateVerificationMethod(opts.Method)
		if err != nil {
			return nil, err
		}
		m.Method = method
	}

	if err := domain.Transition(m, domain.StatusPendingVerification); err != nil {
		return nil, err
	}

	if m.Method == domain.MethodDNS || m.Method == domain.MethodFile {
		m.VerificationToken = registry.NewToken()
	}
	m.ExpectedRecords = s.expectedRecords(m)
	m.LastUpdatedBy = opts.Actor

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Invalidate(m.Name)

	if opts.AutoRecheck {
		s.scheduleRecheck(ctx, m, 1, recheckDelays[0])
	}

	return m, nil
}

type VerifyResult struct {
	Verified           bool             `json:"verified"`
	Status             Status           `json:"status"`
	Issues             []Issue          `json:"issues,omitempty"`
	Observed           domain.RecordSet `json:"observed_records"`
	RetryAfter         time.Duration    `json:"retry_after,omitempty"`
	PropagationSeconds *int64           `json:"propagation_seconds,omitempty"`
}

// VerifyDomain runs one verification pass and, on success, drives the
// mapping to active, invalidates its cache entry and queues managed
// certificate issuance. On failure the status is left unchanged so the
// tenant (or the recheck chain) can retry.
func (s *Service) VerifyDomain(ctx context.Context, tenantID, id uuid.UUID, actor string) (*VerifyResult, error) {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusDeleting {
		return nil, fmt.Errorf("%w: mapping %s is being removed", domain.ErrInvalidTransition, m.Name)
	}
	if m.Kind == domain.KindSubdomain {
		return &VerifyResult{Verified: true, Status: StatusVerified}, nil
	}

	// The TXT token is only published for dns-method tenants; file and
	// email verification prove ownership elsewhere, so their DNS check is
	// the CNAME alone.
	expect := Expectation{CNAMETarget: s.edgeHost}
	if m.Method == domain.MethodDNS {
		expect.TXTName = registry.VerifyLabel + "." + m.Name
		expect.Token = m.VerificationToken
	}
	eval := s.evaluator.EvaluateRecords(ctx, m.Name, expect)
	s.metrics.RecordVerification(string(eval.Status))

	now := s.now()
	m.ObservedRecords = eval.Observed
	m.LastCheckedAt = &now

	result := &VerifyResult{
		Status:     eval.Status,
		Issues:     eval.Issues,
		Observed:   eval.Observed,
		RetryAfter: eval.RetryAfter,
	}

	switch eval.Status {
	case StatusVerified:
		result.Verified = true
		wasActive := m.Status == domain.StatusActive
		if !wasActive {
			if err := domain.Transition(m, domain.StatusActive); err != nil {
				return nil, err
			}
			seconds := int64(now.Sub(m.CreatedAt) / time.Second)
			result.PropagationSeconds = &seconds
		}
		m.DNSStatus = domain.CheckHealthy
		m.LastUpdatedBy = actor
		if err := s.store.UpdateMapping(ctx, m); err != nil {
			return nil, err
		}
		s.cache.Invalidate(m.Name)

		if !wasActive {
			s.events.Publish(ctx, notify.Event{
				Type:       notify.EventDomainVerified,
				TenantID:   tenantID.String(),
				MappingID:  m.ID.String(),
				Domain:     m.Name,
				OccurredAt: now,
			})
		}
		if m.CertType == domain.CertManaged && !m.SSLEnabled {
			s.enqueueIssuance(ctx, m)
		}

	case StatusPending:
		// Propagation still in flight; no status change, no failure event.
		if err := s.store.UpdateMapping(ctx, m); err != nil {
			return nil, err
		}

	case StatusError:
		if err := s.store.UpdateMapping(ctx, m); err != nil {
			return nil, err
		}
		s.events.Publish(ctx, notify.Event{
			Type:      notify.EventDomainVerificationFailed,
			TenantID:  tenantID.String(),
			MappingID: m.ID.String(),
			Domain:    m.Name,
			Data: map[string]interface{}{
				"issues": eval.Issues,
			},
			OccurredAt: now,
		})
	}

	return result, nil
}

// ProcessRecheck handles a scheduled verification recheck job: run a
// pass, and reschedule with backoff while the mapping stays unverified
// inside the recheck window.
func (s *Service) ProcessRecheck(ctx context.Context, job *queue.Job) error {
	tenantID, err := uuid.Parse(job.TenantID)
	if err != nil {
		return fmt.Errorf("bad tenant id in job %s: %w", job.ID, err)
	}
	mappingID, err := uuid.Parse(job.MappingID)
	if err != nil {
		return fmt.Errorf("bad mapping id in job %s: %w", job.ID, err)
	}

	m, err := s.store.GetMapping(ctx, tenantID, mappingID)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil // removed while queued
		}
		return err
	}
	if m.Status != domain.StatusPendingVerification {
		return nil
	}

	result, err := s.VerifyDomain(ctx, tenantID, mappingID, "scheduler")
	if err != nil {
		return err
	}
	if result.Verified {
		return nil
	}

	elapsed := s.now().Sub(m.CreatedAt)
	if elapsed >= recheckWindow {
		s.logger.Warn("verification stalled",
			zap.String("domain", m.Name),
			zap.Duration("elapsed", elapsed),
		)
		s.events.Publish(ctx, notify.Event{
			Type:       notify.EventDomainVerificationStale,
			TenantID:   job.TenantID,
			MappingID:  job.MappingID,
			Domain:     m.Name,
			OccurredAt: s.now(),
		})
		return nil
	}

	s.scheduleRecheck(ctx, m, job.Attempt+1, delayForAttempt(job.Attempt+1))
	return nil
}

func delayForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt <= len(recheckDelays) {
		return recheckDelays[attempt-1]
	}
	return time.Hour
}

func (s *Service) scheduleRecheck(ctx context.Context, m *domain.Mapping, attempt int, delay time.Duration) {
	if err := s.jobs.Enqueue(ctx, &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		Attempt:   attempt,
		ReadyAt:   s.now().Add(delay),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Warn("failed to schedule recheck", zap.String("domain", m.Name), zap.Error(err))
	}
}

func (s *Service) enqueueIssuance(ctx context.Context, m *domain.Mapping) {
	if err := s.jobs.Enqueue(ctx, &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobIssueCertificate,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		ReadyAt:   s.now(),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Error("failed to enqueue certificate issuance",
			zap.String("domain", m.Name), zap.Error(err))
	}
}

func (s *Service) expectedRecords(m *domain.Mapping) domain.RecordSet {
	records := domain.RecordSet{
		{Type: "CNAME", Name: m.Name, Value: s.edgeHost, TTL: registry.RecommendedTTL},
	}
	if m.Method == domain.MethodDNS {
		records = append(records, domain.Record{
			Type:  "TXT",
			Name:  registry.VerifyLabel + "." + m.Name,
			Value: m.VerificationToken,
			TTL:   registry.RecommendedTTL,
		})
	}
	return records
}
