package health

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/registry"
)

// FailureThreshold is how many consecutive error reports it takes before
// an active mapping is pushed to the error state. A single flaky probe
// should not take a domain out of rotation.
const FailureThreshold = 3

type Service struct {
	store   registry.Store
	checker *Checker
	cache   registry.CacheInvalidator
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store registry.Store, checker *Checker, cache registry.CacheInvalidator,
	collector *metrics.Collector, logger *zap.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		checker: checker,
		cache:   cache,
		metrics: collector,
		logger:  logger,
		now:     now,
	}
}

// RunHealthCheck produces a report and writes the cached health fields
// back with an optimistic write; a concurrent tenant update wins and the
// stale report is simply dropped. Lifecycle state is only touched after
// FailureThreshold consecutive errors.
func (s *Service) RunHealthCheck(ctx context.Context, tenantID, id uuid.UUID) (*domain.HealthReport, error) {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusDeleting {
		return nil, domain.ErrNotFound
	}

	report := s.checker.Run(ctx, m)

	checkedAt := report.CheckedAt
	m.DNSStatus = report.DNS.State
	m.SSLStatus = report.SSL.State
	m.HTTPStatus = report.HTTP.State
	m.OverallHealth = report.Overall
	m.LastHealthAt = &checkedAt
	if report.ResponseMs > 0 {
		// Simple exponential smoothing over past checks.
		if m.AvgResponseMs == 0 {
			m.AvgResponseMs = report.ResponseMs
		} else {
			m.AvgResponseMs = 0.7*m.AvgResponseMs + 0.3*report.ResponseMs
		}
	}

	if report.Overall == domain.CheckError {
		m.HealthFailures++
	} else {
		m.HealthFailures = 0
	}

	if err := s.store.UpdateHealth(ctx, m); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			s.logger.Debug("health report dropped after concurrent update",
				zap.String("domain", m.Name))
			return report, nil
		}
		return nil, err
	}

	s.metrics.RecordHealth(m.Name, stateValue(report.Overall))

	if m.Status == domain.StatusActive && m.HealthFailures >= FailureThreshold {
		s.demote(ctx, m)
	}

	return report, nil
}

// demote moves a persistently failing active mapping to error and stops
// routing for it.
func (s *Service) demote(ctx context.Context, m *domain.Mapping) {
	if err := domain.Transition(m, domain.StatusError); err != nil {
		return
	}
	m.LastUpdatedBy = "health-check"
	if err := s.store.UpdateMapping(ctx, m); err != nil {
		s.logger.Warn("failed to demote unhealthy mapping",
			zap.String("domain", m.Name), zap.Error(err))
		return
	}
	s.cache.Invalidate(m.Name)
	s.logger.Warn("mapping demoted after persistent health failures",
		zap.String("domain", m.Name),
		zap.Int("failures", m.HealthFailures),
	)
}

func stateValue(state domain.CheckState) int {
	switch state {
	case domain.CheckHealthy:
		return 0
	case domain.CheckWarning:
		return 1
	default:
		return 2
	}
}
