package certs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/registry"
)

// DefaultFreshness is the window inside which a renewal request returns
// the existing certificate instead of asking the CA for another one, so
// concurrent manual+scheduled triggers collapse into a single issuance.
const DefaultFreshness = 12 * time.Hour

type Service struct {
	store     registry.Store
	authority Authority
	events    notify.Events
	metrics   *metrics.Collector
	logger    *zap.Logger
	freshness time.Duration
	now       func() time.Time

	// Per-mapping serialization: two concurrent renewals for the same
	// domain share one CA round trip.
	flight singleflight.Group
}

func NewService(store registry.Store, authority Authority, events notify.Events,
	collector *metrics.Collector, logger *zap.Logger, freshness time.Duration, now func() time.Time) *Service {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     store,
		authority: authority,
		events:    events,
		metrics:   collector,
		logger:    logger,
		freshness: freshness,
		now:       now,
	}
}

// IssueManaged obtains the first managed certificate for a verified
// mapping. Fails with ErrDomainNotVerified on anything but an active
// mapping: serving a certificate for an unproven hostname is the exact
// failure the verification machine exists to prevent.
func (s *Service) IssueManaged(ctx context.Context, tenantID, mappingID uuid.UUID, actor string) (*domain.Certificate, error) {
	m, err := s.store.GetMapping(ctx, tenantID, mappingID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: mapping %s is %s", domain.ErrDomainNotVerified, m.Name, m.Status)
	}
	if m.CertType != domain.CertManaged {
		return nil, fmt.Errorf("%w: mapping %s uses a custom certificate", domain.ErrInvalidInput, m.Name)
	}

	cert, err := s.obtain(ctx, m, notify.EventCertificateIssued, actor)
	if err != nil {
		s.metrics.RecordCertOperation("issue", "error")
		return nil, err
	}
	s.metrics.RecordCertOperation("issue", "ok")
	return cert, nil
}

// RenewManaged refreshes the mapping's certificate. Idempotent inside the
// freshness window. Callable manually or by the sweep; InvalidTransition
// on any non-active mapping.
func (s *Service) RenewManaged(ctx context.Context, tenantID, mappingID uuid.UUID, actor string) (*domain.Certificate, error) {
	m, err := s.store.GetMapping(ctx, tenantID, mappingID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: cannot renew certificate on %s mapping %s",
			domain.ErrInvalidTransition, m.Status, m.Name)
	}
	if m.CertType != domain.CertManaged {
		return nil, fmt.Errorf("%w: custom certificates are never renewed by the platform", domain.ErrInvalidInput)
	}

	cert, err := s.obtain(ctx, m, notify.EventCertificateRenewed, actor)
	if err != nil {
		s.metrics.RecordCertOperation("renew", "error")
		return nil, err
	}
	s.metrics.RecordCertOperation("renew", "ok")
	return cert, nil
}

func (s *Service) obtain(ctx context.Context, m *domain.Mapping, eventType, actor string) (*domain.Certificate, error) {
	v, err, _ := s.flight.Do(m.ID.String(), func() (interface{}, error) {
		var current *domain.Certificate
		if existing, err := s.store.LatestCertificate(ctx, m.ID); err == nil {
			if s.now().Sub(existing.IssuedAt) < s.freshness {
				return existing, nil
			}
			current = existing
		}

		// First issuance and renewal are distinct CA conversations: a
		// renewal hands the authority the certificate being replaced.
		var issued *IssuedCertificate
		var err error
		if current != nil {
			issued, err = s.authority.Renew(ctx, m.Name, current)
		} else {
			issued, err = s.authority.Issue(ctx, m.Name)
		}
		if err != nil {
			return nil, err
		}

		cert := &domain.Certificate{
			Serial:    issued.Serial,
			MappingID: m.ID,
			Type:      domain.CertManaged,
			Issuer:    issued.Issuer,
			ValidFrom: issued.ValidFrom,
			ExpiresAt: issued.ExpiresAt,
			CertPEM:   issued.CertPEM,
			KeyPEM:    issued.KeyPEM,
			ChainPEM:  issued.ChainPEM,
			IssuedAt:  s.now(),
		}
		if err := s.store.InsertCertificate(ctx, cert); err != nil {
			return nil, err
		}
		if err := s.store.SupersedeCertificates(ctx, m.ID, cert.Serial); err != nil {
			s.logger.Warn("failed to supersede previous certificates",
				zap.String("domain", m.Name), zap.Error(err))
		}

		m.SSLEnabled = true
		m.CertSerial = &cert.Serial
		m.CertExpires = &cert.ExpiresAt
		m.LastUpdatedBy = actor
		if err := s.store.UpdateMapping(ctx, m); err != nil {
			return nil, err
		}

		s.events.Publish(ctx, notify.Event{
			Type:      eventType,
			TenantID:  m.TenantID.String(),
			MappingID: m.ID.String(),
			Domain:    m.Name,
			Data: map[string]interface{}{
				"serial":     cert.Serial,
				"expires_at": cert.ExpiresAt,
			},
			OccurredAt: s.now(),
		})

		s.logger.Info("certificate obtained",
			zap.String("domain", m.Name),
			zap.String("serial", cert.Serial),
			zap.Time("expires_at", cert.ExpiresAt),
		)

		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Certificate), nil
}

// RevokeManaged revokes the current certificate during domain removal.
// Revocation failure is logged, not returned; removal continues either way.
func (s *Service) RevokeManaged(ctx context.Context, mappingID uuid.UUID) {
	cert, err := s.store.LatestCertificate(ctx, mappingID)
	if err != nil {
		return
	}

	if err := s.authority.Revoke(ctx, cert); err != nil {
		s.logger.Warn("certificate revocation failed",
			zap.String("serial", cert.Serial), zap.Error(err))
		s.metrics.RecordCertOperation("revoke", "error")
	} else {
		s.metrics.RecordCertOperation("revoke", "ok")
	}

	if err := s.store.RevokeCertificate(ctx, cert.Serial); err != nil {
		s.logger.Warn("failed to mark certificate revoked",
			zap.String("serial", cert.Serial), zap.Error(err))
	}
}

// CurrentCertificate returns the live certificate for a tenant's mapping.
func (s *Service) CurrentCertificate(ctx context.Context, tenantID, mappingID uuid.UUID) (*domain.Certificate, error) {
	if _, err := s.store.GetMapping(ctx, tenantID, mappingID); err != nil {
		return nil, err
	}
	return s.store.LatestCertificate(ctx, mappingID)
}
