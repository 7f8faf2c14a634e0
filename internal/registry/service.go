package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
)

// VerifyLabel is the well-known DNS label tenants publish their TXT
// verification token under: _craftora-verify.<domain>.
const VerifyLabel = "_craftora-verify"

// RecommendedTTL keeps propagation feedback fast during setup.
const RecommendedTTL = 300

// CacheInvalidator is the resolver-cache hook. Invalidate runs
// synchronously before a mutating operation returns, so routing never
// observes stale state past the call.
type CacheInvalidator interface {
	Invalidate(hostname string)
}

// SettingsStore mirrors the tenant's current custom domain into the
// settings panel. Best-effort denormalization; the mapping row stays
// authoritative.
type SettingsStore interface {
	SetCurrentCustomDomain(ctx context.Context, tenantID uuid.UUID, name string) error
}

type NoopSettings struct{}

func (NoopSettings) SetCurrentCustomDomain(context.Context, uuid.UUID, string) error { return nil }

// Jobs is the slice of the queue the registry needs.
type Jobs interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Cancel(ctx context.Context, mappingID string) error
}

type Service struct {
	store     Store
	policy    PlanPolicy
	directory TenantDirectory
	cache     CacheInvalidator
	events    notify.Events
	settings  SettingsStore
	jobs      Jobs
	logger    *zap.Logger

	baseDomain string
	edgeHost   string
	now        func() time.Time
}

type ServiceConfig struct {
	BaseDomain string
	EdgeHost   string
	Now        func() time.Time
}

func NewService(store Store, policy PlanPolicy, directory TenantDirectory, cache CacheInvalidator,
	events notify.Events, settings SettingsStore, jobs Jobs, logger *zap.Logger, cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if settings == nil {
		settings = NoopSettings{}
	}
	return &Service{
		store:      store,
		policy:     policy,
		directory:  directory,
		cache:      cache,
		events:     events,
		settings:   settings,
		jobs:       jobs,
		logger:     logger,
		baseDomain: cfg.BaseDomain,
		edgeHost:   cfg.EdgeHost,
		now:        cfg.Now,
	}
}

type AddDomainRequest struct {
	Domain   string
	Method   string
	CertType string
	Actor    string
	Metadata map[string]interface{}
}

// SetupInstructions is returned to the tenant so they can publish the
// records themselves.
type SetupInstructions struct {
	Records        domain.RecordSet `json:"records"`
	RecommendedTTL int              `json:"recommended_ttl_seconds"`
	Note           string           `json:"note"`
}

type AddDomainResult struct {
	Mapping      *domain.Mapping    `json:"mapping"`
	Instructions *SetupInstructions `json:"instructions,omitempty"`
}

// AddDomain registers a hostname for the tenant. Subdomains of the
// platform base domain are active immediately (the platform owns the
// zone); custom domains start in pending_verification with a token the
// tenant must publish.
func (s *Service) AddDomain(ctx context.Context, tenantID uuid.UUID, req AddDomainRequest) (*AddDomainResult, error) {
	name, err := domain.ValidateDomainName(req.Domain)
	if err != nil {
		return nil, err
	}

	kind := domain.KindCustom
	if strings.HasSuffix(name, "."+s.baseDomain) {
		kind = domain.KindSubdomain
	}

	method := domain.MethodDNS
	if req.Method != "" {
		method, err = domain.ValidateVerificationMethod(req.Method)
		if err != nil {
			return nil, err
		}
	}

	certType := domain.CertManaged
	if req.CertType != "" {
		switch domain.CertificateType(req.CertType) {
		case domain.CertManaged, domain.CertCustom:
			certType = domain.CertificateType(req.CertType)
		default:
			return nil, fmt.Errorf("%w: unsupported certificate type %q", domain.ErrInvalidInput, req.CertType)
		}
	}

	limit := 0
	if kind == domain.KindCustom {
		plan, err := s.directory.PlanFor(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		limit = s.policy.CustomDomainLimit(plan)
	}

	now := s.now()
	m := &domain.Mapping{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Name:          name,
		Kind:          kind,
		Status:        domain.StatusActive,
		CertType:      certType,
		AutoRenew:     certType == domain.CertManaged,
		Method:        method,
		DNSStatus:     domain.CheckHealthy,
		SSLStatus:     domain.CheckHealthy,
		HTTPStatus:    domain.CheckHealthy,
		OverallHealth: domain.CheckHealthy,
		CreatedBy:     req.Actor,
		LastUpdatedBy: req.Actor,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var instructions *SetupInstructions
	if kind == domain.KindCustom {
		m.Status = domain.StatusPendingVerification
		m.VerificationToken = NewToken()
		m.ExpectedRecords = s.expectedRecords(name, method, m.VerificationToken)
		instructions = &SetupInstructions{
			Records:        m.ExpectedRecords,
			RecommendedTTL: RecommendedTTL,
			Note:           "Use a TTL of 300 seconds or less so verification sees your changes quickly.",
		}
	}

	if err := s.store.CreateMapping(ctx, m, limit); err != nil {
		return nil, err
	}

	if kind == domain.KindCustom {
		// First automatic recheck one minute out; the worker walks the
		// backoff schedule from there.
		if err := s.jobs.Enqueue(ctx, &queue.Job{
			ID:        uuid.New().String(),
			Type:      queue.JobVerifyRecheck,
			MappingID: m.ID.String(),
			TenantID:  tenantID.String(),
			Attempt:   1,
			ReadyAt:   now.Add(1 * time.Minute),
			CreatedAt: now,
		}); err != nil {
			s.logger.Warn("failed to schedule verification recheck",
				zap.String("domain", name), zap.Error(err))
		}

		if err := s.settings.SetCurrentCustomDomain(ctx, tenantID, name); err != nil {
			s.logger.Warn("settings denormalization failed",
				zap.String("domain", name), zap.Error(err))
		}
	}

	s.logger.Info("domain added",
		zap.String("tenant_id", tenantID.String()),
		zap.String("domain", name),
		zap.String("kind", string(kind)),
	)

	return &AddDomainResult{Mapping: m, Instructions: instructions}, nil
}

func (s *Service) expectedRecords(name string, method domain.VerificationMethod, token string) domain.RecordSet {
	records := domain.RecordSet{
		{Type: "CNAME", Name: name, Value: s.edgeHost, TTL: RecommendedTTL},
	}
	if method == domain.MethodDNS {
		records = append(records, domain.Record{
			Type:  "TXT",
			Name:  VerifyLabel + "." + name,
			Value: token,
			TTL:   RecommendedTTL,
		})
	}
	return records
}

type ConfigPatch struct {
	AutoRenew *bool
	Method    *string
	Metadata  map[string]interface{}
	Actor     string
}

func (s *Service) UpdateConfiguration(ctx context.Context, tenantID, id uuid.UUID, patch ConfigPatch) (*domain.Mapping, error) {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusDeleting {
		return nil, fmt.Errorf("%w: mapping %s is being removed", domain.ErrInvalidTransition, m.Name)
	}

	if patch.AutoRenew != nil {
		if *patch.AutoRenew && m.CertType == domain.CertCustom {
			return nil, fmt.Errorf("%w: custom certificates are never auto-renewed", domain.ErrInvalidInput)
		}
		m.AutoRenew = *patch.AutoRenew
	}

	if patch.Method != nil {
		if m.Status == domain.StatusActive {
			return nil, fmt.Errorf("%w: cannot change verification method on an active mapping", domain.ErrInvalidTransition)
		}
		method, err := domain.ValidateVerificationMethod(*patch.Method)
		if err != nil {
			return nil, err
		}
		m.Method = method
		m.ExpectedRecords = s.expectedRecords(m.Name, method, m.VerificationToken)
	}

	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}
	m.LastUpdatedBy = patch.Actor

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Invalidate(m.Name)

	return m, nil
}

// UploadCustomCertificate validates and stores a tenant-supplied bundle.
// The mapping must be active: a certificate descriptor on an unverified
// hostname would let content be served under a domain the tenant has not
// proven they own.
func (s *Service) UploadCustomCertificate(ctx context.Context, tenantID, id uuid.UUID, certPEM, keyPEM, chainPEM, actor string) (*domain.Certificate, error) {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: certificates require an active mapping, %s is %s",
			domain.ErrInvalidTransition, m.Name, m.Status)
	}

	if issues, err := domain.ValidateCertificateBundle(certPEM, keyPEM, chainPEM); err != nil {
		for _, issue := range issues {
			s.logger.Debug("certificate bundle issue",
				zap.String("field", issue.Field), zap.String("message", issue.Message))
		}
		return nil, err
	}

	parsed, err := parseLeafCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	cert := &domain.Certificate{
		Serial:    parsed.SerialNumber.String(),
		MappingID: m.ID,
		Type:      domain.CertCustom,
		Issuer:    parsed.Issuer.String(),
		ValidFrom: parsed.NotBefore,
		ExpiresAt: parsed.NotAfter,
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		ChainPEM:  chainPEM,
		IssuedAt:  s.now(),
	}

	if err := s.store.InsertCertificate(ctx, cert); err != nil {
		return nil, err
	}
	if err := s.store.SupersedeCertificates(ctx, m.ID, cert.Serial); err != nil {
		s.logger.Warn("failed to supersede previous certificates", zap.Error(err))
	}

	m.CertType = domain.CertCustom
	m.AutoRenew = false
	m.SSLEnabled = true
	m.CertSerial = &cert.Serial
	m.CertExpires = &cert.ExpiresAt
	m.LastUpdatedBy = actor
	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Invalidate(m.Name)

	return cert, nil
}

// RemoveDomain soft-marks the mapping deleting and hands cleanup
// (revocation, hard delete) to the worker. Idempotent: removing an
// already-deleting mapping is a no-op.
func (s *Service) RemoveDomain(ctx context.Context, tenantID, id uuid.UUID, actor string) error {
	m, err := s.store.GetMapping(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if m.Status == domain.StatusDeleting {
		return nil
	}

	if err := domain.Transition(m, domain.StatusDeleting); err != nil {
		return err
	}
	m.LastUpdatedBy = actor
	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return err
	}

	// Routing must stop before the caller sees success.
	s.cache.Invalidate(m.Name)

	if err := s.jobs.Cancel(ctx, m.ID.String()); err != nil {
		s.logger.Warn("failed to cancel pending jobs", zap.String("domain", m.Name), zap.Error(err))
	}
	if err := s.jobs.Enqueue(ctx, &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobDomainCleanup,
		MappingID: m.ID.String(),
		TenantID:  tenantID.String(),
		ReadyAt:   s.now(),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Error("failed to enqueue cleanup", zap.String("domain", m.Name), zap.Error(err))
	}

	if m.Kind == domain.KindCustom {
		if err := s.settings.SetCurrentCustomDomain(ctx, tenantID, ""); err != nil {
			s.logger.Warn("settings denormalization failed", zap.Error(err))
		}
	}

	s.events.Publish(ctx, notify.Event{
		Type:       notify.EventDomainRemoved,
		TenantID:   tenantID.String(),
		MappingID:  m.ID.String(),
		Domain:     m.Name,
		OccurredAt: s.now(),
	})

	return nil
}

func (s *Service) GetMapping(ctx context.Context, tenantID, id uuid.UUID) (*domain.Mapping, error) {
	return s.store.GetMapping(ctx, tenantID, id)
}

func (s *Service) ListMappings(ctx context.Context, tenantID uuid.UUID) ([]*domain.Mapping, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

func (s *Service) QuotaUsage(ctx context.Context, tenantID uuid.UUID) (used, limit int, err error) {
	plan, err := s.directory.PlanFor(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	used, err = s.store.CountCustomDomains(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	return used, s.policy.CustomDomainLimit(plan), nil
}

// NewToken mints a fresh verification token.
func NewToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to issue
		// tokens at all.
		panic(err)
	}
	return "craftora-verify-" + hex.EncodeToString(buf)
}

// IsNotFound reports whether err is the registry's not-found kind,
// covering both missing rows and rows owned by another tenant.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
