package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftora/domain-gateway/internal/domain"
)

// Memory is an in-process Store for tests and local development. A single
// mutex makes CreateMapping's uniqueness+quota check atomic, matching the
// transactional guarantees of the postgres store.
type Memory struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*domain.Mapping
	certs    map[string]*domain.Certificate
}

func NewMemory() *Memory {
	return &Memory{
		mappings: make(map[uuid.UUID]*domain.Mapping),
		certs:    make(map[string]*domain.Certificate),
	}
}

func cloneMapping(m *domain.Mapping) *domain.Mapping {
	c := *m
	c.ExpectedRecords = append(domain.RecordSet{}, m.ExpectedRecords...)
	c.ObservedRecords = append(domain.RecordSet{}, m.ObservedRecords...)
	return &c
}

func (s *Memory) CreateMapping(_ context.Context, m *domain.Mapping, customLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := 0
	for _, existing := range s.mappings {
		if existing.Status == domain.StatusDeleting {
			continue
		}
		if existing.Name == m.Name {
			return fmt.Errorf("%w: %s", domain.ErrDomainTaken, m.Name)
		}
		if existing.TenantID == m.TenantID && existing.Kind == domain.KindCustom {
			used++
		}
	}
	if m.Kind == domain.KindCustom && used >= customLimit {
		return &domain.QuotaError{Used: used, Limit: customLimit}
	}

	s.mappings[m.ID] = cloneMapping(m)
	return nil
}

func (s *Memory) GetMapping(_ context.Context, tenantID, id uuid.UUID) (*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[id]
	if !ok || m.TenantID != tenantID {
		return nil, fmt.Errorf("%w: mapping %s", domain.ErrNotFound, id)
	}
	return cloneMapping(m), nil
}

func (s *Memory) FindByName(_ context.Context, name string) (*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mappings {
		if m.Name == name && m.Status != domain.StatusDeleting {
			return cloneMapping(m), nil
		}
	}
	return nil, fmt.Errorf("%w: domain %s", domain.ErrNotFound, name)
}

func (s *Memory) FindActiveByHostname(_ context.Context, hostname string) (*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mappings {
		if m.Name == hostname && m.Status == domain.StatusActive {
			return cloneMapping(m), nil
		}
	}
	return nil, fmt.Errorf("%w: no active mapping for %s", domain.ErrNotFound, hostname)
}

func (s *Memory) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Mapping{}
	for _, m := range s.mappings {
		if m.TenantID == tenantID && m.Status != domain.StatusDeleting {
			out = append(out, cloneMapping(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Memory) CountCustomDomains(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.mappings {
		if m.TenantID == tenantID && m.Kind == domain.KindCustom && m.Status != domain.StatusDeleting {
			count++
		}
	}
	return count, nil
}

func (s *Memory) UpdateMapping(_ context.Context, m *domain.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.mappings[m.ID]
	if !ok {
		return fmt.Errorf("%w: mapping %s", domain.ErrNotFound, m.ID)
	}
	if current.Version != m.Version {
		return fmt.Errorf("%w: mapping %s", domain.ErrVersionConflict, m.ID)
	}
	m.Version++
	m.UpdatedAt = time.Now()
	s.mappings[m.ID] = cloneMapping(m)
	return nil
}

func (s *Memory) UpdateHealth(_ context.Context, m *domain.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.mappings[m.ID]
	if !ok {
		return fmt.Errorf("%w: mapping %s", domain.ErrNotFound, m.ID)
	}
	if current.Version != m.Version {
		return fmt.Errorf("%w: mapping %s", domain.ErrVersionConflict, m.ID)
	}
	current.DNSStatus = m.DNSStatus
	current.SSLStatus = m.SSLStatus
	current.HTTPStatus = m.HTTPStatus
	current.OverallHealth = m.OverallHealth
	current.HealthFailures = m.HealthFailures
	current.LastHealthAt = m.LastHealthAt
	current.AvgResponseMs = m.AvgResponseMs
	current.UptimePercent = m.UptimePercent
	current.Version++
	m.Version = current.Version
	return nil
}

func (s *Memory) HardDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, id)
	return nil
}

func (s *Memory) DueForRenewal(_ context.Context, before time.Time) ([]*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Mapping{}
	for _, m := range s.mappings {
		if m.Status != domain.StatusActive || m.CertType != domain.CertManaged || !m.AutoRenew {
			continue
		}
		if m.CertExpires != nil && m.CertExpires.Before(before) {
			out = append(out, cloneMapping(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CertExpires.Before(*out[j].CertExpires) })
	return out, nil
}

func (s *Memory) DueForHealthCheck(_ context.Context, olderThan time.Time, limit int) ([]*domain.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Mapping{}
	for _, m := range s.mappings {
		if m.Status != domain.StatusActive && m.Status != domain.StatusError {
			continue
		}
		if m.LastHealthAt == nil || m.LastHealthAt.Before(olderThan) {
			out = append(out, cloneMapping(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		switch {
		case out[i].LastHealthAt == nil:
			return true
		case out[j].LastHealthAt == nil:
			return false
		default:
			return out[i].LastHealthAt.Before(*out[j].LastHealthAt)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) InsertCertificate(_ context.Context, c *domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[c.Serial]; exists {
		return fmt.Errorf("certificate %s already stored", c.Serial)
	}
	cc := *c
	s.certs[c.Serial] = &cc
	return nil
}

func (s *Memory) LatestCertificate(_ context.Context, mappingID uuid.UUID) (*domain.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Certificate
	for _, c := range s.certs {
		if c.MappingID != mappingID || c.Superseded || c.Revoked {
			continue
		}
		if latest == nil || c.IssuedAt.After(latest.IssuedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no certificate for mapping %s", domain.ErrNotFound, mappingID)
	}
	cc := *latest
	return &cc, nil
}

func (s *Memory) SupersedeCertificates(_ context.Context, mappingID uuid.UUID, keepSerial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.certs {
		if c.MappingID == mappingID && c.Serial != keepSerial {
			c.Superseded = true
		}
	}
	return nil
}

func (s *Memory) RevokeCertificate(_ context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.certs[serial]; ok {
		c.Revoked = true
	}
	return nil
}
