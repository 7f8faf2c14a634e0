package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/craftora/domain-gateway/internal/domain"
)

// Store is the persistence boundary for mappings and certificates. Both
// implementations (postgres, memory) enforce the same invariants:
//
//   - at most one non-deleting mapping per normalized name, atomically,
//     even under concurrent CreateMapping calls;
//   - the custom-domain quota is checked inside the same atomic unit as
//     the insert;
//   - UpdateMapping and UpdateHealth are optimistic: they match on the
//     version the caller read and fail with ErrVersionConflict otherwise.
type Store interface {
	CreateMapping(ctx context.Context, m *domain.Mapping, customLimit int) error
	GetMapping(ctx context.Context, tenantID, id uuid.UUID) (*domain.Mapping, error)
	FindByName(ctx context.Context, name string) (*domain.Mapping, error)
	FindActiveByHostname(ctx context.Context, hostname string) (*domain.Mapping, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Mapping, error)
	CountCustomDomains(ctx context.Context, tenantID uuid.UUID) (int, error)
	UpdateMapping(ctx context.Context, m *domain.Mapping) error
	UpdateHealth(ctx context.Context, m *domain.Mapping) error
	HardDelete(ctx context.Context, id uuid.UUID) error
	DueForRenewal(ctx context.Context, before time.Time) ([]*domain.Mapping, error)
	DueForHealthCheck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Mapping, error)

	InsertCertificate(ctx context.Context, c *domain.Certificate) error
	LatestCertificate(ctx context.Context, mappingID uuid.UUID) (*domain.Certificate, error)
	SupersedeCertificates(ctx context.Context, mappingID uuid.UUID, keepSerial string) error
	RevokeCertificate(ctx context.Context, serial string) error
}
