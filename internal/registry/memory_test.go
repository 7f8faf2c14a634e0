package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftora/domain-gateway/internal/domain"
)

func newMapping(tenantID uuid.UUID, name string, kind domain.MappingKind, status domain.MappingStatus) *domain.Mapping {
	return &domain.Mapping{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     name,
		Kind:     kind,
		Status:   status,
		CertType: domain.CertManaged,
	}
}

func TestMemoryCreateMappingUniqueness(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, store.CreateMapping(ctx, newMapping(tenant, "shop.example.com", domain.KindCustom, domain.StatusPendingVerification), 3))

	err := store.CreateMapping(ctx, newMapping(uuid.New(), "shop.example.com", domain.KindCustom, domain.StatusPendingVerification), 3)
	assert.ErrorIs(t, err, domain.ErrDomainTaken)
}

func TestMemoryCreateMappingReleasedAfterDeleting(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	m := newMapping(uuid.New(), "shop.example.com", domain.KindCustom, domain.StatusPendingVerification)
	require.NoError(t, store.CreateMapping(ctx, m, 3))

	require.NoError(t, domain.Transition(m, domain.StatusDeleting))
	require.NoError(t, store.UpdateMapping(ctx, m))

	// The draining row no longer blocks the name.
	err := store.CreateMapping(ctx, newMapping(uuid.New(), "shop.example.com", domain.KindCustom, domain.StatusPendingVerification), 3)
	assert.NoError(t, err)
}

func TestMemoryCreateMappingQuota(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, store.CreateMapping(ctx, newMapping(tenant, "a.example.com", domain.KindCustom, domain.StatusPendingVerification), 1))

	err := store.CreateMapping(ctx, newMapping(tenant, "b.example.com", domain.KindCustom, domain.StatusPendingVerification), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	var quotaErr *domain.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 1, quotaErr.Used)
	assert.Equal(t, 1, quotaErr.Limit)

	// Subdomains never count against the custom quota.
	err = store.CreateMapping(ctx, newMapping(tenant, "tenant.craftora.site", domain.KindSubdomain, domain.StatusActive), 1)
	assert.NoError(t, err)
}

func TestMemoryConcurrentCreateSameName(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateMapping(ctx, newMapping(uuid.New(), "raced.example.com", domain.KindCustom, domain.StatusPendingVerification), 10)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one concurrent create may win")
}

func TestMemoryVersionConflict(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	tenant := uuid.New()

	m := newMapping(tenant, "shop.example.com", domain.KindCustom, domain.StatusPendingVerification)
	require.NoError(t, store.CreateMapping(ctx, m, 3))

	first, err := store.GetMapping(ctx, tenant, m.ID)
	require.NoError(t, err)
	second, err := store.GetMapping(ctx, tenant, m.ID)
	require.NoError(t, err)

	first.LastUpdatedBy = "first"
	require.NoError(t, store.UpdateMapping(ctx, first))

	second.LastUpdatedBy = "second"
	err = store.UpdateMapping(ctx, second)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestMemoryUpdateHealthTouchesOnlyHealthFields(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	tenant := uuid.New()

	m := newMapping(tenant, "shop.example.com", domain.KindCustom, domain.StatusActive)
	m.AutoRenew = true
	require.NoError(t, store.CreateMapping(ctx, m, 3))

	report, err := store.GetMapping(ctx, tenant, m.ID)
	require.NoError(t, err)
	report.OverallHealth = domain.CheckError
	report.HealthFailures = 2
	report.AutoRenew = false // must not be persisted by UpdateHealth

	require.NoError(t, store.UpdateHealth(ctx, report))

	stored, err := store.GetMapping(ctx, tenant, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckError, stored.OverallHealth)
	assert.Equal(t, 2, stored.HealthFailures)
	assert.True(t, stored.AutoRenew, "UpdateHealth must not write config fields")
}

func TestMemoryFindActiveByHostname(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	pending := newMapping(uuid.New(), "pending.example.com", domain.KindCustom, domain.StatusPendingVerification)
	active := newMapping(uuid.New(), "active.example.com", domain.KindCustom, domain.StatusActive)
	require.NoError(t, store.CreateMapping(ctx, pending, 3))
	require.NoError(t, store.CreateMapping(ctx, active, 3))

	got, err := store.FindActiveByHostname(ctx, "active.example.com")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = store.FindActiveByHostname(ctx, "pending.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryDueForRenewal(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now()

	soon := newMapping(uuid.New(), "soon.example.com", domain.KindCustom, domain.StatusActive)
	soonExpiry := now.Add(10 * 24 * time.Hour)
	soon.AutoRenew = true
	soon.CertExpires = &soonExpiry

	far := newMapping(uuid.New(), "far.example.com", domain.KindCustom, domain.StatusActive)
	farExpiry := now.Add(60 * 24 * time.Hour)
	far.AutoRenew = true
	far.CertExpires = &farExpiry

	optedOut := newMapping(uuid.New(), "optout.example.com", domain.KindCustom, domain.StatusActive)
	optedOut.AutoRenew = false
	optedOut.CertExpires = &soonExpiry

	for _, m := range []*domain.Mapping{soon, far, optedOut} {
		require.NoError(t, store.CreateMapping(ctx, m, 10))
	}

	due, err := store.DueForRenewal(ctx, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "soon.example.com", due[0].Name)
}

func TestMemoryDueForHealthCheck(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now()

	never := newMapping(uuid.New(), "never.example.com", domain.KindCustom, domain.StatusActive)
	stale := newMapping(uuid.New(), "stale.example.com", domain.KindCustom, domain.StatusActive)
	staleAt := now.Add(-time.Hour)
	stale.LastHealthAt = &staleAt
	fresh := newMapping(uuid.New(), "fresh.example.com", domain.KindCustom, domain.StatusActive)
	freshAt := now.Add(-time.Minute)
	fresh.LastHealthAt = &freshAt
	pending := newMapping(uuid.New(), "pending.example.com", domain.KindCustom, domain.StatusPendingVerification)

	for _, m := range []*domain.Mapping{never, stale, fresh, pending} {
		require.NoError(t, store.CreateMapping(ctx, m, 10))
	}

	due, err := store.DueForHealthCheck(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "never.example.com", due[0].Name, "never-checked mappings come first")
	assert.Equal(t, "stale.example.com", due[1].Name)

	limited, err := store.DueForHealthCheck(ctx, now.Add(-5*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryCertificates(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	mappingID := uuid.New()

	old := &domain.Certificate{Serial: "old", MappingID: mappingID, Type: domain.CertManaged, IssuedAt: time.Now().Add(-time.Hour)}
	cur := &domain.Certificate{Serial: "new", MappingID: mappingID, Type: domain.CertManaged, IssuedAt: time.Now()}
	require.NoError(t, store.InsertCertificate(ctx, old))
	require.NoError(t, store.InsertCertificate(ctx, cur))

	latest, err := store.LatestCertificate(ctx, mappingID)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.Serial)

	require.NoError(t, store.SupersedeCertificates(ctx, mappingID, "new"))
	latest, err = store.LatestCertificate(ctx, mappingID)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.Serial)

	require.NoError(t, store.RevokeCertificate(ctx, "new"))
	_, err = store.LatestCertificate(ctx, mappingID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
