package dnsverify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/notify"
	"github.com/craftora/domain-gateway/internal/queue"
	"github.com/craftora/domain-gateway/internal/registry"
)

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(hostname string) {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, hostname)
	c.mu.Unlock()
}

type recordingEvents struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *recordingEvents) Publish(_ context.Context, event notify.Event) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

func (e *recordingEvents) byType(eventType string) []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []notify.Event
	for _, ev := range e.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type recordingJobs struct {
	mu       sync.Mutex
	enqueued []*queue.Job
}

func (j *recordingJobs) Enqueue(_ context.Context, job *queue.Job) error {
	j.mu.Lock()
	j.enqueued = append(j.enqueued, job)
	j.mu.Unlock()
	return nil
}

func (j *recordingJobs) Cancel(_ context.Context, _ string) error { return nil }

func (j *recordingJobs) byType(jobType string) []*queue.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*queue.Job
	for _, job := range j.enqueued {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

type verifyFixture struct {
	service *Service
	store   *registry.Memory
	source  *fakeSource
	cache   *recordingCache
	events  *recordingEvents
	jobs    *recordingJobs
	now     time.Time
}

func newVerifyFixture() *verifyFixture {
	f := &verifyFixture{
		store:  registry.NewMemory(),
		source: &fakeSource{cnames: map[string]string{}, txts: map[string][]string{}},
		cache:  &recordingCache{},
		events: &recordingEvents{},
		jobs:   &recordingJobs{},
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.store, NewEvaluator(f.source), f.cache, f.events, f.jobs,
		nil, zap.NewNop(), "edge.craftora.net", func() time.Time { return f.now })
	return f
}

func (f *verifyFixture) pendingMapping(t *testing.T, name string) *domain.Mapping {
	t.Helper()
	m := &domain.Mapping{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		Name:              name,
		Kind:              domain.KindCustom,
		Status:            domain.StatusPendingVerification,
		Method:            domain.MethodDNS,
		CertType:          domain.CertManaged,
		AutoRenew:         true,
		VerificationToken: registry.NewToken(),
		CreatedAt:         f.now.Add(-10 * time.Minute),
	}
	require.NoError(t, f.store.CreateMapping(context.Background(), m, 10))
	return m
}

func (f *verifyFixture) publishRecords(m *domain.Mapping) {
	f.source.cnames[m.Name] = "edge.craftora.net."
	f.source.txts[registry.VerifyLabel+"."+m.Name] = []string{m.VerificationToken}
}

func TestVerifyDomainActivates(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	f.publishRecords(m)

	result, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, StatusVerified, result.Status)
	require.NotNil(t, result.PropagationSeconds)
	assert.Equal(t, int64(600), *result.PropagationSeconds)

	stored, err := f.store.GetMapping(context.Background(), m.TenantID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.Equal(t, domain.CheckHealthy, stored.DNSStatus)
	assert.NotEmpty(t, stored.ObservedRecords)
	require.NotNil(t, stored.LastCheckedAt)

	assert.Contains(t, f.cache.invalidated, "shop.example.com")
	assert.Len(t, f.events.byType(notify.EventDomainVerified), 1)
	assert.Len(t, f.jobs.byType(queue.JobIssueCertificate), 1)
}

func TestVerifyDomainIdempotentOnActive(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	f.publishRecords(m)

	_, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)

	result, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Nil(t, result.PropagationSeconds, "only the first activation reports propagation time")
	assert.Len(t, f.events.byType(notify.EventDomainVerified), 1, "re-verifying stays silent")
}

func TestVerifyDomainMismatchKeepsPending(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	f.source.cnames[m.Name] = "parking.example.net."

	result, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, StatusError, result.Status)
	assert.NotEmpty(t, result.Issues)

	stored, err := f.store.GetMapping(context.Background(), m.TenantID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, stored.Status, "a failed pass never demotes the mapping")

	assert.Len(t, f.events.byType(notify.EventDomainVerificationFailed), 1)
	assert.Empty(t, f.jobs.byType(queue.JobIssueCertificate))
}

func TestVerifyDomainSubdomainAlwaysVerified(t *testing.T) {
	f := newVerifyFixture()
	m := &domain.Mapping{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "myshop.craftora.site",
		Kind:     domain.KindSubdomain,
		Status:   domain.StatusActive,
		CertType: domain.CertManaged,
	}
	require.NoError(t, f.store.CreateMapping(context.Background(), m, 10))

	result, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerifyDomainFileMethodNeedsOnlyCNAME(t *testing.T) {
	f := newVerifyFixture()
	m := &domain.Mapping{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		Name:              "shop.example.com",
		Kind:              domain.KindCustom,
		Status:            domain.StatusPendingVerification,
		Method:            domain.MethodFile,
		CertType:          domain.CertManaged,
		VerificationToken: registry.NewToken(),
		CreatedAt:         f.now.Add(-10 * time.Minute),
	}
	require.NoError(t, f.store.CreateMapping(context.Background(), m, 10))

	// File-method tenants are instructed to publish the CNAME alone; the
	// token lives in the well-known file, never in a TXT record.
	f.source.cnames[m.Name] = "edge.craftora.net."

	result, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Verified)

	stored, err := f.store.GetMapping(context.Background(), m.TenantID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
}

func TestVerifyDomainCountsOutcomes(t *testing.T) {
	f := newVerifyFixture()
	reg := prometheus.NewRegistry()
	f.service = NewService(f.store, NewEvaluator(f.source), f.cache, f.events, f.jobs,
		metrics.NewCollector(reg), zap.NewNop(), "edge.craftora.net", func() time.Time { return f.now })

	good := f.pendingMapping(t, "shop.example.com")
	f.publishRecords(good)
	_, err := f.service.VerifyDomain(context.Background(), good.TenantID, good.ID, "user-1")
	require.NoError(t, err)

	bad := f.pendingMapping(t, "blog.example.com")
	f.source.cnames[bad.Name] = "parking.example.net."
	_, err = f.service.VerifyDomain(context.Background(), bad.TenantID, bad.ID, "user-1")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "domain_gateway_verification_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per observed outcome")
}

func TestProcessRecheckReschedulesWithBackoff(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	// No DNS records published yet, so the pass stays pending.

	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		Attempt:   1,
	}
	require.NoError(t, f.service.ProcessRecheck(context.Background(), job))

	rechecks := f.jobs.byType(queue.JobVerifyRecheck)
	require.Len(t, rechecks, 1)
	assert.Equal(t, 2, rechecks[0].Attempt)
	assert.Equal(t, f.now.Add(5*time.Minute), rechecks[0].ReadyAt)
}

func TestProcessRecheckStopsWhenVerified(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	f.publishRecords(m)

	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		Attempt:   2,
	}
	require.NoError(t, f.service.ProcessRecheck(context.Background(), job))

	assert.Empty(t, f.jobs.byType(queue.JobVerifyRecheck))
	assert.Len(t, f.events.byType(notify.EventDomainVerified), 1)
}

func TestProcessRecheckGivesUpAfterWindow(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")

	// Age the mapping past the recheck window.
	stored, err := f.store.GetMapping(context.Background(), m.TenantID, m.ID)
	require.NoError(t, err)
	stored.CreatedAt = f.now.Add(-25 * time.Hour)
	require.NoError(t, f.store.UpdateMapping(context.Background(), stored))

	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		Attempt:   12,
	}
	require.NoError(t, f.service.ProcessRecheck(context.Background(), job))

	assert.Empty(t, f.jobs.byType(queue.JobVerifyRecheck))
	assert.Len(t, f.events.byType(notify.EventDomainVerificationStale), 1)
}

func TestProcessRecheckSkipsNonPending(t *testing.T) {
	f := newVerifyFixture()
	m := &domain.Mapping{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "shop.example.com",
		Kind:     domain.KindCustom,
		Status:   domain.StatusActive,
		CertType: domain.CertManaged,
	}
	require.NoError(t, f.store.CreateMapping(context.Background(), m, 10))

	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: m.ID.String(),
		TenantID:  m.TenantID.String(),
		Attempt:   3,
	}
	require.NoError(t, f.service.ProcessRecheck(context.Background(), job))
	assert.Empty(t, f.jobs.enqueued)
}

func TestProcessRecheckRemovedMapping(t *testing.T) {
	f := newVerifyFixture()

	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobVerifyRecheck,
		MappingID: uuid.New().String(),
		TenantID:  uuid.New().String(),
		Attempt:   1,
	}
	assert.NoError(t, f.service.ProcessRecheck(context.Background(), job))
}

func TestInitiateVerificationRejectsSubdomain(t *testing.T) {
	f := newVerifyFixture()
	m := &domain.Mapping{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "myshop.craftora.site",
		Kind:     domain.KindSubdomain,
		Status:   domain.StatusActive,
		CertType: domain.CertManaged,
	}
	require.NoError(t, f.store.CreateMapping(context.Background(), m, 10))

	_, err := f.service.InitiateVerification(context.Background(), m.TenantID, m.ID, InitiateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestInitiateVerificationRejectsActive(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	f.publishRecords(m)
	_, err := f.service.VerifyDomain(context.Background(), m.TenantID, m.ID, "user-1")
	require.NoError(t, err)

	_, err = f.service.InitiateVerification(context.Background(), m.TenantID, m.ID, InitiateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestInitiateVerificationRestartsFromError(t *testing.T) {
	f := newVerifyFixture()
	m := f.pendingMapping(t, "shop.example.com")
	oldToken := m.VerificationToken

	stored, err := f.store.GetMapping(context.Background(), m.TenantID, m.ID)
	require.NoError(t, err)
	require.NoError(t, domain.Transition(stored, domain.StatusError))
	require.NoError(t, f.store.UpdateMapping(context.Background(), stored))

	restarted, err := f.service.InitiateVerification(context.Background(), m.TenantID, m.ID, InitiateOptions{
		AutoRecheck: true,
		Actor:       "user-2",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingVerification, restarted.Status)
	assert.NotEqual(t, oldToken, restarted.VerificationToken, "restart mints a fresh token")
	assert.Equal(t, "user-2", restarted.LastUpdatedBy)
	require.Len(t, restarted.ExpectedRecords, 2)
	assert.Contains(t, f.cache.invalidated, "shop.example.com")

	rechecks := f.jobs.byType(queue.JobVerifyRecheck)
	require.Len(t, rechecks, 1)
	assert.Equal(t, 1, rechecks[0].Attempt)
	assert.Equal(t, f.now.Add(time.Minute), rechecks[0].ReadyAt)
}

func TestDelayForAttempt(t *testing.T) {
	assert.Equal(t, time.Minute, delayForAttempt(1))
	assert.Equal(t, 5*time.Minute, delayForAttempt(2))
	assert.Equal(t, 15*time.Minute, delayForAttempt(3))
	assert.Equal(t, time.Hour, delayForAttempt(4))
	assert.Equal(t, time.Hour, delayForAttempt(5))
	assert.Equal(t, time.Hour, delayForAttempt(20))
	assert.Equal(t, time.Minute, delayForAttempt(0))
}
