package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/registry"
)

// DefaultLookupTimeout bounds the registry fallback so resolution failure
// degrades to "tenant not found" instead of a hung request.
const DefaultLookupTimeout = 250 * time.Millisecond

// Resolver maps an inbound hostname to its owning tenant. Called once per
// request by the routing layer; cache-first, registry on miss. Custom
// domains resolve only while their mapping is active — an unverified
// domain resolving to a tenant would let an attacker serve that tenant's
// content from a hostname they control.
type Resolver struct {
	store      registry.Store
	cache      *Cache
	metrics    *metrics.Collector
	logger     *zap.Logger
	baseDomain string

	LookupTimeout time.Duration
}

func New(store registry.Store, cache *Cache, collector *metrics.Collector, logger *zap.Logger, baseDomain string) *Resolver {
	return &Resolver{
		store:         store,
		cache:         cache,
		metrics:       collector,
		logger:        logger,
		baseDomain:    baseDomain,
		LookupTimeout: DefaultLookupTimeout,
	}
}

func (r *Resolver) Resolve(ctx context.Context, hostname string) (uuid.UUID, error) {
	start := time.Now()

	hostname = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(hostname)), ".")
	if host, _, ok := strings.Cut(hostname, ":"); ok {
		hostname = host
	}
	if hostname == "" {
		r.metrics.RecordResolve("not_found", time.Since(start))
		return uuid.Nil, fmt.Errorf("%w: empty hostname", domain.ErrNotFound)
	}

	if tenantID, ok := r.cache.Get(hostname); ok {
		r.metrics.RecordResolve("hit", time.Since(start))
		return tenantID, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.LookupTimeout)
	defer cancel()

	m, err := r.store.FindActiveByHostname(lookupCtx, hostname)
	if err != nil {
		// Registry trouble and genuine misses degrade identically: the
		// router shows "tenant not found" rather than hanging.
		if !registry.IsNotFound(err) {
			r.logger.Warn("registry lookup failed during resolution",
				zap.String("hostname", hostname), zap.Error(err))
		}
		r.metrics.RecordResolve("not_found", time.Since(start))
		return uuid.Nil, fmt.Errorf("%w: %s", domain.ErrNotFound, hostname)
	}

	r.cache.Set(hostname, m.TenantID)
	r.metrics.RecordResolve("miss", time.Since(start))
	return m.TenantID, nil
}

// SubdomainLabel extracts the tenant label from a platform subdomain, or
// returns false for custom domains.
func (r *Resolver) SubdomainLabel(hostname string) (string, bool) {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	suffix := "." + r.baseDomain
	if !strings.HasSuffix(hostname, suffix) {
		return "", false
	}
	label := strings.TrimSuffix(hostname, suffix)
	if label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}
