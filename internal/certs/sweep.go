package certs

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/metrics"
	"github.com/craftora/domain-gateway/internal/registry"
)

const (
	DefaultRenewalHorizon = 30 * 24 * time.Hour
	DefaultSweepWorkers   = 4
	DefaultMaxJitter      = 30 * time.Second
)

// Sweep renews every active auto-renew mapping whose certificate expires
// inside the horizon. Renewals run on a bounded worker pool with per-job
// jitter so a large expiring cohort does not hammer the CA at once; one
// domain's failure never aborts the sweep for the rest.
type Sweep struct {
	store   registry.Store
	service *Service
	metrics *metrics.Collector
	logger  *zap.Logger

	Horizon   time.Duration
	Workers   int
	MaxJitter time.Duration

	now    func() time.Time
	jitter func() time.Duration
}

func NewSweep(store registry.Store, service *Service, collector *metrics.Collector, logger *zap.Logger) *Sweep {
	s := &Sweep{
		store:     store,
		service:   service,
		metrics:   collector,
		logger:    logger,
		Horizon:   DefaultRenewalHorizon,
		Workers:   DefaultSweepWorkers,
		MaxJitter: DefaultMaxJitter,
		now:       time.Now,
	}
	s.jitter = func() time.Duration {
		if s.MaxJitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(s.MaxJitter)))
	}
	return s
}

// Run executes one sweep pass and returns how many renewals succeeded.
func (s *Sweep) Run(ctx context.Context) int {
	start := s.now()

	due, err := s.store.DueForRenewal(ctx, start.Add(s.Horizon))
	if err != nil {
		s.logger.Error("renewal sweep: failed to list due mappings", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	s.logger.Info("renewal sweep starting",
		zap.Int("due", len(due)),
		zap.Duration("horizon", s.Horizon),
	)

	work := make(chan *domain.Mapping)
	var wg sync.WaitGroup
	var mu sync.Mutex
	renewed := 0

	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range work {
				if delay := s.jitter(); delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return
					}
				}

				if _, err := s.service.RenewManaged(ctx, m.TenantID, m.ID, "renewal-sweep"); err != nil {
					s.logger.Warn("renewal failed",
						zap.String("domain", m.Name),
						zap.Error(err),
					)
					continue
				}
				mu.Lock()
				renewed++
				mu.Unlock()
			}
		}()
	}

feed:
	for _, m := range due {
		select {
		case work <- m:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	s.metrics.RecordSweep(s.now().Sub(start))
	s.logger.Info("renewal sweep finished",
		zap.Int("due", len(due)),
		zap.Int("renewed", renewed),
		zap.Duration("took", s.now().Sub(start)),
	)

	return renewed
}
