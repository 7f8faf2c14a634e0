package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/craftora/domain-gateway/internal/domain"
)

// Bucket is one hour of aggregated traffic for a mapping.
type Bucket struct {
	MappingID   uuid.UUID `json:"mapping_id" db:"mapping_id"`
	TenantID    uuid.UUID `json:"-" db:"tenant_id"`
	Hour        time.Time `json:"hour" db:"hour"`
	Requests    int64     `json:"requests" db:"requests"`
	Errors      int64     `json:"errors" db:"errors"`
	TotalTimeMs float64   `json:"-" db:"total_time_ms"`
	MaxTimeMs   float64   `json:"max_time_ms" db:"max_time_ms"`
}

// Sample is one observed request, reported by the routing layer.
type Sample struct {
	MappingID  uuid.UUID
	TenantID   uuid.UUID
	Error      bool
	ResponseMs float64
	At         time.Time
}

type Store interface {
	Record(ctx context.Context, s Sample) error
	Series(ctx context.Context, tenantID, mappingID uuid.UUID, from, to time.Time) ([]Bucket, error)
}

// Summary aggregates a mapping's traffic over a requested window.
type Summary struct {
	MappingID      uuid.UUID `json:"mapping_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	TotalRequests  int64     `json:"total_requests"`
	TotalErrors    int64     `json:"total_errors"`
	ErrorRatePct   float64   `json:"error_rate_percent"`
	AvgResponseMs  float64   `json:"average_response_time_ms"`
	PeakResponseMs float64   `json:"peak_response_time_ms"`
	UptimePercent  float64   `json:"uptime_percent"`
	Series         []Bucket  `json:"series"`
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Record(ctx context.Context, sample Sample) error {
	return s.store.Record(ctx, sample)
}

// Summarize computes the window summary. Uptime here is availability as
// seen by traffic: the share of hours in which not every request failed.
func (s *Service) Summarize(ctx context.Context, tenantID, mappingID uuid.UUID, from, to time.Time) (*Summary, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: analytics window end must be after start", domain.ErrInvalidInput)
	}

	buckets, err := s.store.Series(ctx, tenantID, mappingID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		MappingID: mappingID,
		From:      from,
		To:        to,
		Series:    buckets,
	}

	var totalTime float64
	healthyHours := 0
	for _, b := range buckets {
		summary.TotalRequests += b.Requests
		summary.TotalErrors += b.Errors
		totalTime += b.TotalTimeMs
		if b.MaxTimeMs > summary.PeakResponseMs {
			summary.PeakResponseMs = b.MaxTimeMs
		}
		if b.Requests == 0 || b.Errors < b.Requests {
			healthyHours++
		}
	}

	if summary.TotalRequests > 0 {
		summary.ErrorRatePct = 100 * float64(summary.TotalErrors) / float64(summary.TotalRequests)
		summary.AvgResponseMs = totalTime / float64(summary.TotalRequests)
	}
	if len(buckets) > 0 {
		summary.UptimePercent = 100 * float64(healthyHours) / float64(len(buckets))
	} else {
		summary.UptimePercent = 100
	}

	return summary, nil
}

// ParseWindow maps the API's range parameter onto a concrete window.
func ParseWindow(rangeParam string, now time.Time) (from, to time.Time) {
	to = now
	switch rangeParam {
	case "1h":
		from = now.Add(-1 * time.Hour)
	case "7d":
		from = now.Add(-7 * 24 * time.Hour)
	case "30d":
		from = now.Add(-30 * 24 * time.Hour)
	default:
		from = now.Add(-24 * time.Hour)
	}
	return from, to
}

// PostgresStore keeps hourly buckets in the domain_traffic table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, sample Sample) error {
	errs := int64(0)
	if sample.Error {
		errs = 1
	}
	hour := sample.At.Truncate(time.Hour)

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO domain_traffic (mapping_id, tenant_id, hour, requests, errors, total_time_ms, max_time_ms)
        VALUES ($1, $2, $3, 1, $4, $5, $5)
        ON CONFLICT (mapping_id, hour) DO UPDATE SET
            requests = domain_traffic.requests + 1,
            errors = domain_traffic.errors + $4,
            total_time_ms = domain_traffic.total_time_ms + $5,
            max_time_ms = GREATEST(domain_traffic.max_time_ms, $5)`,
		sample.MappingID, sample.TenantID, hour, errs, sample.ResponseMs)
	return err
}

func (s *PostgresStore) Series(ctx context.Context, tenantID, mappingID uuid.UUID, from, to time.Time) ([]Bucket, error) {
	buckets := []Bucket{}
	err := s.db.SelectContext(ctx, &buckets, `
        SELECT mapping_id, tenant_id, hour, requests, errors, total_time_ms, max_time_ms
        FROM domain_traffic
        WHERE mapping_id = $1 AND tenant_id = $2 AND hour >= $3 AND hour < $4
        ORDER BY hour`, mappingID, tenantID, from, to)
	return buckets, err
}

// MemoryStore backs tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket)}
}

func (s *MemoryStore) Record(_ context.Context, sample Sample) error {
	hour := sample.At.Truncate(time.Hour)
	key := sample.MappingID.String() + hour.Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &Bucket{MappingID: sample.MappingID, TenantID: sample.TenantID, Hour: hour}
		s.buckets[key] = b
	}
	b.Requests++
	if sample.Error {
		b.Errors++
	}
	b.TotalTimeMs += sample.ResponseMs
	if sample.ResponseMs > b.MaxTimeMs {
		b.MaxTimeMs = sample.ResponseMs
	}
	return nil
}

func (s *MemoryStore) Series(_ context.Context, tenantID, mappingID uuid.UUID, from, to time.Time) ([]Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Bucket{}
	for _, b := range s.buckets {
		if b.MappingID != mappingID || b.TenantID != tenantID {
			continue
		}
		if b.Hour.Before(from) || !b.Hour.Before(to) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}
