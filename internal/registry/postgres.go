package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/craftora/domain-gateway/internal/domain"
)

// Postgres implements Store on sqlx. Name uniqueness rides on the partial
// unique index over non-deleting rows (see migrations); the quota check
// runs under a per-tenant advisory lock in the insert's transaction so
// two concurrent creates cannot both slip under the limit.
type Postgres struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

const mappingColumns = `
    id, tenant_id, name, kind, status,
    cert_type, cert_serial, ssl_enabled, auto_renew, cert_expires_at,
    verification_method, verification_token, expected_records, observed_records, last_checked_at,
    dns_status, ssl_status, http_status, overall_health, health_failures,
    last_health_check_at, average_response_time_ms, uptime_percent,
    version, created_by, last_updated_by, metadata, created_at, updated_at`

func (s *Postgres) CreateMapping(ctx context.Context, m *domain.Mapping, customLimit int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.Kind == domain.KindCustom {
		// Row locks cannot exclude a concurrent insert of a new row, so the
		// count-then-insert pair is serialized per tenant with an advisory
		// lock held until commit.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock($1)`, tenantLockKey(m.TenantID)); err != nil {
			return err
		}

		var used int
		err := tx.GetContext(ctx, &used, `
            SELECT COUNT(*) FROM domain_mappings
            WHERE tenant_id = $1 AND kind = 'custom' AND status != 'deleting'`, m.TenantID)
		if err != nil {
			return err
		}
		if used >= customLimit {
			return &domain.QuotaError{Used: used, Limit: customLimit}
		}
	}

	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO domain_mappings (`+mappingColumns+`)
        VALUES (
            :id, :tenant_id, :name, :kind, :status,
            :cert_type, :cert_serial, :ssl_enabled, :auto_renew, :cert_expires_at,
            :verification_method, :verification_token, :expected_records, :observed_records, :last_checked_at,
            :dns_status, :ssl_status, :http_status, :overall_health, :health_failures,
            :last_health_check_at, :average_response_time_ms, :uptime_percent,
            :version, :created_by, :last_updated_by, :metadata, :created_at, :updated_at
        )`, m)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", domain.ErrDomainTaken, m.Name)
		}
		return err
	}

	return tx.Commit()
}

// tenantLockKey folds a tenant id into the bigint keyspace of
// pg_advisory_xact_lock. Stable across processes; collisions between
// tenants only cost unnecessary serialization, never correctness.
func tenantLockKey(tenantID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(tenantID[:])
	return int64(h.Sum64())
}

func (s *Postgres) GetMapping(ctx context.Context, tenantID, id uuid.UUID) (*domain.Mapping, error) {
	var m domain.Mapping
	err := s.db.GetContext(ctx, &m, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mapping %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) FindByName(ctx context.Context, name string) (*domain.Mapping, error) {
	var m domain.Mapping
	err := s.db.GetContext(ctx, &m, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE name = $1 AND status != 'deleting'`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: domain %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) FindActiveByHostname(ctx context.Context, hostname string) (*domain.Mapping, error) {
	var m domain.Mapping
	err := s.db.GetContext(ctx, &m, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE name = $1 AND status = 'active'`, hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active mapping for %s", domain.ErrNotFound, hostname)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Mapping, error) {
	mappings := []*domain.Mapping{}
	err := s.db.SelectContext(ctx, &mappings, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE tenant_id = $1 AND status != 'deleting'
        ORDER BY name`, tenantID)
	return mappings, err
}

func (s *Postgres) CountCustomDomains(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
        SELECT COUNT(*) FROM domain_mappings
        WHERE tenant_id = $1 AND kind = 'custom' AND status != 'deleting'`, tenantID)
	return count, err
}

func (s *Postgres) UpdateMapping(ctx context.Context, m *domain.Mapping) error {
	m.UpdatedAt = time.Now()
	res, err := s.db.NamedExecContext(ctx, `
        UPDATE domain_mappings SET
            status = :status,
            cert_type = :cert_type,
            cert_serial = :cert_serial,
            ssl_enabled = :ssl_enabled,
            auto_renew = :auto_renew,
            cert_expires_at = :cert_expires_at,
            verification_method = :verification_method,
            verification_token = :verification_token,
            expected_records = :expected_records,
            observed_records = :observed_records,
            last_checked_at = :last_checked_at,
            last_updated_by = :last_updated_by,
            metadata = :metadata,
            updated_at = :updated_at,
            version = version + 1
        WHERE id = :id AND version = :version`, m)
	if err != nil {
		return err
	}
	return s.checkVersioned(res, m)
}

// UpdateHealth writes only the cached health fields so a health report
// racing a tenant update never clobbers configuration.
func (s *Postgres) UpdateHealth(ctx context.Context, m *domain.Mapping) error {
	res, err := s.db.NamedExecContext(ctx, `
        UPDATE domain_mappings SET
            dns_status = :dns_status,
            ssl_status = :ssl_status,
            http_status = :http_status,
            overall_health = :overall_health,
            health_failures = :health_failures,
            last_health_check_at = :last_health_check_at,
            average_response_time_ms = :average_response_time_ms,
            uptime_percent = :uptime_percent,
            version = version + 1
        WHERE id = :id AND version = :version`, m)
	if err != nil {
		return err
	}
	return s.checkVersioned(res, m)
}

func (s *Postgres) checkVersioned(res sql.Result, m *domain.Mapping) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: mapping %s", domain.ErrVersionConflict, m.ID)
	}
	m.Version++
	return nil
}

func (s *Postgres) HardDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM domain_mappings WHERE id = $1`, id)
	return err
}

func (s *Postgres) DueForRenewal(ctx context.Context, before time.Time) ([]*domain.Mapping, error) {
	mappings := []*domain.Mapping{}
	err := s.db.SelectContext(ctx, &mappings, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE status = 'active'
          AND cert_type = 'managed'
          AND auto_renew = true
          AND cert_expires_at IS NOT NULL
          AND cert_expires_at < $1
        ORDER BY cert_expires_at`, before)
	return mappings, err
}

// DueForHealthCheck returns routable mappings whose last check is older
// than the cutoff, never-checked mappings first.
func (s *Postgres) DueForHealthCheck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Mapping, error) {
	mappings := []*domain.Mapping{}
	err := s.db.SelectContext(ctx, &mappings, `
        SELECT `+mappingColumns+` FROM domain_mappings
        WHERE status IN ('active', 'error')
          AND (last_health_check_at IS NULL OR last_health_check_at < $1)
        ORDER BY last_health_check_at ASC NULLS FIRST
        LIMIT $2`, olderThan, limit)
	return mappings, err
}

func (s *Postgres) InsertCertificate(ctx context.Context, c *domain.Certificate) error {
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO certificates (
            serial, mapping_id, type, issuer, valid_from, expires_at,
            cert_pem, key_pem, chain_pem, revoked, superseded, issued_at
        ) VALUES (
            :serial, :mapping_id, :type, :issuer, :valid_from, :expires_at,
            :cert_pem, :key_pem, :chain_pem, :revoked, :superseded, :issued_at
        )`, c)
	return err
}

func (s *Postgres) LatestCertificate(ctx context.Context, mappingID uuid.UUID) (*domain.Certificate, error) {
	var c domain.Certificate
	err := s.db.GetContext(ctx, &c, `
        SELECT * FROM certificates
        WHERE mapping_id = $1 AND superseded = false AND revoked = false
        ORDER BY issued_at DESC LIMIT 1`, mappingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no certificate for mapping %s", domain.ErrNotFound, mappingID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) SupersedeCertificates(ctx context.Context, mappingID uuid.UUID, keepSerial string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE certificates SET superseded = true
        WHERE mapping_id = $1 AND serial != $2`, mappingID, keepSerial)
	return err
}

func (s *Postgres) RevokeCertificate(ctx context.Context, serial string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE certificates SET revoked = true WHERE serial = $1`, serial)
	return err
}
