package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MappingKind string

const (
	KindSubdomain MappingKind = "subdomain"
	KindCustom    MappingKind = "custom"
)

type MappingStatus string

const (
	StatusPendingVerification MappingStatus = "pending_verification"
	StatusActive              MappingStatus = "active"
	StatusError               MappingStatus = "error"
	StatusDeleting            MappingStatus = "deleting"
)

type VerificationMethod string

const (
	MethodDNS   VerificationMethod = "dns"
	MethodFile  VerificationMethod = "file"
	MethodEmail VerificationMethod = "email"
)

type CertificateType string

const (
	CertManaged CertificateType = "managed"
	CertCustom  CertificateType = "custom"
)

type CheckState string

const (
	CheckHealthy CheckState = "healthy"
	CheckWarning CheckState = "warning"
	CheckError   CheckState = "error"
)

// Mapping binds one hostname to its owning tenant along with the
// verification and certificate state that hostname carries.
type Mapping struct {
	ID       uuid.UUID     `json:"id" db:"id"`
	TenantID uuid.UUID     `json:"tenant_id" db:"tenant_id"`
	Name     string        `json:"name" db:"name"`
	Kind     MappingKind   `json:"kind" db:"kind"`
	Status   MappingStatus `json:"status" db:"status"`

	// Certificate
	CertType    CertificateType `json:"cert_type" db:"cert_type"`
	CertSerial  *string         `json:"cert_serial,omitempty" db:"cert_serial"`
	SSLEnabled  bool            `json:"ssl_enabled" db:"ssl_enabled"`
	AutoRenew   bool            `json:"auto_renew" db:"auto_renew"`
	CertExpires *time.Time      `json:"cert_expires_at,omitempty" db:"cert_expires_at"`

	// Verification
	Method            VerificationMethod `json:"verification_method" db:"verification_method"`
	VerificationToken string             `json:"-" db:"verification_token"`
	ExpectedRecords   RecordSet          `json:"expected_records" db:"expected_records"`
	ObservedRecords   RecordSet          `json:"observed_records" db:"observed_records"`
	LastCheckedAt     *time.Time         `json:"last_checked_at,omitempty" db:"last_checked_at"`

	// Cached health
	DNSStatus      CheckState `json:"dns_status" db:"dns_status"`
	SSLStatus      CheckState `json:"ssl_status" db:"ssl_status"`
	HTTPStatus     CheckState `json:"http_status" db:"http_status"`
	OverallHealth  CheckState `json:"overall_health" db:"overall_health"`
	HealthFailures int        `json:"-" db:"health_failures"`
	LastHealthAt   *time.Time `json:"last_health_check_at,omitempty" db:"last_health_check_at"`
	AvgResponseMs  float64    `json:"average_response_time_ms" db:"average_response_time_ms"`
	UptimePercent  float64    `json:"uptime_percent" db:"uptime_percent"`

	// Audit
	Version       int64     `json:"-" db:"version"`
	CreatedBy     string    `json:"created_by" db:"created_by"`
	LastUpdatedBy string    `json:"last_updated_by" db:"last_updated_by"`
	Metadata      JSONB     `json:"metadata" db:"metadata"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Certificate is an issued or uploaded TLS credential. Immutable once
// stored: renewal inserts a new row and supersedes the old one.
type Certificate struct {
	Serial     string          `json:"serial" db:"serial"`
	MappingID  uuid.UUID       `json:"mapping_id" db:"mapping_id"`
	Type       CertificateType `json:"type" db:"type"`
	Issuer     string          `json:"issuer" db:"issuer"`
	ValidFrom  time.Time       `json:"valid_from" db:"valid_from"`
	ExpiresAt  time.Time       `json:"expires_at" db:"expires_at"`
	CertPEM    string          `json:"-" db:"cert_pem"`
	KeyPEM     string          `json:"-" db:"key_pem"`
	ChainPEM   string          `json:"-" db:"chain_pem"`
	Revoked    bool            `json:"revoked" db:"revoked"`
	Superseded bool            `json:"superseded" db:"superseded"`
	IssuedAt   time.Time       `json:"issued_at" db:"issued_at"`
}

// Record is a single DNS record the tenant must publish (or that was
// observed while verifying).
type Record struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   int    `json:"ttl,omitempty"`
}

type RecordSet []Record

func (r RecordSet) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RecordSet) Scan(value interface{}) error {
	if value == nil {
		*r = RecordSet{}
		return nil
	}
	return json.Unmarshal(value.([]byte), r)
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return json.Unmarshal(value.([]byte), j)
}

// HealthReport is the output of a composite health check. Overall is the
// worst of the four sub-checks.
type HealthReport struct {
	MappingID   uuid.UUID     `json:"mapping_id"`
	Overall     CheckState    `json:"overall"`
	DNS         SubCheck      `json:"dns"`
	SSL         SubCheck      `json:"ssl"`
	HTTP        SubCheck      `json:"http"`
	Performance SubCheck      `json:"performance"`
	Issues      []HealthIssue `json:"issues"`
	ResponseMs  float64       `json:"response_time_ms"`
	CheckedAt   time.Time     `json:"checked_at"`
}

type SubCheck struct {
	State   CheckState `json:"state"`
	Message string     `json:"message,omitempty"`
}

type HealthIssue struct {
	Severity    string `json:"severity"` // critical, warning, info
	Category    string `json:"category"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

func WorstOf(states ...CheckState) CheckState {
	worst := CheckHealthy
	for _, s := range states {
		switch s {
		case CheckError:
			return CheckError
		case CheckWarning:
			worst = CheckWarning
		}
	}
	return worst
}
