package domain

import (
	"errors"
	"fmt"
	"time"
)

// Typed failure kinds. Services wrap these with %w so callers can classify
// with errors.Is; raw network and library errors never cross a component
// boundary without being translated into one of them.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDomainTaken        = errors.New("domain already taken")
	ErrQuotaExceeded      = errors.New("custom domain quota exceeded")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrDomainNotVerified  = errors.New("domain not verified")
	ErrRateLimited        = errors.New("certificate authority rate limited")
	ErrIssuanceFailed     = errors.New("certificate issuance failed")
	ErrHealthCheckTimeout = errors.New("health check timed out")
	ErrVersionConflict    = errors.New("concurrent modification")
)

// RateLimitError carries the authority's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("certificate authority rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IssuanceError distinguishes permanent CA rejections from transient
// failures. Anything not explicitly permanent is retried with backoff.
type IssuanceError struct {
	Reason    string
	Permanent bool
}

func (e *IssuanceError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("certificate issuance rejected: %s", e.Reason)
	}
	return fmt.Sprintf("certificate issuance failed: %s", e.Reason)
}

func (e *IssuanceError) Unwrap() error { return ErrIssuanceFailed }

// QuotaError reports current usage against the plan limit so the API can
// surface both to the tenant.
type QuotaError struct {
	Used  int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("custom domain quota exceeded: %d of %d used", e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }
