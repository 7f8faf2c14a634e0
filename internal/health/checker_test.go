package health

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/registry"
)

type dnsFixture struct {
	cnames map[string]string
	txts   map[string][]string
}

func (f *dnsFixture) LookupCNAME(_ context.Context, name string) (string, error) {
	if v, ok := f.cnames[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no CNAME record for %s", name)
}

func (f *dnsFixture) LookupTXT(_ context.Context, name string) ([]string, error) {
	if v, ok := f.txts[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no TXT records for %s", name)
}

func leafCert(t *testing.T, cn string, notAfter time.Time) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return parsed
}

type checkerFixture struct {
	checker *Checker
	source  *dnsFixture
	now     time.Time
}

// newCheckerFixture wires a checker whose probes all succeed; individual
// tests override the probe they want to break.
func newCheckerFixture(t *testing.T, m *domain.Mapping) *checkerFixture {
	t.Helper()

	source := &dnsFixture{
		cnames: map[string]string{m.Name: "edge.craftora.net."},
		txts:   map[string][]string{},
	}
	if m.VerificationToken != "" {
		source.txts[registry.VerifyLabel+"."+m.Name] = []string{m.VerificationToken}
	}

	f := &checkerFixture{source: source, now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewChecker(dnsverify.NewEvaluator(source), "edge.craftora.net")
	c.now = func() time.Time { return f.now }

	cert := leafCert(t, m.Name, f.now.Add(60*24*time.Hour))
	c.ProbeTLS = func(_ context.Context, _ string) (*TLSInfo, error) {
		return &TLSInfo{Leaf: cert, ChainLen: 1}, nil
	}
	c.ProbeHTTP = func(_ context.Context, _ string) (int, float64, error) {
		return 200, 50, nil
	}
	c.WhoisLookup = func(_ string) (string, error) {
		return "", fmt.Errorf("whois unavailable")
	}

	f.checker = c
	return f
}

func customMapping() *domain.Mapping {
	return &domain.Mapping{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		Name:              "shop.example.com",
		Kind:              domain.KindCustom,
		Status:            domain.StatusActive,
		Method:            domain.MethodDNS,
		CertType:          domain.CertManaged,
		VerificationToken: "craftora-verify-abc123",
	}
}

func TestCheckerAllHealthy(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	report := f.checker.Run(context.Background(), m)

	assert.Equal(t, domain.CheckHealthy, report.DNS.State)
	assert.Equal(t, domain.CheckHealthy, report.SSL.State)
	assert.Equal(t, domain.CheckHealthy, report.HTTP.State)
	assert.Equal(t, domain.CheckHealthy, report.Performance.State)
	assert.Equal(t, domain.CheckHealthy, report.Overall)
	assert.Equal(t, float64(50), report.ResponseMs)
	assert.Empty(t, report.Issues)
}

func TestCheckerExpiredCertificate(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	expired := leafCert(t, m.Name, f.now.Add(-24*time.Hour))
	f.checker.ProbeTLS = func(_ context.Context, _ string) (*TLSInfo, error) {
		return &TLSInfo{Leaf: expired, ChainLen: 1}, nil
	}

	report := f.checker.Run(context.Background(), m)

	assert.Equal(t, domain.CheckError, report.SSL.State)
	assert.Equal(t, domain.CheckError, report.Overall)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "ssl", report.Issues[0].Category)
}

func TestCheckerCertificateExpiringSoon(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	soon := leafCert(t, m.Name, f.now.Add(10*24*time.Hour))
	f.checker.ProbeTLS = func(_ context.Context, _ string) (*TLSInfo, error) {
		return &TLSInfo{Leaf: soon, ChainLen: 1}, nil
	}

	report := f.checker.Run(context.Background(), m)

	assert.Equal(t, domain.CheckWarning, report.SSL.State)
	assert.Equal(t, domain.CheckWarning, report.Overall)
}

func TestCheckerCertificateWrongHostname(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	other := leafCert(t, "other.example.com", f.now.Add(60*24*time.Hour))
	f.checker.ProbeTLS = func(_ context.Context, _ string) (*TLSInfo, error) {
		return &TLSInfo{Leaf: other, ChainLen: 1}, nil
	}

	report := f.checker.Run(context.Background(), m)
	assert.Equal(t, domain.CheckError, report.SSL.State)
}

func TestCheckerOriginServerError(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	f.checker.ProbeHTTP = func(_ context.Context, _ string) (int, float64, error) {
		return 503, 20, nil
	}

	report := f.checker.Run(context.Background(), m)

	assert.Equal(t, domain.CheckError, report.HTTP.State)
	assert.Equal(t, domain.CheckWarning, report.Performance.State)
	assert.Equal(t, "no response time available", report.Performance.Message)
	assert.Equal(t, domain.CheckError, report.Overall)
}

func TestCheckerOriginClientError(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	f.checker.ProbeHTTP = func(_ context.Context, _ string) (int, float64, error) {
		return 404, 30, nil
	}

	report := f.checker.Run(context.Background(), m)
	assert.Equal(t, domain.CheckWarning, report.HTTP.State)
	assert.Equal(t, domain.CheckWarning, report.Overall)
}

func TestCheckerSlowResponse(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	f.checker.ProbeHTTP = func(_ context.Context, _ string) (int, float64, error) {
		return 200, 7500, nil
	}

	report := f.checker.Run(context.Background(), m)

	assert.Equal(t, domain.CheckHealthy, report.HTTP.State)
	assert.Equal(t, domain.CheckWarning, report.Performance.State)
	assert.Equal(t, domain.CheckWarning, report.Overall)
}

func TestCheckerFileMethodJudgedOnCNAMEAlone(t *testing.T) {
	m := customMapping()
	m.Method = domain.MethodFile
	// Only the CNAME exists; file-method tenants never publish a TXT
	// record, so its absence must not count against them.
	f := newCheckerFixture(t, m)
	delete(f.source.txts, registry.VerifyLabel+"."+m.Name)

	report := f.checker.Run(context.Background(), m)
	assert.Equal(t, domain.CheckHealthy, report.DNS.State)
	assert.Equal(t, domain.CheckHealthy, report.Overall)
}

func TestCheckerSubdomainSkipsDNS(t *testing.T) {
	m := &domain.Mapping{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "myshop.craftora.site",
		Kind:     domain.KindSubdomain,
		Status:   domain.StatusActive,
		CertType: domain.CertManaged,
	}
	f := newCheckerFixture(t, m)
	// No DNS records published for the subdomain; the check passes anyway.
	cert := leafCert(t, m.Name, f.now.Add(60*24*time.Hour))
	f.checker.ProbeTLS = func(_ context.Context, _ string) (*TLSInfo, error) {
		return &TLSInfo{Leaf: cert, ChainLen: 1}, nil
	}

	report := f.checker.Run(context.Background(), m)
	assert.Equal(t, domain.CheckHealthy, report.DNS.State)
	assert.Equal(t, domain.CheckHealthy, report.Overall)
}

func TestCheckerRegistrarExpiryWarning(t *testing.T) {
	m := customMapping()
	f := newCheckerFixture(t, m)

	f.checker.WhoisLookup = func(domainName string) (string, error) {
		assert.Equal(t, "example.com", domainName)
		return "Registry Expiry Date: 2025-06-15T00:00:00Z\n", nil
	}

	report := f.checker.Run(context.Background(), m)

	var registrar []domain.HealthIssue
	for _, issue := range report.Issues {
		if issue.Category == "registrar" {
			registrar = append(registrar, issue)
		}
	}
	require.Len(t, registrar, 1)
	assert.Equal(t, "warning", registrar[0].Severity)
	// Advisory only: the overall state stays healthy.
	assert.Equal(t, domain.CheckHealthy, report.Overall)
}

func TestExtractExpiryDate(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"Registry Expiry Date: 2026-03-01T00:00:00Z", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Expiration Date: 2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"paid-till: 2026.03.01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"expires: 01-Mar-2026", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Domain Name: example.com\nupdated: whenever", time.Time{}},
		{"", time.Time{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractExpiryDate(tt.raw), "input %q", tt.raw)
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("shop.example.com"))
	assert.Equal(t, "example.com", registrableDomain("a.b.example.com"))
	assert.Equal(t, "example.com", registrableDomain("example.com"))
}
