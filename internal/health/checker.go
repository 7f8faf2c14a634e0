package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/likexian/whois"

	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/domain"
	"github.com/craftora/domain-gateway/internal/registry"
)

const (
	DefaultSubCheckTimeout = 5 * time.Second
	DefaultPerfThresholdMs = 5000
	registrarWarnDays      = 30
)

// TLSInfo is what the SSL probe extracts from the live endpoint.
type TLSInfo struct {
	Leaf     *x509.Certificate
	ChainLen int
}

// Checker runs the composite health check: DNS, SSL, HTTP and
// performance, each independently timed out so one hung probe never sinks
// the whole report. Probe functions are fields so tests can substitute
// local endpoints.
type Checker struct {
	evaluator *dnsverify.Evaluator
	edgeHost  string

	SubCheckTimeout time.Duration
	PerfThresholdMs float64

	ProbeTLS    func(ctx context.Context, host string) (*TLSInfo, error)
	ProbeHTTP   func(ctx context.Context, host string) (status int, responseMs float64, err error)
	WhoisLookup func(domainName string) (string, error)

	now func() time.Time
}

func NewChecker(evaluator *dnsverify.Evaluator, edgeHost string) *Checker {
	c := &Checker{
		evaluator:       evaluator,
		edgeHost:        edgeHost,
		SubCheckTimeout: DefaultSubCheckTimeout,
		PerfThresholdMs: DefaultPerfThresholdMs,
		WhoisLookup: func(domainName string) (string, error) {
			return whois.Whois(domainName)
		},
		now:             time.Now,
	}
	c.ProbeTLS = c.dialTLS
	c.ProbeHTTP = c.requestHTTP
	return c
}

// Run produces a health report for the mapping. Read-only against the
// mapping: the caller decides what, if anything, to persist.
func (c *Checker) Run(ctx context.Context, m *domain.Mapping) *domain.HealthReport {
	report := &domain.HealthReport{
		MappingID: m.ID,
		CheckedAt: c.now(),
		Issues:    []domain.HealthIssue{},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	addIssue := func(issue domain.HealthIssue) {
		mu.Lock()
		report.Issues = append(report.Issues, issue)
		mu.Unlock()
	}

	wg.Add(3)

	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, c.SubCheckTimeout)
		defer cancel()
		report.DNS = c.checkDNS(subCtx, m, addIssue)
	}()

	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, c.SubCheckTimeout)
		defer cancel()
		report.SSL = c.checkSSL(subCtx, m, addIssue)
	}()

	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, c.SubCheckTimeout)
		defer cancel()
		var responseMs float64
		report.HTTP, responseMs = c.checkHTTP(subCtx, m, addIssue)
		mu.Lock()
		report.ResponseMs = responseMs
		mu.Unlock()
	}()

	wg.Wait()

	report.Performance = c.checkPerformance(report.HTTP, report.ResponseMs, addIssue)

	// Registrar expiry is advisory only: it can add warnings but never an
	// error state of its own.
	if m.Kind == domain.KindCustom {
		c.checkRegistrar(m, addIssue)
	}

	report.Overall = domain.WorstOf(report.DNS.State, report.SSL.State, report.HTTP.State, report.Performance.State)
	return report
}

func (c *Checker) checkDNS(ctx context.Context, m *domain.Mapping, addIssue func(domain.HealthIssue)) domain.SubCheck {
	if m.Kind == domain.KindSubdomain {
		// Platform-zone records are platform-managed; nothing to verify.
		return domain.SubCheck{State: domain.CheckHealthy}
	}

	// Only dns-method tenants publish the TXT token; everyone else is
	// judged on the CNAME alone.
	expect := dnsverify.Expectation{CNAMETarget: c.edgeHost}
	if m.Method == domain.MethodDNS {
		expect.TXTName = registry.VerifyLabel + "." + m.Name
		expect.Token = m.VerificationToken
	}
	eval := c.evaluator.EvaluateRecords(ctx, m.Name, expect)

	switch eval.Status {
	case dnsverify.StatusVerified:
		return domain.SubCheck{State: domain.CheckHealthy}
	case dnsverify.StatusPending:
		addIssue(domain.HealthIssue{
			Severity:    "warning",
			Category:    "dns",
			Description: "DNS records are not currently visible",
			Suggestion:  "Confirm the CNAME and TXT records are still published; propagation may be in progress.",
		})
		return domain.SubCheck{State: domain.CheckWarning, Message: "records not visible"}
	default:
		for _, issue := range eval.Issues {
			addIssue(domain.HealthIssue{
				Severity:    "critical",
				Category:    "dns",
				Description: issue.Message,
				Suggestion:  fmt.Sprintf("Expected %s, observed %q.", issue.Expected, issue.Observed),
			})
		}
		return domain.SubCheck{State: domain.CheckError, Message: "records do not match"}
	}
}

func (c *Checker) checkSSL(ctx context.Context, m *domain.Mapping, addIssue func(domain.HealthIssue)) domain.SubCheck {
	info, err := c.ProbeTLS(ctx, m.Name)
	if err != nil {
		if ctx.Err() != nil {
			addIssue(domain.HealthIssue{
				Severity:    "critical",
				Category:    "ssl",
				Description: "TLS probe timed out",
			})
			return domain.SubCheck{State: domain.CheckError, Message: domain.ErrHealthCheckTimeout.Error()}
		}
		addIssue(domain.HealthIssue{
			Severity:    "critical",
			Category:    "ssl",
			Description: fmt.Sprintf("TLS connection failed: %v", err),
			Suggestion:  "The domain may not have a certificate installed yet.",
		})
		return domain.SubCheck{State: domain.CheckError, Message: "connection failed"}
	}

	cert := info.Leaf
	now := c.now()

	if now.After(cert.NotAfter) {
		addIssue(domain.HealthIssue{
			Severity:    "critical",
			Category:    "ssl",
			Description: "certificate has expired",
			Suggestion:  "Renew the certificate or enable auto-renewal.",
		})
		return domain.SubCheck{State: domain.CheckError, Message: "certificate expired"}
	}

	if err := cert.VerifyHostname(m.Name); err != nil {
		addIssue(domain.HealthIssue{
			Severity:    "critical",
			Category:    "ssl",
			Description: fmt.Sprintf("certificate does not cover %s", m.Name),
			Suggestion:  "Reissue the certificate with the correct subject alternative names.",
		})
		return domain.SubCheck{State: domain.CheckError, Message: "hostname mismatch"}
	}

	if daysLeft := int(cert.NotAfter.Sub(now).Hours() / 24); daysLeft < 14 {
		addIssue(domain.HealthIssue{
			Severity:    "warning",
			Category:    "ssl",
			Description: fmt.Sprintf("certificate expires in %d days", daysLeft),
		})
		return domain.SubCheck{State: domain.CheckWarning, Message: fmt.Sprintf("expires in %d days", daysLeft)}
	}

	return domain.SubCheck{State: domain.CheckHealthy}
}

func (c *Checker) checkHTTP(ctx context.Context, m *domain.Mapping, addIssue func(domain.HealthIssue)) (domain.SubCheck, float64) {
	status, responseMs, err := c.ProbeHTTP(ctx, m.Name)
	if err != nil {
		if ctx.Err() != nil {
			addIssue(domain.HealthIssue{
				Severity:    "critical",
				Category:    "http",
				Description: "HTTP probe timed out",
			})
			return domain.SubCheck{State: domain.CheckError, Message: domain.ErrHealthCheckTimeout.Error()}, 0
		}
		addIssue(domain.HealthIssue{
			Severity:    "critical",
			Category:    "http",
			Description: fmt.Sprintf("HTTP request failed: %v", err),
		})
		return domain.SubCheck{State: domain.CheckError, Message: "request failed"}, 0
	}

	if status >= 500 {
		addIssue(domain.HealthIssue{
			Severity:    "critical",
			Category:    "http",
			Description: fmt.Sprintf("origin returned HTTP %d", status),
		})
		return domain.SubCheck{State: domain.CheckError, Message: fmt.Sprintf("HTTP %d", status)}, responseMs
	}
	if status >= 400 {
		addIssue(domain.HealthIssue{
			Severity:    "warning",
			Category:    "http",
			Description: fmt.Sprintf("origin returned HTTP %d", status),
		})
		return domain.SubCheck{State: domain.CheckWarning, Message: fmt.Sprintf("HTTP %d", status)}, responseMs
	}

	return domain.SubCheck{State: domain.CheckHealthy}, responseMs
}

func (c *Checker) checkPerformance(httpCheck domain.SubCheck, responseMs float64, addIssue func(domain.HealthIssue)) domain.SubCheck {
	if httpCheck.State == domain.CheckError {
		// No measurement to judge.
		return domain.SubCheck{State: domain.CheckWarning, Message: "no response time available"}
	}
	if responseMs > c.PerfThresholdMs {
		addIssue(domain.HealthIssue{
			Severity:    "warning",
			Category:    "performance",
			Description: fmt.Sprintf("response time %.0f ms exceeds %.0f ms threshold", responseMs, c.PerfThresholdMs),
		})
		return domain.SubCheck{State: domain.CheckWarning, Message: "slow response"}
	}
	return domain.SubCheck{State: domain.CheckHealthy}
}

func (c *Checker) checkRegistrar(m *domain.Mapping, addIssue func(domain.HealthIssue)) {
	raw, err := c.WhoisLookup(registrableDomain(m.Name))
	if err != nil {
		return
	}
	expiry := extractExpiryDate(raw)
	if expiry.IsZero() {
		return
	}
	daysLeft := int(expiry.Sub(c.now()).Hours() / 24)
	if daysLeft < registrarWarnDays {
		addIssue(domain.HealthIssue{
			Severity:    "warning",
			Category:    "registrar",
			Description: fmt.Sprintf("domain registration expires in %d days", daysLeft),
			Suggestion:  "Renew the domain with your registrar to keep it resolving.",
		})
	}
}

func registrableDomain(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) <= 2 {
		return name
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

var whoisExpiryPrefixes = []string{
	"registry expiry date:",
	"registrar registration expiration date:",
	"expiry date:",
	"expiration date:",
	"expires:",
	"paid-till:",
}

var whoisDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

func extractExpiryDate(whoisData string) time.Time {
	for _, line := range strings.Split(whoisData, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		for _, prefix := range whoisExpiryPrefixes {
			if !strings.HasPrefix(lower, prefix) {
				continue
			}
			dateStr := strings.TrimSpace(line[len(prefix):])
			for _, format := range whoisDateFormats {
				if t, err := time.Parse(format, dateStr); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}

func (c *Checker) dialTLS(ctx context.Context, host string) (*TLSInfo, error) {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: c.SubCheckTimeout}, "tcp", host+":443", &tls.Config{
		ServerName: host,
		// Expiry and hostname coverage are judged explicitly above; a
		// self-signed edge cert during rollout should not abort the probe.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no certificates presented")
	}

	return &TLSInfo{Leaf: state.PeerCertificates[0], ChainLen: len(state.PeerCertificates)}, nil
}

func (c *Checker) requestHTTP(ctx context.Context, host string) (int, float64, error) {
	client := &http.Client{
		Timeout: c.SubCheckTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+"/", nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", "CraftoraDomainGateway/1.0")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, float64(time.Since(start).Milliseconds()), nil
}
