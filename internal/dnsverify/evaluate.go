package dnsverify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/craftora/domain-gateway/internal/domain"
)

type Status string

const (
	StatusVerified Status = "verified"
	StatusPending  Status = "pending"
	StatusError    Status = "error"
)

// Expectation describes the records a domain must publish before it
// verifies: a CNAME to the platform edge and, for dns-method
// verification, a TXT token at the verification label.
type Expectation struct {
	CNAMETarget string
	TXTName     string
	Token       string
}

type Issue struct {
	Record   string `json:"record"`
	Expected string `json:"expected"`
	Observed string `json:"observed,omitempty"`
	Message  string `json:"message"`
}

type Evaluation struct {
	Status     Status           `json:"status"`
	Issues     []Issue          `json:"issues,omitempty"`
	Observed   domain.RecordSet `json:"observed_records"`
	RetryAfter time.Duration    `json:"retry_after,omitempty"`
}

// RecordSource resolves the two record types verification needs. The
// production source queries authoritative DNS; tests substitute a fake.
type RecordSource interface {
	LookupCNAME(ctx context.Context, name string) (string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Evaluator classifies a domain's published records against an
// expectation. Pure with respect to the mapping: it never mutates state,
// the caller driving the state machine does.
type Evaluator struct {
	source RecordSource
}

func NewEvaluator(source RecordSource) *Evaluator {
	return &Evaluator{source: source}
}

// EvaluateRecords resolves and compares. Classification:
// no records observed yet -> pending (propagation in progress, retry);
// records observed but mismatched -> error (tenant must fix DNS);
// all required records match -> verified.
func (e *Evaluator) EvaluateRecords(ctx context.Context, name string, expect Expectation) Evaluation {
	eval := Evaluation{Observed: domain.RecordSet{}}

	cname, cnameErr := e.source.LookupCNAME(ctx, name)
	cname = strings.TrimSuffix(strings.ToLower(cname), ".")
	if cname != "" {
		eval.Observed = append(eval.Observed, domain.Record{Type: "CNAME", Name: name, Value: cname})
	}

	var txts []string
	if expect.Token != "" {
		var txtErr error
		txts, txtErr = e.source.LookupTXT(ctx, expect.TXTName)
		for _, txt := range txts {
			eval.Observed = append(eval.Observed, domain.Record{Type: "TXT", Name: expect.TXTName, Value: txt})
		}
		if txtErr != nil && cnameErr != nil && len(eval.Observed) == 0 {
			eval.Status = StatusPending
			eval.RetryAfter = 5 * time.Minute
			eval.Issues = append(eval.Issues, Issue{
				Record:   "CNAME",
				Expected: expect.CNAMETarget,
				Message:  "no records visible yet; DNS propagation can take a few minutes",
			})
			return eval
		}
	}

	if len(eval.Observed) == 0 {
		eval.Status = StatusPending
		eval.RetryAfter = 5 * time.Minute
		eval.Issues = append(eval.Issues, Issue{
			Record:   "CNAME",
			Expected: expect.CNAMETarget,
			Message:  "no records visible yet; DNS propagation can take a few minutes",
		})
		return eval
	}

	cnameOK := cname == strings.ToLower(expect.CNAMETarget)
	if !cnameOK {
		eval.Issues = append(eval.Issues, Issue{
			Record:   "CNAME",
			Expected: expect.CNAMETarget,
			Observed: cname,
			Message:  fmt.Sprintf("CNAME for %s should point to %s", name, expect.CNAMETarget),
		})
	}

	tokenOK := expect.Token == ""
	if expect.Token != "" {
		for _, txt := range txts {
			if subtle.ConstantTimeCompare([]byte(txt), []byte(expect.Token)) == 1 {
				tokenOK = true
				break
			}
		}
		if !tokenOK {
			observed := strings.Join(txts, ", ")
			eval.Issues = append(eval.Issues, Issue{
				Record:   "TXT",
				Expected: expect.Token,
				Observed: observed,
				Message:  fmt.Sprintf("TXT record at %s does not contain the verification token", expect.TXTName),
			})
		}
	}

	if cnameOK && tokenOK {
		eval.Status = StatusVerified
		return eval
	}

	eval.Status = StatusError
	eval.RetryAfter = 5 * time.Minute
	return eval
}

// DNSSource queries a recursive resolver with miekg/dns.
type DNSSource struct {
	client *dns.Client
	server string
}

func NewDNSSource(server string, timeout time.Duration) *DNSSource {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &DNSSource{
		client: &dns.Client{Timeout: timeout},
		server: server,
	}
}

func (s *DNSSource) LookupCNAME(ctx context.Context, name string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeCNAME)

	r, _, err := s.client.ExchangeContext(ctx, m, s.server)
	if err != nil {
		return "", fmt.Errorf("CNAME query failed: %w", err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("CNAME query failed with code %s", dns.RcodeToString[r.Rcode])
	}

	for _, ans := range r.Answer {
		if cname, ok := ans.(*dns.CNAME); ok {
			return cname.Target, nil
		}
	}
	return "", fmt.Errorf("no CNAME record for %s", name)
}

func (s *DNSSource) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	r, _, err := s.client.ExchangeContext(ctx, m, s.server)
	if err != nil {
		return nil, fmt.Errorf("TXT query failed: %w", err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("TXT query failed with code %s", dns.RcodeToString[r.Rcode])
	}

	var values []string
	for _, ans := range r.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no TXT records for %s", name)
	}
	return values, nil
}
