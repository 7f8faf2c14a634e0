package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"golang.org/x/time/rate"

	"github.com/craftora/domain-gateway/internal/domain"
)

// ACMEAuthority issues certificates through an ACME directory (Let's
// Encrypt by default) using the HTTP-01 challenge served from the
// platform edge. A local rate limiter keeps bursts from the renewal sweep
// under the CA's published limits; the CA's own rate-limit responses are
// still translated into RateLimitError when they occur.
type ACMEAuthority struct {
	email       string
	caDirURL    string
	http01Host  string
	http01Port  string
	limiter     *rate.Limiter
	clientMaker func() (acmeClient, error)
}

type ACMEConfig struct {
	Email             string
	DirectoryURL      string
	HTTP01Host        string
	HTTP01Port        string
	RequestsPerMinute int
}

func NewACMEAuthority(cfg ACMEConfig) *ACMEAuthority {
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = lego.LEDirectoryProduction
	}
	if cfg.HTTP01Port == "" {
		cfg.HTTP01Port = "80"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 5
	}

	a := &ACMEAuthority{
		email:      cfg.Email,
		caDirURL:   cfg.DirectoryURL,
		http01Host: cfg.HTTP01Host,
		http01Port: cfg.HTTP01Port,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
	a.clientMaker = a.newClient
	return a
}

func (a *ACMEAuthority) Issue(ctx context.Context, domainName string) (*IssuedCertificate, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	client, err := a.clientMaker()
	if err != nil {
		return nil, fmt.Errorf("%w: create acme client: %v", domain.ErrIssuanceFailed, err)
	}

	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{domainName},
		Bundle:  true,
	})
	if err != nil {
		return nil, classifyACMEError(err)
	}

	leaf, err := parseLeaf(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: parse issued certificate: %v", domain.ErrIssuanceFailed, err)
	}

	return &IssuedCertificate{
		Serial:    leaf.SerialNumber.String(),
		Issuer:    leaf.Issuer.String(),
		CertPEM:   string(res.Certificate),
		KeyPEM:    string(res.PrivateKey),
		ChainPEM:  string(res.IssuerCertificate),
		ValidFrom: leaf.NotBefore,
		ExpiresAt: leaf.NotAfter,
	}, nil
}

func (a *ACMEAuthority) Renew(ctx context.Context, domainName string, _ *domain.Certificate) (*IssuedCertificate, error) {
	// ACME has no distinct renewal operation: a renewal is a fresh order.
	return a.Issue(ctx, domainName)
}

func (a *ACMEAuthority) Revoke(ctx context.Context, cert *domain.Certificate) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	client, err := a.clientMaker()
	if err != nil {
		return fmt.Errorf("create acme client: %w", err)
	}
	return client.Revoke([]byte(cert.CertPEM))
}

// classifyACMEError maps CA responses onto the gateway's error kinds:
// explicit rate limits carry a retry-after hint, 4xx problems other than
// rate limits are permanent rejections, everything else is retryable.
func classifyACMEError(err error) error {
	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		if strings.HasSuffix(problem.Type, ":rateLimited") || problem.HTTPStatus == 429 {
			return &domain.RateLimitError{RetryAfter: time.Hour}
		}
		if problem.HTTPStatus >= 400 && problem.HTTPStatus < 500 {
			return &domain.IssuanceError{Reason: problem.Detail, Permanent: true}
		}
	}
	return &domain.IssuanceError{Reason: err.Error()}
}

func parseLeaf(bundle []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(bundle)
	if block == nil {
		return nil, errors.New("no PEM block in certificate bundle")
	}
	return x509.ParseCertificate(block.Bytes)
}

type acmeClient interface {
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
	Revoke(cert []byte) error
}

func (a *ACMEAuthority) newClient() (acmeClient, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	user := &accountUser{email: a.email, key: key}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = a.caDirURL
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	provider := http01.NewProviderServer(a.http01Host, a.http01Port)
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	user.registration = reg

	return &legoAdapter{client: client}, nil
}

type legoAdapter struct {
	client *lego.Client
}

func (l *legoAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

func (l *legoAdapter) Revoke(cert []byte) error {
	return l.client.Certificate.Revoke(cert)
}

type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string                        { return u.email }
func (u *accountUser) GetRegistration() *registration.Resource { return u.registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }
