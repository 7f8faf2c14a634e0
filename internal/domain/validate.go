package domain

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

const maxHostnameLength = 253

var hostnameRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidateDomainName normalizes and validates a hostname. Pure: no I/O, no
// clock. Returns the lowercase punycode form suitable as the canonical
// mapping name.
func ValidateDomainName(raw string) (string, error) {
	name := strings.TrimSpace(strings.ToLower(raw))
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", fmt.Errorf("%w: domain name is empty", ErrInvalidInput)
	}
	if len(name) > maxHostnameLength {
		return "", fmt.Errorf("%w: domain name exceeds %d characters", ErrInvalidInput, maxHostnameLength)
	}

	// IDN input is converted to its ASCII (punycode) form first so the
	// stored name is always resolvable as-is.
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a valid internationalized domain name", ErrInvalidInput, raw)
	}

	for _, label := range strings.Split(ascii, ".") {
		if len(label) == 0 {
			return "", fmt.Errorf("%w: empty label in %q", ErrInvalidInput, raw)
		}
		if len(label) > 63 {
			return "", fmt.Errorf("%w: label %q exceeds 63 characters", ErrInvalidInput, label)
		}
	}

	if !hostnameRegex.MatchString(ascii) {
		return "", fmt.Errorf("%w: %q is not a valid hostname", ErrInvalidInput, raw)
	}

	return ascii, nil
}

// ValidateVerificationMethod restricts to the supported verification kinds.
func ValidateVerificationMethod(raw string) (VerificationMethod, error) {
	switch VerificationMethod(strings.TrimSpace(strings.ToLower(raw))) {
	case MethodDNS:
		return MethodDNS, nil
	case MethodFile:
		return MethodFile, nil
	case MethodEmail:
		return MethodEmail, nil
	}
	return "", fmt.Errorf("%w: unsupported verification method %q", ErrInvalidInput, raw)
}

// BundleIssue describes one structural problem found in an uploaded
// certificate bundle.
type BundleIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateCertificateBundle checks the structural correctness of a
// tenant-uploaded cert/key pair and optional chain: PEM markers present,
// the pair parses, and the key matches the certificate. It deliberately
// performs no chain or CA validation; trust is the issuing authority's
// concern, not this validator's.
func ValidateCertificateBundle(certPEM, keyPEM, chainPEM string) ([]BundleIssue, error) {
	var issues []BundleIssue

	if block, _ := pem.Decode([]byte(certPEM)); block == nil || block.Type != "CERTIFICATE" {
		issues = append(issues, BundleIssue{Field: "certificate", Message: "no CERTIFICATE PEM block found"})
	}
	if block, _ := pem.Decode([]byte(keyPEM)); block == nil || !strings.Contains(block.Type, "PRIVATE KEY") {
		issues = append(issues, BundleIssue{Field: "private_key", Message: "no PRIVATE KEY PEM block found"})
	}
	if chainPEM != "" {
		if block, _ := pem.Decode([]byte(chainPEM)); block == nil || block.Type != "CERTIFICATE" {
			issues = append(issues, BundleIssue{Field: "chain", Message: "chain is not a CERTIFICATE PEM block"})
		}
	}
	if len(issues) > 0 {
		return issues, fmt.Errorf("%w: malformed certificate bundle", ErrInvalidInput)
	}

	if _, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM)); err != nil {
		issues = append(issues, BundleIssue{Field: "private_key", Message: "private key does not match certificate"})
		return issues, fmt.Errorf("%w: certificate and key do not form a valid pair", ErrInvalidInput)
	}

	return nil, nil
}
