// Package hostmatch implements the RFC 6125 hostname verification rule
// this transport requires: a single left-most-label wildcard in a SAN DNS
// entry, falling back to the certificate's Common Name only when no SAN
// DNS entries are present at all. This is deliberately hand-rolled rather
// than delegated to (*x509.Certificate).VerifyHostname, which accepts
// wildcard forms this transport must reject (see spec.md §4.2 and
// Testable Property 7), grounded on MatchDomainName / MatchCertAltNames /
// MatchCertCommonName / CheckCertHostname in library/neh/https.cpp.
package hostmatch

import (
	"crypto/x509"
	"fmt"
	"strings"
)

// ErrMismatch is wrapped into the error returned by Verify when none of
// the certificate's names match host.
type ErrMismatch struct {
	Host string
}

func (e *ErrMismatch) Error() string {
	return fmt.Sprintf("hostmatch: certificate is not valid for %q", e.Host)
}

// Verify checks cert against host using the matching rules described in
// spec.md §4.2: exact match or single left-most-label wildcard against any
// SAN dNSName entry; the Common Name is consulted only when the
// certificate carries no dNSName SAN entries at all, matching legacy CAs
// the source still had to interoperate with.
func Verify(cert *x509.Certificate, host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return &ErrMismatch{Host: host}
	}

	if len(cert.DNSNames) > 0 {
		for _, name := range cert.DNSNames {
			if matchDomainName(name, host) {
				return nil
			}
		}
		return &ErrMismatch{Host: host}
	}

	if matchDomainName(cert.Subject.CommonName, host) {
		return nil
	}
	return &ErrMismatch{Host: host}
}

// matchDomainName implements MatchDomainName: pattern may contain a single
// wildcard occupying the entire left-most label ("*.example.com"), which
// matches exactly one non-empty label at that position. Wildcards embedded
// within a label ("foo*.example.com") or appearing in any other label are
// not supported and are compared literally, matching nothing.
func matchDomainName(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(pattern, "."))
	if pattern == "" {
		return false
	}

	if !strings.Contains(pattern, "*") {
		return pattern == host
	}

	patternLabels := strings.Split(pattern, ".")
	hostLabels := strings.Split(host, ".")
	if len(patternLabels) != len(hostLabels) {
		return false
	}
	if patternLabels[0] != "*" {
		// Wildcard not occupying the whole left-most label: not supported.
		return false
	}
	for i := 1; i < len(patternLabels); i++ {
		if patternLabels[i] != hostLabels[i] {
			return false
		}
	}
	return hostLabels[0] != ""
}
