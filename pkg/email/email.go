// Package email normalizes addresses that receive one-time codes.
package email

import (
	"net/mail"
	"strings"

	dErrors "civic/pkg/domain-errors"
)

// Normalize parses addr as a bare address (no display name) and lowercases
// the domain. The local part keeps its case.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Name != "" || parsed.Address != addr {
		return "", dErrors.New(dErrors.CodeValidation, "email must be a bare address")
	}
	at := strings.LastIndexByte(addr, '@')
	return addr[:at] + "@" + strings.ToLower(addr[at+1:]), nil
}

// Domain returns the lowercased domain of a normalized address.
func Domain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// HasAllowedDomain reports whether addr's domain equals or is a subdomain of
// one of the suffixes. An empty suffix list allows every domain.
func HasAllowedDomain(addr string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	domain := Domain(addr)
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(suffix), "."))
		if suffix == "" {
			continue
		}
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}
