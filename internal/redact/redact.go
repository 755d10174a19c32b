// Package redact scrubs secrets and personal data from text before it is
// stored in history or written to the audit log.
package redact

import (
	"regexp"
	"strings"
)

type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

var sensitivePatterns = []pattern{
	// Private keys
	{regexp.MustCompile(`(?s)-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----.*?(-----END (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----|$)`), secretPlaceholder},

	// Provider keys
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), secretPlaceholder},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), secretPlaceholder},
	{regexp.MustCompile(`sk-(proj-)?[A-Za-z0-9_-]{20,}`), secretPlaceholder},
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), secretPlaceholder},
	{regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`), secretPlaceholder},

	// Generic assignments and bearer tokens
	{regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|access_token|auth_token|password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`), secretPlaceholder},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{20,}=*`), secretPlaceholder},

	// Basic auth in URLs
	{regexp.MustCompile(`https?://[^\s:/@]+:[^\s@]+@`), secretPlaceholder},

	// Personal data
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), emailPlaceholder},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), idPlaceholder},
	{regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`), cardPlaceholder},
	{regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\b\d{3}\)?[ .-]\d{3}[ .-]\d{4}\b`), phonePlaceholder},
}

const (
	secretPlaceholder = "[REDACTED]"
	emailPlaceholder  = "[EMAIL]"
	phonePlaceholder  = "[PHONE]"
	cardPlaceholder   = "[CARD]"
	idPlaceholder     = "[ID]"
)

// Redact replaces secrets and personal data in input with placeholders.
func Redact(input string) string {
	result := input
	for _, p := range sensitivePatterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// Snippet returns a redacted single-line preview of at most maxRunes
// characters. Redaction runs before truncation so a secret cut in half is
// still caught.
func Snippet(text string, maxRunes int) string {
	s := strings.Join(strings.Fields(Redact(text)), " ")
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

// Mask hides all but the last four characters of a credential, for display
// in status output.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 4) + secret[len(secret)-4:]
}
