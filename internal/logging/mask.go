// Package logging provides redaction helpers for log output. Raw event
// payloads flowing through the pipeline can embed credentials; anything
// quoted into a log line goes through these helpers first.
package logging

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted replaces masked values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeys are field names whose values are never logged verbatim.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"authorization": true,
	"bearer":        true,
	"session_id":    true,
	"cookie":        true,
	"credentials":   true,
}

// IsSensitiveKey reports whether a field name should have its value
// redacted. Matching is case-insensitive and substring-based, so
// "db_password" and "X-Api-Key" both count.
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveKeys[lower] {
		return true
	}
	for key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// MaskValue redacts the value when its field name is sensitive.
func MaskValue(name, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(name) {
		return Redacted
	}
	return value
}

// credentialPatterns match embedded credentials in raw payload text.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"(password|passwd|secret|token|api[_-]?key|authorization)"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|auth)\s*[=:]\s*[^\s",}&]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{8,}`),
	regexp.MustCompile(`\b(AKIA|ASIA|AROA|AIDA)[A-Z0-9]{16}\b`),
}

// MaskPatterns redacts credential-shaped substrings in raw text. Used
// before quoting an unparsed payload into a log line.
func MaskPatterns(s string) string {
	for _, pattern := range credentialPatterns {
		s = pattern.ReplaceAllString(s, Redacted)
	}
	return s
}

// Snippet truncates raw payload bytes to at most max characters of
// valid UTF-8, for inclusion in a log line.
func Snippet(data []byte, max int) string {
	s := strings.ToValidUTF8(string(data), "�")
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	// Do not split a multi-byte rune at the boundary.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
