// Package logutil provides logging utilities for sanitization
package logutil

import (
	"regexp"
	"strings"
)

var (
	// Block strings first so their inner quotes are not half-matched by
	// the single-line pattern.
	blockStringPattern = regexp.MustCompile(`"""(?s:.*?)"""`)
	stringPattern      = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	numberPattern      = regexp.MustCompile(`-?\b\d+(?:\.\d+)?(?:[eE][+-]?\d+)?\b`)
)

// SanitizeQuery removes literal values from a GraphQL source before it is
// written to a log line, so tokens, emails and amounts embedded in query
// arguments never land in logs. Field names, variables ($var) and the
// document structure are kept.
//
// Example:
//
//	{ login(email: "user@example.com", pin: 1234) { token } }
//	=> { login(email: "<redacted>", pin: <num>) { token } }
func SanitizeQuery(query string) string {
	// Park block strings behind a marker so the single-line pattern does
	// not half-match their triple quotes.
	query = blockStringPattern.ReplaceAllString(query, "\x00BLOCK\x00")
	query = stringPattern.ReplaceAllString(query, `"<redacted>"`)
	query = numberPattern.ReplaceAllString(query, "<num>")
	query = strings.ReplaceAll(query, "\x00BLOCK\x00", `"""<redacted>"""`)
	return query
}
