package normalize

import (
	"regexp"
	"strings"
)

// Placeholder tokens that show up in website columns instead of a URL.
// Bare storage-bucket hostnames come from spreadsheet exports that leaked
// attachment URLs into the website field.
var websitePlaceholders = map[string]struct{}{
	"N/A":              {},
	"NA":               {},
	"NONE":             {},
	"NULL":             {},
	"NOT APPLICABLE":   {},
	"S3.AMAZONAWS.COM": {},
}

var (
	schemeRe = regexp.MustCompile(`(?i)^https?://`)
	wwwRe    = regexp.MustCompile(`(?i)^www\.`)
)

// Website canonicalizes a raw website value into a normalized absolute URL,
// or "" when the value is absent, a placeholder, or corrupted. The result
// keeps the host only; path and query information is discarded.
// Output is always "https://" + lowercased host, so the function is
// idempotent on its own output.
func Website(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if _, ok := websitePlaceholders[strings.ToUpper(u)]; ok {
		return ""
	}

	u = schemeRe.ReplaceAllString(u, "")
	u = wwwRe.ReplaceAllString(u, "")
	if i := strings.IndexAny(u, "/?"); i >= 0 {
		u = u[:i]
	}
	if u == "" {
		return ""
	}

	u = "https://" + strings.ToLower(u)
	if len(u) < 10 || strings.ContainsAny(u, " \t") {
		// Too short to be a real host, or contains whitespace: corrupted
		// data, not a URL.
		return ""
	}
	return u
}
