package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var nameSpaceRe = regexp.MustCompile(`\s+`)

// NameKey returns the case-insensitive comparison key for an organization
// name: whitespace collapsed, Unicode case folded. Name matching is exact on
// this key; there is no fuzzy matching.
func NameKey(name string) string {
	n := strings.TrimSpace(name)
	n = nameSpaceRe.ReplaceAllString(n, " ")
	return cases.Fold().String(n)
}
