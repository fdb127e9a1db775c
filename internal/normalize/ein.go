// Package normalize canonicalizes the noisy fields that arrive on source
// rows: EINs, website URLs, address parts, and organization names.
package normalize

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedIdentifier is returned when an EIN cannot be canonicalized.
// Rows carrying one are routed to the review list, never written.
var ErrMalformedIdentifier = eris.New("normalize: malformed identifier")

// EIN canonicalizes a raw tax identifier into the 9-digit zero-padded form
// used as the registry key. Separators and surrounding whitespace are
// stripped ("12-3456789" -> "123456789"). An empty input returns "" with no
// error: absence is not malformation. Non-numeric input, or more than nine
// digits, is malformed.
func EIN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return "", nil
	}
	if len(s) > 9 {
		return "", eris.Wrapf(ErrMalformedIdentifier, "%q has more than 9 digits", raw)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", eris.Wrapf(ErrMalformedIdentifier, "%q is not numeric", raw)
		}
	}
	return strings.Repeat("0", 9-len(s)) + s, nil
}
