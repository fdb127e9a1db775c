package normalize

import "strings"

// AddressKey returns the comparison form of an address sub-field: uppercased
// and trimmed. Stored values keep their original casing; this form is only
// for equality checks between sources.
func AddressKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ZipBase returns the base 5-digit prefix of a postal code. Extension
// suffixes ("12345-6789") are ignored for comparison.
func ZipBase(zip string) string {
	z := strings.TrimSpace(zip)
	if i := strings.IndexByte(z, '-'); i >= 0 {
		z = z[:i]
	}
	if len(z) > 5 {
		z = z[:5]
	}
	return z
}
