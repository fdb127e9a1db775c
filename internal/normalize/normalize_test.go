package normalize

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEIN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"dashed", "12-3456789", "123456789", false},
		{"plain", "123456789", "123456789", false},
		{"padded whitespace", " 123456789 ", "123456789", false},
		{"short zero-pads", "1234567", "001234567", false},
		{"internal space", "12 3456789", "123456789", false},
		{"empty is absent", "", "", false},
		{"whitespace only is absent", "   ", "", false},
		{"letters", "12-34567AB", "", true},
		{"too long", "1234567890", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EIN(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrMalformedIdentifier))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEINIdempotent(t *testing.T) {
	once, err := EIN("12-3456789")
	require.NoError(t, err)
	twice, err := EIN(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestWebsite(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"www and path stripped", "WWW.Example.ORG/about", "https://example.org"},
		{"scheme stripped", "http://example.org", "https://example.org"},
		{"scheme then www", "https://www.example.org", "https://example.org"},
		{"query stripped", "example.org?utm=1", "https://example.org"},
		{"already normalized", "https://example.org", "https://example.org"},
		{"placeholder n/a", "N/A", ""},
		{"placeholder none", "none", ""},
		{"placeholder bucket host", "s3.amazonaws.com", ""},
		{"whitespace is corrupt", "not a url", ""},
		{"empty", "", ""},
		{"too short", "x", ""},
		{"lowercased", "EXAMPLE.ORG", "https://example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Website(tt.input))
		})
	}
}

func TestWebsiteIdempotent(t *testing.T) {
	once := Website("WWW.Example.ORG/about")
	require.NotEmpty(t, once)
	assert.Equal(t, once, Website(once))
}

func TestAddressKey(t *testing.T) {
	assert.Equal(t, "123 MAIN ST", AddressKey("  123 Main St "))
	assert.Equal(t, "", AddressKey("   "))
}

func TestZipBase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"12345", "12345"},
		{"12345-6789", "12345"},
		{"123456789", "12345"},
		{" 12345 ", "12345"},
		{"1234", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ZipBase(tt.input))
		})
	}
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, NameKey("Example   Foundation"), NameKey("EXAMPLE FOUNDATION"))
	assert.Equal(t, NameKey(" example foundation "), NameKey("Example Foundation"))
	assert.NotEqual(t, NameKey("Example Foundation"), NameKey("Example Fund"))
}
