package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePAT(t *testing.T) {
	gen, err := GeneratePAT()
	require.NoError(t, err)

	parts := strings.SplitN(gen.Token, "_", 3)
	require.Len(t, parts, 3, "token shape must be pat_<id>_<secret>")
	assert.Equal(t, "pat", parts[0])
	assert.Len(t, parts[1], 16, "identifier is 16 hex chars")
	assert.Len(t, parts[2], 32, "secret is 32 url-safe base64 chars")

	assert.Equal(t, "pat_"+parts[1], gen.Identifier, "stored identifier includes the wire prefix")
	assert.True(t, strings.HasPrefix(gen.Token, gen.Identifier+"_"))

	// The hash must verify the full token and nothing else.
	assert.True(t, VerifyPAT(gen.Token, gen.Hash))
	assert.False(t, VerifyPAT(parts[2], gen.Hash), "secret alone must not verify")
	assert.False(t, VerifyPAT(gen.Token+"x", gen.Hash))
}

func TestGeneratePATUnique(t *testing.T) {
	a, err := GeneratePAT()
	require.NoError(t, err)
	b, err := GeneratePAT()
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.Identifier, b.Identifier)
}

func TestParsePAT(t *testing.T) {
	gen, err := GeneratePAT()
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		id, secret, err := ParsePAT(gen.Token)
		require.NoError(t, err)
		assert.Equal(t, gen.Identifier, id)
		assert.Equal(t, gen.Token, FormatPAT(id, secret))
	})

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no prefix", "tok_0123456789abcdef_secret"},
		{"missing secret", "pat_0123456789abcdef"},
		{"empty secret", "pat_0123456789abcdef_"},
		{"short identifier", "pat_0123_secret"},
		{"uppercase hex identifier", "pat_0123456789ABCDEF_secret"},
		{"non-hex identifier", "pat_0123456789abcdeg_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParsePAT(tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"with bearer prefix", "Bearer pat_abc_def", "pat_abc_def", false},
		{"bare token accepted", "pat_abc_def", "pat_abc_def", false},
		{"surrounding whitespace", "Bearer   tok  ", "tok", false},
		{"empty header", "", "", true},
		{"prefix only", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearer(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
