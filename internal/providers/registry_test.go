package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		tag    string
		want   Provider
		wantOK bool
	}{
		{"openai", OpenAI, true},
		{"OpenAI", OpenAI, true},
		{" anthropic ", Anthropic, true},
		{"GEMINI", Gemini, true},
		{"mistral", "", false},
		{"", "", false},
		{"web-ui", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, ok := Parse(tt.tag)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRegistryEntries(t *testing.T) {
	openai, ok := Lookup(OpenAI)
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com", openai.Origin)
	assert.Equal(t, "Authorization", openai.AuthHeader)
	assert.Equal(t, "Bearer sk-x", openai.AuthValue("sk-x"))
	assert.Equal(t, "api.openai.com", openai.Host())

	anthropic, ok := Lookup(Anthropic)
	require.True(t, ok)
	assert.Equal(t, "https://api.anthropic.com", anthropic.Origin)
	assert.Equal(t, "x-api-key", anthropic.AuthHeader)
	assert.Equal(t, "sk-ant", anthropic.AuthValue("sk-ant"), "anthropic has no auth prefix")
	assert.Equal(t, "2023-06-01", anthropic.ConstantHeaders["anthropic-version"])

	gemini, ok := Lookup(Gemini)
	require.True(t, ok)
	assert.Equal(t, "https://generativelanguage.googleapis.com", gemini.Origin)
	assert.Equal(t, "x-goog-api-key", gemini.AuthHeader)
	assert.Empty(t, gemini.ConstantHeaders)
}

func TestAll(t *testing.T) {
	assert.Equal(t, []Provider{OpenAI, Anthropic, Gemini}, All())
}
