// Package providers defines the closed set of upstream LLM providers and the
// static per-provider forwarding table (origin, auth header shape, constant
// headers and query parameters). The table is read-only after init; adding a
// provider means extending the enum and the table, never runtime registration.
package providers

import (
	"net/url"
	"strings"
)

// Provider identifies an upstream LLM provider.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Gemini    Provider = "gemini"
)

// Entry describes how to address one upstream provider.
type Entry struct {
	// Origin is the upstream scheme+host, no trailing slash.
	Origin string
	// AuthHeader is the header carrying the provider credential.
	AuthHeader string
	// AuthPrefix, when non-empty, is prepended (plus a space) to the credential.
	AuthPrefix string
	// ConstantHeaders are added to the outbound request only where absent.
	ConstantHeaders map[string]string
	// ConstantQuery parameters are always added and win ties with the
	// caller's query string.
	ConstantQuery map[string]string
}

var registry = map[Provider]Entry{
	OpenAI: {
		Origin:     "https://api.openai.com",
		AuthHeader: "Authorization",
		AuthPrefix: "Bearer",
	},
	Anthropic: {
		Origin:     "https://api.anthropic.com",
		AuthHeader: "x-api-key",
		ConstantHeaders: map[string]string{
			"anthropic-version": "2023-06-01",
		},
	},
	Gemini: {
		Origin:     "https://generativelanguage.googleapis.com",
		AuthHeader: "x-goog-api-key",
	},
}

// Parse resolves a provider tag (case-insensitive). ok is false for unknown tags.
func Parse(tag string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(tag)))
	_, ok := registry[p]
	return p, ok
}

// Lookup returns the forwarding entry for p. ok is false for unknown providers.
func Lookup(p Provider) (Entry, bool) {
	e, ok := registry[p]
	return e, ok
}

// All returns the registered provider tags in a stable order, for the
// readiness endpoint.
func All() []Provider {
	return []Provider{OpenAI, Anthropic, Gemini}
}

// Host returns the origin's host component.
func (e Entry) Host() string {
	u, err := url.Parse(e.Origin)
	if err != nil {
		return ""
	}
	return u.Host
}

// AuthValue renders the outbound credential header value.
func (e Entry) AuthValue(credential string) string {
	if e.AuthPrefix != "" {
		return e.AuthPrefix + " " + credential
	}
	return credential
}
