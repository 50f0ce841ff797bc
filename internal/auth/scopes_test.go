package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		scopes   []string
		required Scope
		want     bool
	}{
		{"exact match", []string{"api:write"}, ScopeAPIWrite, true},
		{"admin wildcard", []string{"admin"}, ScopeProjectsWrite, true},
		{"write implies read", []string{"api:write"}, ScopeAPIRead, true},
		{"projects write implies read", []string{"projects:write"}, ScopeProjectsRead, true},
		{"users write implies read", []string{"users:write"}, ScopeUsersRead, true},
		{"read does not imply write", []string{"api:read"}, ScopeAPIWrite, false},
		{"unrelated scope", []string{"projects:read"}, ScopeAPIWrite, false},
		{"empty scopes", nil, ScopeAPIRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasScope(tt.scopes, tt.required))
		})
	}
}

func TestHasAnyScope(t *testing.T) {
	assert.True(t, HasAnyScope([]string{"users:read"}, []Scope{ScopeAPIWrite, ScopeUsersRead}))
	assert.False(t, HasAnyScope([]string{"users:read"}, []Scope{ScopeAPIWrite, ScopeProjectsWrite}))
}

func TestValidateScopes(t *testing.T) {
	assert.NoError(t, ValidateScopes([]string{"api:read", "api:write", "admin"}))
	assert.Error(t, ValidateScopes([]string{"api:read", "modules:write"}))
	assert.NoError(t, ValidateScopes(nil))
}

func TestGetDefaultScopes(t *testing.T) {
	defaults := GetDefaultScopes()
	assert.True(t, HasScope(defaults, ScopeAPIRead))
	assert.True(t, HasScope(defaults, ScopeAPIWrite))
	assert.False(t, HasScope(defaults, ScopeAdmin))
}
