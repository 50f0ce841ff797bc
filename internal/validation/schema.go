// schema.go is a small declarative schema engine for provider request
// bodies. It validates only what the rules state and permits unknown fields
// everywhere (forward compatibility with provider API additions); requests
// matching no rule pass untouched for the same reason.
package validation

import (
	"fmt"
	"strings"

	"github.com/ai-guard/ai-guard/internal/providers"
)

// Violation is one failed constraint, reported in the error details.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Kind is a JSON value kind a field may hold.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Field constrains one body field.
type Field struct {
	Required bool
	// Kinds lists acceptable value kinds; empty accepts anything.
	Kinds []Kind
	// Min/Max bound numeric values inclusively.
	Min, Max *float64
	// Enum restricts string values.
	Enum []string
	// Items constrains array elements.
	Items *Field
	// Fields constrains object members (unknown members are permitted).
	Fields map[string]*Field
	// RequireAnyKey demands that an object contain at least one of these keys.
	RequireAnyKey []string
}

// Rule binds a schema to one (provider, method, path) endpoint. Path
// segments of the form :name match any value.
type Rule struct {
	Provider providers.Provider
	Method   string
	Path     string
	Fields   map[string]*Field
}

// Match reports whether the rule covers the request.
func (r *Rule) Match(provider providers.Provider, method, path string) bool {
	if r.Provider != provider || !strings.EqualFold(r.Method, method) {
		return false
	}
	return pathMatch(r.Path, path)
}

func pathMatch(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	rs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(rs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], ":") {
			if rs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != rs[i] {
			return false
		}
	}
	return true
}

// Validate runs the schema pass for the request. A nil body (non-JSON or
// empty) passes: bodyless endpoints such as model listings are legitimate.
func Validate(rules []Rule, provider providers.Provider, method, path string, body map[string]any) []Violation {
	if body == nil {
		return nil
	}
	for i := range rules {
		if rules[i].Match(provider, method, path) {
			return validateObject("", body, rules[i].Fields, nil)
		}
	}
	// No rule: fail open for forward compatibility with new endpoints.
	return nil
}

func validateObject(prefix string, obj map[string]any, fields map[string]*Field, violations []Violation) []Violation {
	for name, field := range fields {
		fieldPath := name
		if prefix != "" {
			fieldPath = prefix + "." + name
		}
		value, present := obj[name]
		if !present {
			if field.Required {
				violations = append(violations, Violation{Field: fieldPath, Message: "is required"})
			}
			continue
		}
		violations = validateValue(fieldPath, value, field, violations)
	}
	return violations
}

func validateValue(path string, value any, field *Field, violations []Violation) []Violation {
	if len(field.Kinds) > 0 && !kindMatches(value, field.Kinds) {
		kinds := make([]string, len(field.Kinds))
		for i, k := range field.Kinds {
			kinds[i] = string(k)
		}
		return append(violations, Violation{
			Field:   path,
			Message: fmt.Sprintf("must be of type %s", strings.Join(kinds, " or ")),
		})
	}

	switch v := value.(type) {
	case string:
		if len(field.Enum) > 0 {
			ok := false
			for _, e := range field.Enum {
				if v == e {
					ok = true
					break
				}
			}
			if !ok {
				violations = append(violations, Violation{
					Field:   path,
					Message: fmt.Sprintf("must be one of: %s", strings.Join(field.Enum, ", ")),
				})
			}
		}
	case float64:
		if field.Min != nil && v < *field.Min {
			violations = append(violations, Violation{Field: path, Message: fmt.Sprintf("must be >= %v", *field.Min)})
		}
		if field.Max != nil && v > *field.Max {
			violations = append(violations, Violation{Field: path, Message: fmt.Sprintf("must be <= %v", *field.Max)})
		}
	case []any:
		if field.Items != nil {
			for i, item := range v {
				violations = validateValue(fmt.Sprintf("%s[%d]", path, i), item, field.Items, violations)
			}
		}
	case map[string]any:
		if len(field.RequireAnyKey) > 0 {
			found := false
			for _, key := range field.RequireAnyKey {
				if _, ok := v[key]; ok {
					found = true
					break
				}
			}
			if !found {
				violations = append(violations, Violation{
					Field:   path,
					Message: fmt.Sprintf("must contain one of: %s", strings.Join(field.RequireAnyKey, ", ")),
				})
			}
		}
		if field.Fields != nil {
			violations = validateObject(path, v, field.Fields, violations)
		}
	}

	return violations
}

func kindMatches(value any, kinds []Kind) bool {
	for _, k := range kinds {
		switch k {
		case KindString:
			if _, ok := value.(string); ok {
				return true
			}
		case KindBoolean:
			if _, ok := value.(bool); ok {
				return true
			}
		case KindNumber:
			if _, ok := value.(float64); ok {
				return true
			}
		case KindInteger:
			if f, ok := value.(float64); ok && f == float64(int64(f)) {
				return true
			}
		case KindArray:
			if _, ok := value.([]any); ok {
				return true
			}
		case KindObject:
			if _, ok := value.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}
