// rules.go declares the shipped endpoint schemas. Only the chat/message
// creation endpoints are constrained; everything else a provider serves is
// forwarded unvalidated so new upstream endpoints work without a gateway
// release.
package validation

import "github.com/ai-guard/ai-guard/internal/providers"

func f64(v float64) *float64 { return &v }

// DefaultRules returns the shipped schema rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Provider: providers.OpenAI,
			Method:   "POST",
			Path:     "/v1/chat/completions",
			Fields: map[string]*Field{
				"model": {Required: true, Kinds: []Kind{KindString}},
				"messages": {
					Required: true,
					Kinds:    []Kind{KindArray},
					Items: &Field{
						Kinds: []Kind{KindObject},
						Fields: map[string]*Field{
							"role": {
								Required: true,
								Kinds:    []Kind{KindString},
								Enum:     []string{"system", "user", "assistant", "function", "tool"},
							},
							"content": {Kinds: []Kind{KindString, KindArray}},
							"name":    {Kinds: []Kind{KindString}},
						},
					},
				},
				"max_tokens":  {Kinds: []Kind{KindInteger}, Min: f64(1), Max: f64(4096)},
				"temperature": {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(2)},
				"top_p":       {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(1)},
				"stream":      {Kinds: []Kind{KindBoolean}},
				"functions":   {Kinds: []Kind{KindArray}},
				"tools":       {Kinds: []Kind{KindArray}},
			},
		},
		{
			Provider: providers.Anthropic,
			Method:   "POST",
			Path:     "/v1/messages",
			Fields: map[string]*Field{
				"model": {Required: true, Kinds: []Kind{KindString}},
				"messages": {
					Required: true,
					Kinds:    []Kind{KindArray},
					Items: &Field{
						Kinds: []Kind{KindObject},
						Fields: map[string]*Field{
							"role": {
								Required: true,
								Kinds:    []Kind{KindString},
								Enum:     []string{"user", "assistant"},
							},
							"content": {Required: true, Kinds: []Kind{KindString, KindArray}},
						},
					},
				},
				"max_tokens":  {Required: true, Kinds: []Kind{KindInteger}, Min: f64(1), Max: f64(4096)},
				"temperature": {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(1)},
				"top_p":       {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(1)},
				"top_k":       {Kinds: []Kind{KindInteger}, Min: f64(0)},
				"stream":      {Kinds: []Kind{KindBoolean}},
				"system":      {Kinds: []Kind{KindString}},
			},
		},
		{
			Provider: providers.Gemini,
			Method:   "POST",
			Path:     "/v1beta/models/:model/generateContent",
			Fields: map[string]*Field{
				"contents": {
					Required: true,
					Kinds:    []Kind{KindArray},
					Items: &Field{
						Kinds: []Kind{KindObject},
						Fields: map[string]*Field{
							"parts": {
								Required: true,
								Kinds:    []Kind{KindArray},
								Items: &Field{
									Kinds: []Kind{KindObject},
									RequireAnyKey: []string{
										"text", "inlineData", "fileData", "functionCall", "functionResponse",
									},
								},
							},
							"role": {Kinds: []Kind{KindString}, Enum: []string{"user", "model"}},
						},
					},
				},
				"tools":          {Kinds: []Kind{KindArray}},
				"safetySettings": {Kinds: []Kind{KindArray}},
				"generationConfig": {
					Kinds: []Kind{KindObject},
					Fields: map[string]*Field{
						"temperature":     {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(1)},
						"topP":            {Kinds: []Kind{KindNumber}, Min: f64(0), Max: f64(1)},
						"topK":            {Kinds: []Kind{KindInteger}, Min: f64(1)},
						"candidateCount":  {Kinds: []Kind{KindInteger}, Min: f64(1), Max: f64(8)},
						"maxOutputTokens": {Kinds: []Kind{KindInteger}, Min: f64(1), Max: f64(8192)},
					},
				},
			},
		},
	}
}
