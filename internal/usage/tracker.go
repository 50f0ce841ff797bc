// Package usage turns completed proxy requests into accounting state: one
// UsageRecord per request plus a single atomic increment of the owning
// project's counter buckets. The tracker runs after the response is already
// on the wire, so every failure here is logged and swallowed — accounting
// must never fail a request that the upstream answered.
package usage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/providers"
	"github.com/ai-guard/ai-guard/internal/telemetry"
)

// Observation is everything the pipeline hands the tracker about one
// completed request.
type Observation struct {
	UserID    string
	ProjectID string
	Provider  providers.Provider
	Method    string
	Path      string
	// RequestBody is the parsed inbound JSON body (may be nil).
	RequestBody map[string]any
	// ResponseBody is the buffered response or the streamed tail capture.
	ResponseBody []byte
	Streamed     bool
	StatusCode   int
	Duration     time.Duration
	Metadata     map[string]any
}

// TokenCounts is the provider-reported usage extracted from a response.
type TokenCounts struct {
	Prompt     *int64
	Completion *int64
	Total      *int64
}

// Tracker records usage and advances project counters.
type Tracker struct {
	records  repositories.UsageRepository
	projects repositories.ProjectRepository
}

// NewTracker creates a Tracker.
func NewTracker(records repositories.UsageRepository, projects repositories.ProjectRepository) *Tracker {
	return &Tracker{records: records, projects: projects}
}

// Record emits the UsageRecord and increments the project buckets exactly
// once for the observation. Errors are logged, never returned.
func (t *Tracker) Record(ctx context.Context, obs *Observation) {
	counts := ExtractTokens(obs.Provider, obs.ResponseBody, obs.Streamed)
	model := ExtractModel(obs.Provider, obs.RequestBody, obs.Path)
	cost := Cost(model, counts.Prompt, counts.Completion)

	record := &models.UsageRecord{
		UserID:           obs.UserID,
		ProjectID:        obs.ProjectID,
		Provider:         string(obs.Provider),
		Endpoint:         obs.Path,
		Method:           obs.Method,
		Model:            model,
		PromptTokens:     counts.Prompt,
		CompletionTokens: counts.Completion,
		TotalTokens:      counts.Total,
		Cost:             cost,
		ResponseTimeMS:   obs.Duration.Milliseconds(),
		StatusCode:       obs.StatusCode,
		Timestamp:        time.Now().UTC(),
		Metadata:         obs.Metadata,
	}

	if err := t.records.Insert(ctx, record); err != nil {
		slog.Error("failed to insert usage record", "provider", obs.Provider, "error", err)
	}

	if counts.Prompt != nil {
		telemetry.UsageTokensTotal.WithLabelValues(string(obs.Provider), "prompt").Add(float64(*counts.Prompt))
	}
	if counts.Completion != nil {
		telemetry.UsageTokensTotal.WithLabelValues(string(obs.Provider), "completion").Add(float64(*counts.Completion))
	}

	if obs.ProjectID == "" {
		return
	}

	delta := repositories.UsageDelta{Requests: 1, Tokens: 1}
	if counts.Total != nil {
		delta.Tokens = *counts.Total
	}
	if cost != nil {
		delta.Cost = *cost
	}
	if err := t.projects.IncrementUsage(ctx, obs.ProjectID, delta); err != nil {
		slog.Error("failed to increment project usage", "project_id", obs.ProjectID, "error", err)
	}
}

// ExtractModel derives the model name: from the request body for OpenAI and
// Anthropic, from the path segment after models/ for Gemini.
func ExtractModel(provider providers.Provider, body map[string]any, path string) string {
	if provider == providers.Gemini {
		const marker = "/models/"
		if idx := strings.Index(path, marker); idx >= 0 {
			rest := path[idx+len(marker):]
			if end := strings.IndexAny(rest, "/:"); end >= 0 {
				return rest[:end]
			}
			return rest
		}
		return ""
	}
	if body != nil {
		if m, ok := body["model"].(string); ok {
			return m
		}
	}
	return ""
}

// ExtractTokens parses provider usage fields out of a response body. Absent
// fields are tolerated — a nil count means the provider didn't report it.
func ExtractTokens(provider providers.Provider, body []byte, streamed bool) TokenCounts {
	if len(body) == 0 {
		return TokenCounts{}
	}
	if streamed {
		return extractFromStream(provider, body)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return TokenCounts{}
	}
	return extractFromDocument(provider, doc)
}

func extractFromDocument(provider providers.Provider, doc map[string]any) TokenCounts {
	switch provider {
	case providers.OpenAI:
		u, ok := doc["usage"].(map[string]any)
		if !ok {
			return TokenCounts{}
		}
		return TokenCounts{
			Prompt:     intField(u, "prompt_tokens"),
			Completion: intField(u, "completion_tokens"),
			Total:      intField(u, "total_tokens"),
		}
	case providers.Anthropic:
		u, ok := doc["usage"].(map[string]any)
		if !ok {
			return TokenCounts{}
		}
		counts := TokenCounts{
			Prompt:     intField(u, "input_tokens"),
			Completion: intField(u, "output_tokens"),
		}
		if counts.Prompt != nil && counts.Completion != nil {
			total := *counts.Prompt + *counts.Completion
			counts.Total = &total
		}
		return counts
	case providers.Gemini:
		u, ok := doc["usageMetadata"].(map[string]any)
		if !ok {
			return TokenCounts{}
		}
		return TokenCounts{
			Prompt:     intField(u, "promptTokenCount"),
			Completion: intField(u, "candidatesTokenCount"),
			Total:      intField(u, "totalTokenCount"),
		}
	}
	return TokenCounts{}
}

// extractFromStream walks SSE data frames (or NDJSON lines) in the captured
// tail and keeps the last usage values seen. Anthropic splits usage across
// message_start (input) and message_delta (output); OpenAI and Gemini report
// usage on their final chunk.
func extractFromStream(provider providers.Provider, tail []byte) TokenCounts {
	var merged TokenCounts

	scanner := bufio.NewScanner(bytes.NewReader(tail))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("{")) {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err != nil {
			// The first captured line of a bounded tail may be truncated.
			continue
		}

		frame := extractFromDocument(provider, doc)
		if frame.Prompt != nil {
			merged.Prompt = frame.Prompt
		}
		if frame.Completion != nil {
			merged.Completion = frame.Completion
		}
		if frame.Total != nil {
			merged.Total = frame.Total
		}
	}

	if merged.Total == nil && merged.Prompt != nil && merged.Completion != nil {
		total := *merged.Prompt + *merged.Completion
		merged.Total = &total
	}
	return merged
}

func intField(m map[string]any, key string) *int64 {
	if f, ok := m[key].(float64); ok {
		v := int64(f)
		return &v
	}
	return nil
}
