package models

import "time"

// UsageRecord is one proxied request's accounting entry. Records expire
// after 90 days via a TTL index on Timestamp.
type UsageRecord struct {
	ID        string `bson:"_id" json:"id"`
	UserID    string `bson:"userId" json:"userId"`
	ProjectID string `bson:"projectId,omitempty" json:"projectId,omitempty"`
	Provider  string `bson:"provider" json:"provider"`
	Endpoint  string `bson:"endpoint" json:"endpoint"`
	Method    string `bson:"method" json:"method"`
	Model     string `bson:"model,omitempty" json:"model,omitempty"`
	// Token counts are pointers because providers omit usage on some
	// responses (streaming without usage frames, error bodies).
	PromptTokens     *int64         `bson:"promptTokens,omitempty" json:"promptTokens,omitempty"`
	CompletionTokens *int64         `bson:"completionTokens,omitempty" json:"completionTokens,omitempty"`
	TotalTokens      *int64         `bson:"totalTokens,omitempty" json:"totalTokens,omitempty"`
	Cost             *float64       `bson:"cost,omitempty" json:"cost,omitempty"`
	ResponseTimeMS   int64          `bson:"responseTimeMs" json:"responseTimeMs"`
	StatusCode       int            `bson:"statusCode" json:"statusCode"`
	Timestamp        time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata         map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}
