package models

import "time"

// AuditStatus is the outcome recorded on an audit entry.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// AuditLog records one security-relevant event: administrative actions
// (api_key.*, project.*, project.member.*, user.*, auth.*) and one entry per
// proxied request (api.<method>). Entries expire after 90 days via a TTL
// index on Timestamp.
type AuditLog struct {
	ID           string         `bson:"_id" json:"id"`
	UserID       string         `bson:"userId,omitempty" json:"userId,omitempty"`
	Action       string         `bson:"action" json:"action"`
	ResourceType string         `bson:"resourceType" json:"resourceType"`
	ResourceID   string         `bson:"resourceId,omitempty" json:"resourceId,omitempty"`
	Details      map[string]any `bson:"details,omitempty" json:"details,omitempty"`
	ClientIP     string         `bson:"clientIp,omitempty" json:"clientIp,omitempty"`
	UserAgent    string         `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Timestamp    time.Time      `bson:"timestamp" json:"timestamp"`
	Status       AuditStatus    `bson:"status" json:"status"`
	ErrorMessage string         `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}
