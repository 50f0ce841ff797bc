// Package models defines the document types persisted by the gateway.
// Each type corresponds to a MongoDB collection and carries bson tags for
// storage plus json tags for the management API. Models are pure data —
// business logic belongs in the pipeline stages, query logic in the
// repositories package.
package models

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserDeleted   UserStatus = "deleted"
)

// User represents a gateway account. ExternalID links the account to the
// third-party identity provider; it is unique when present. Email is unique
// among non-deleted users (enforced by a partial index).
type User struct {
	ID         string     `bson:"_id" json:"id"`
	ExternalID *string    `bson:"externalId,omitempty" json:"externalId,omitempty"`
	Email      string     `bson:"email" json:"email"`
	Name       string     `bson:"name" json:"name"`
	Status     UserStatus `bson:"status" json:"status"`
	// DefaultProjectID is a weak reference: it may dangle briefly while a
	// project is being deleted and readers must tolerate that.
	DefaultProjectID *string    `bson:"defaultProjectId,omitempty" json:"defaultProjectId,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt" json:"updatedAt"`
	LastLoginAt      *time.Time `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
}

// IsActive reports whether the account can authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserActive
}
