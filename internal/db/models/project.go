package models

import (
	"strings"
	"time"
)

// MemberRole is a project membership role.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Member is one project membership entry. The owning user always appears
// here with RoleOwner.
type Member struct {
	UserID  string     `bson:"userId" json:"userId"`
	Role    MemberRole `bson:"role" json:"role"`
	AddedAt time.Time  `bson:"addedAt" json:"addedAt"`
}

// ProviderCredential is an AEAD-sealed provider API key embedded in the
// project document. At most one active credential per provider is consulted
// at forward time; ties break deterministically by array position.
type ProviderCredential struct {
	Provider string    `bson:"provider" json:"provider"`
	Envelope string    `bson:"envelope" json:"-"`
	KeyID    string    `bson:"keyId" json:"keyId"`
	Active   bool      `bson:"active" json:"active"`
	AddedBy  string    `bson:"addedBy" json:"addedBy"`
	AddedAt  time.Time `bson:"addedAt" json:"addedAt"`
}

// RateLimitOverride replaces the tier default when set.
type RateLimitOverride struct {
	RequestsPerMinute int `bson:"requestsPerMinute" json:"requestsPerMinute"`
}

// QuotaOverride replaces the tier defaults when set.
type QuotaOverride struct {
	DailyLimit   int64 `bson:"dailyLimit" json:"dailyLimit"`
	MonthlyLimit int64 `bson:"monthlyLimit" json:"monthlyLimit"`
}

// ProjectSettings holds optional per-project policy.
type ProjectSettings struct {
	RateLimit *RateLimitOverride `bson:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Quota     *QuotaOverride     `bson:"quota,omitempty" json:"quota,omitempty"`
	// AllowedProviders, when non-empty, is an allowlist of provider tags;
	// any other provider is forbidden regardless of credential availability.
	AllowedProviders []string `bson:"allowedProviders,omitempty" json:"allowedProviders,omitempty"`
	WebhookURL       string   `bson:"webhookUrl,omitempty" json:"webhookUrl,omitempty"`
}

// UsageBucket is one accounting window.
type UsageBucket struct {
	Requests int64   `bson:"requests" json:"requests"`
	Tokens   int64   `bson:"tokens" json:"tokens"`
	Cost     float64 `bson:"cost" json:"cost"`
}

// ProjectUsage holds the three counter buckets. These are the hottest write
// path in the system; every update must be a single server-side $inc.
type ProjectUsage struct {
	Total        UsageBucket `bson:"total" json:"total"`
	CurrentMonth UsageBucket `bson:"currentMonth" json:"currentMonth"`
	CurrentDay   UsageBucket `bson:"currentDay" json:"currentDay"`
	LastUpdated  time.Time   `bson:"lastUpdated" json:"lastUpdated"`
}

// Project is a tenant workspace. It exclusively owns its embedded
// credentials and usage counters.
type Project struct {
	ID          string               `bson:"_id" json:"id"`
	Name        string               `bson:"name" json:"name"`
	OwnerID     string               `bson:"ownerId" json:"ownerId"`
	Members     []Member             `bson:"members" json:"members"`
	Credentials []ProviderCredential `bson:"credentials" json:"credentials"`
	Settings    ProjectSettings      `bson:"settings" json:"settings"`
	Usage       ProjectUsage         `bson:"usage" json:"usage"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// ActiveCredential returns the first active credential for the provider tag,
// in insertion order. ok is false when none exists.
func (p *Project) ActiveCredential(provider string) (*ProviderCredential, bool) {
	for i := range p.Credentials {
		c := &p.Credentials[i]
		if c.Active && strings.EqualFold(c.Provider, provider) {
			return c, true
		}
	}
	return nil, false
}

// AllowsProvider applies the optional provider allowlist.
func (p *Project) AllowsProvider(provider string) bool {
	if len(p.Settings.AllowedProviders) == 0 {
		return true
	}
	for _, allowed := range p.Settings.AllowedProviders {
		if strings.EqualFold(allowed, provider) {
			return true
		}
	}
	return false
}

// MemberRoleOf returns the role of userID, or "" when not a member.
func (p *Project) MemberRoleOf(userID string) MemberRole {
	for _, m := range p.Members {
		if m.UserID == userID {
			return m.Role
		}
	}
	return ""
}

// Tier buckets projects by member count for default rate and quota policy.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tier infers the policy tier from member count: ≤1 free, 2–5 pro, >5
// enterprise.
func (p *Project) Tier() Tier {
	switch n := len(p.Members); {
	case n <= 1:
		return TierFree
	case n <= 5:
		return TierPro
	default:
		return TierEnterprise
	}
}
