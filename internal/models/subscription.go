package models

import "time"

// Subscription statuses. At most one subscription with a status other
// than canceled exists per (community, member) pair; the billing writer
// enforces this, the engine only relies on it.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Subscription is the billing relationship between one member and one
// tier within one community.
type Subscription struct {
	ID               string    `json:"id"`
	CommunityID      string    `json:"communityId"`
	MemberID         string    `json:"memberId"`
	TierID           string    `json:"tierId"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd"`
}

// ActiveSubscription is a subscription joined with its tier, as returned
// by the store for dispatcher lookups.
type ActiveSubscription struct {
	Subscription
	TierName       string `json:"tierName"`
	AccessMarkerID string `json:"accessMarkerId,omitempty"`
}

// ExpiredSubscription is a sweep candidate: a still-active subscription
// whose period has elapsed, joined with the community, member and tier
// fields the sweeper needs to act without further lookups.
type ExpiredSubscription struct {
	Subscription
	CommunityName  string `json:"communityName"`
	GuildID        string `json:"guildId"`
	PlatformUserID string `json:"platformUserId"`
	Username       string `json:"username,omitempty"`
	TierName       string `json:"tierName"`
	AccessMarkerID string `json:"accessMarkerId,omitempty"`
	MemberEmail    string `json:"memberEmail,omitempty"`
	MemberPhone    string `json:"memberPhone,omitempty"`
}
