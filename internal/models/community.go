package models

// Community is one tenant: a customer's isolated configuration and member
// base on the external platform. Created by onboarding; read-only here.
type Community struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	GuildID        string             `json:"guildId"`
	Status         string             `json:"status"` // active | inactive
	WelcomeMessage string             `json:"welcomeMessage,omitempty"`
	Tiers          []SubscriptionTier `json:"tiers"`
}

// ActiveTiers returns the tiers currently purchasable in this community.
func (c *Community) ActiveTiers() []SubscriptionTier {
	out := make([]SubscriptionTier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out
}

// SubscriptionTier is a purchasable level mapped to zero or one external
// access marker. Tiers with an empty AccessMarkerID never trigger a
// platform mutation.
type SubscriptionTier struct {
	ID             string `json:"id"`
	CommunityID    string `json:"communityId"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PriceCents     int64  `json:"priceCents"`
	Interval       string `json:"interval"` // month | year
	IsActive       bool   `json:"isActive"`
	AccessMarkerID string `json:"accessMarkerId,omitempty"`
}

// Member associates a platform user with a community.
type Member struct {
	ID             string `json:"id"`
	CommunityID    string `json:"communityId"`
	PlatformUserID string `json:"platformUserId"`
	Username       string `json:"username,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}
