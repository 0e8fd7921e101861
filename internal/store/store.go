// Package store is the record store boundary: every read and write of
// community, subscription and analytics records goes through this
// interface so the engine can be tested without postgres.
package store

import (
	"context"
	"errors"
	"time"

	"communityos-bot/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: record not found")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Store interface {
	// FindActiveCommunities returns all communities with status active,
	// with their tiers loaded.
	FindActiveCommunities(ctx context.Context) ([]models.Community, error)

	// FindExpiredActiveSubscriptions returns subscriptions still marked
	// active whose currentPeriodEnd is strictly before now, joined with
	// member, community and tier.
	FindExpiredActiveSubscriptions(ctx context.Context, now time.Time) ([]models.ExpiredSubscription, error)

	// UpdateSubscriptionStatus persists a status transition.
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string) error

	// FindActiveSubscription returns the member's subscription with
	// status active in the given community, or ErrNotFound.
	FindActiveSubscription(ctx context.Context, communityID, platformUserID string) (*models.ActiveSubscription, error)

	// InsertAnalyticsEvent appends one analytics record.
	InsertAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error
}
