// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "communityos-bot/internal/common/errors"
	"communityos-bot/internal/models"
)

// PostgresStore implements Store over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const activeCommunitiesQuery = `
SELECT c.id, c.name, c.guild_id, c.status, COALESCE(c.welcome_message, ''),
       t.id, t.name, COALESCE(t.description, ''), t.price_cents, t.interval,
       t.is_active, COALESCE(t.access_marker_id, '')
FROM communities c
LEFT JOIN subscription_tiers t ON t.community_id = c.id
WHERE c.status = 'active'
ORDER BY c.id, t.id`

func (s *PostgresStore) FindActiveCommunities(ctx context.Context) ([]models.Community, error) {
	rows, err := s.db.QueryContext(ctx, activeCommunitiesQuery)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("FindActiveCommunities", err)
	}
	defer rows.Close()

	var communities []models.Community
	var current *models.Community

	for rows.Next() {
		var (
			c    models.Community
			tID  sql.NullString
			t    models.SubscriptionTier
			tAct sql.NullBool
		)
		var tName, tDesc, tMarker sql.NullString
		var tPrice sql.NullInt64
		var tInterval sql.NullString

		if err := rows.Scan(
			&c.ID, &c.Name, &c.GuildID, &c.Status, &c.WelcomeMessage,
			&tID, &tName, &tDesc, &tPrice, &tInterval, &tAct, &tMarker,
		); err != nil {
			return nil, apperrors.NewStoreUnavailableError("FindActiveCommunities", err)
		}

		if current == nil || current.ID != c.ID {
			communities = append(communities, c)
			current = &communities[len(communities)-1]
		}

		if tID.Valid {
			t.ID = tID.String
			t.CommunityID = current.ID
			t.Name = tName.String
			t.Description = tDesc.String
			t.PriceCents = tPrice.Int64
			t.Interval = tInterval.String
			t.IsActive = tAct.Bool
			t.AccessMarkerID = tMarker.String
			current.Tiers = append(current.Tiers, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("FindActiveCommunities", err)
	}

	return communities, nil
}

const expiredSubscriptionsQuery = `
SELECT s.id, s.community_id, s.member_id, s.tier_id, s.status, s.current_period_end,
       c.name, c.guild_id, m.platform_user_id, COALESCE(m.username, ''),
       t.name, COALESCE(t.access_marker_id, ''),
       COALESCE(m.email, ''), COALESCE(m.phone, '')
FROM subscriptions s
JOIN communities c ON c.id = s.community_id
JOIN members m ON m.id = s.member_id
JOIN subscription_tiers t ON t.id = s.tier_id
WHERE s.status = 'active' AND s.current_period_end < $1
ORDER BY s.current_period_end`

func (s *PostgresStore) FindExpiredActiveSubscriptions(ctx context.Context, now time.Time) ([]models.ExpiredSubscription, error) {
	rows, err := s.db.QueryContext(ctx, expiredSubscriptionsQuery, now)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("FindExpiredActiveSubscriptions", err)
	}
	defer rows.Close()

	var out []models.ExpiredSubscription
	for rows.Next() {
		var e models.ExpiredSubscription
		if err := rows.Scan(
			&e.ID, &e.CommunityID, &e.MemberID, &e.TierID, &e.Status, &e.CurrentPeriodEnd,
			&e.CommunityName, &e.GuildID, &e.PlatformUserID, &e.Username,
			&e.TierName, &e.AccessMarkerID,
			&e.MemberEmail, &e.MemberPhone,
		); err != nil {
			return nil, apperrors.NewStoreUnavailableError("FindExpiredActiveSubscriptions", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("FindExpiredActiveSubscriptions", err)
	}

	return out, nil
}

func (s *PostgresStore) UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, subscriptionID,
	)
	if err != nil {
		return apperrors.NewStatusUpdateFailedError(subscriptionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewStatusUpdateFailedError(subscriptionID, ErrNotFound)
	}
	return nil
}

const activeSubscriptionQuery = `
SELECT s.id, s.community_id, s.member_id, s.tier_id, s.status, s.current_period_end,
       t.name, COALESCE(t.access_marker_id, '')
FROM subscriptions s
JOIN members m ON m.id = s.member_id
JOIN subscription_tiers t ON t.id = s.tier_id
WHERE s.community_id = $1 AND m.platform_user_id = $2 AND s.status = 'active'
LIMIT 1`

func (s *PostgresStore) FindActiveSubscription(ctx context.Context, communityID, platformUserID string) (*models.ActiveSubscription, error) {
	var sub models.ActiveSubscription
	err := s.db.QueryRowContext(ctx, activeSubscriptionQuery, communityID, platformUserID).Scan(
		&sub.ID, &sub.CommunityID, &sub.MemberID, &sub.TierID, &sub.Status, &sub.CurrentPeriodEnd,
		&sub.TierName, &sub.AccessMarkerID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperrors.NewStoreUnavailableError("FindActiveSubscription", err)
	}
	return &sub, nil
}

func (s *PostgresStore) InsertAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("marshal analytics properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (id, community_id, source, name, properties, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.CommunityID, event.Source, event.Name, props, event.Timestamp,
	)
	if err != nil {
		return apperrors.NewStoreUnavailableError("InsertAnalyticsEvent", err)
	}
	return nil
}
