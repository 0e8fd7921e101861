// internal/store/postgres_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "communityos-bot/internal/common/errors"
	"communityos-bot/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func communityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "guild_id", "status", "welcome_message",
		"tier_id", "tier_name", "tier_description", "price_cents", "interval",
		"is_active", "access_marker_id",
	})
}

func expiredRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "community_id", "member_id", "tier_id", "status", "current_period_end",
		"community_name", "guild_id", "platform_user_id", "username",
		"tier_name", "access_marker_id", "email", "phone",
	})
}

// ==========================
// FindActiveCommunities Tests
// ==========================

func TestPostgresStore_FindActiveCommunities(t *testing.T) {
	st, mock := createTestStore(t)

	rows := communityRows().
		AddRow("com-1", "Gamers Guild", "guild-1", "active", "Welcome {username} to {server}!",
			"tier-1", "Gold", "Full access", int64(999), "month", true, "marker-gold").
		AddRow("com-1", "Gamers Guild", "guild-1", "active", "Welcome {username} to {server}!",
			"tier-2", "Silver", "", int64(499), "month", true, "marker-silver").
		AddRow("com-2", "Book Club", "guild-2", "active", "",
			nil, nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery("SELECT c.id, c.name").WillReturnRows(rows)

	communities, err := st.FindActiveCommunities(context.Background())
	require.NoError(t, err)
	require.Len(t, communities, 2)

	assert.Equal(t, "guild-1", communities[0].GuildID)
	require.Len(t, communities[0].Tiers, 2)
	assert.Equal(t, "marker-gold", communities[0].Tiers[0].AccessMarkerID)
	assert.Equal(t, int64(499), communities[0].Tiers[1].PriceCents)

	// Community without tiers still appears, with an empty tier slice.
	assert.Equal(t, "Book Club", communities[1].Name)
	assert.Empty(t, communities[1].Tiers)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindActiveCommunities_QueryError(t *testing.T) {
	st, mock := createTestStore(t)
	mock.ExpectQuery("SELECT c.id, c.name").WillReturnError(assert.AnError)

	_, err := st.FindActiveCommunities(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStoreUnavailable, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

// ==========================
// FindExpiredActiveSubscriptions Tests
// ==========================

func TestPostgresStore_FindExpiredActiveSubscriptions(t *testing.T) {
	st, mock := createTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := expiredRows().AddRow(
		"sub-1", "com-1", "mem-1", "tier-1", "active", now.Add(-time.Hour),
		"Gamers Guild", "guild-1", "user-1", "alice",
		"Gold", "marker-gold", "alice@example.com", "+15550001",
	)
	mock.ExpectQuery("FROM subscriptions s").WithArgs(now).WillReturnRows(rows)

	expired, err := st.FindExpiredActiveSubscriptions(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	assert.Equal(t, "sub-1", expired[0].ID)
	assert.Equal(t, "Gamers Guild", expired[0].CommunityName)
	assert.Equal(t, "guild-1", expired[0].GuildID)
	assert.Equal(t, "user-1", expired[0].PlatformUserID)
	assert.Equal(t, "marker-gold", expired[0].AccessMarkerID)
	assert.Equal(t, "alice@example.com", expired[0].MemberEmail)
}

func TestPostgresStore_FindExpiredActiveSubscriptions_Empty(t *testing.T) {
	st, mock := createTestStore(t)
	now := time.Now()
	mock.ExpectQuery("FROM subscriptions s").WithArgs(now).WillReturnRows(expiredRows())

	expired, err := st.FindExpiredActiveSubscriptions(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

// ==========================
// UpdateSubscriptionStatus Tests
// ==========================

func TestPostgresStore_UpdateSubscriptionStatus(t *testing.T) {
	st, mock := createTestStore(t)
	mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs(models.SubscriptionCanceled, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.UpdateSubscriptionStatus(context.Background(), "sub-1", models.SubscriptionCanceled)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubscriptionStatus_NoRows(t *testing.T) {
	st, mock := createTestStore(t)
	mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs(models.SubscriptionCanceled, "sub-gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.UpdateSubscriptionStatus(context.Background(), "sub-gone", models.SubscriptionCanceled)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStatusUpdateFailed, apperrors.CodeOf(err))
	assert.True(t, IsNotFound(err))
}

// ==========================
// FindActiveSubscription Tests
// ==========================

func TestPostgresStore_FindActiveSubscription(t *testing.T) {
	st, mock := createTestStore(t)
	periodEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "community_id", "member_id", "tier_id", "status", "current_period_end",
		"tier_name", "access_marker_id",
	}).AddRow("sub-1", "com-1", "mem-1", "tier-1", "active", periodEnd, "Gold", "marker-gold")
	mock.ExpectQuery("WHERE s.community_id").WithArgs("com-1", "user-1").WillReturnRows(rows)

	sub, err := st.FindActiveSubscription(context.Background(), "com-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Gold", sub.TierName)
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd)
}

func TestPostgresStore_FindActiveSubscription_NotFound(t *testing.T) {
	st, mock := createTestStore(t)
	mock.ExpectQuery("WHERE s.community_id").
		WithArgs("com-1", "user-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.FindActiveSubscription(context.Background(), "com-1", "user-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ==========================
// InsertAnalyticsEvent Tests
// ==========================

func TestPostgresStore_InsertAnalyticsEvent(t *testing.T) {
	st, mock := createTestStore(t)
	event := models.AnalyticsEvent{
		ID:          "evt-1",
		CommunityID: "com-1",
		Source:      "platform",
		Name:        "member_joined",
		Properties:  map[string]interface{}{"userId": "user-1"},
		Timestamp:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO analytics_events").
		WithArgs(event.ID, event.CommunityID, event.Source, event.Name, sqlmock.AnyArg(), event.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.InsertAnalyticsEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
