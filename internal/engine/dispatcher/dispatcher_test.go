// internal/engine/dispatcher/dispatcher_test.go
package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"communityos-bot/internal/common/config"
	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/engine/access"
	"communityos-bot/internal/engine/analytics"
	"communityos-bot/internal/engine/registry"
	"communityos-bot/internal/models"
	"communityos-bot/internal/platform"
	"communityos-bot/internal/store"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeStore struct {
	store.Store
	mu            sync.Mutex
	communities   []models.Community
	subscriptions map[string]*models.ActiveSubscription
	subErr        error
	analytics     []models.AnalyticsEvent
}

func (f *fakeStore) FindActiveCommunities(ctx context.Context) ([]models.Community, error) {
	return f.communities, nil
}

func (f *fakeStore) FindActiveSubscription(ctx context.Context, communityID, platformUserID string) (*models.ActiveSubscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub, ok := f.subscriptions[communityID+":"+platformUserID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) InsertAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics = append(f.analytics, event)
	return nil
}

func (f *fakeStore) analyticsEvents() []models.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AnalyticsEvent(nil), f.analytics...)
}

type sentNotice struct {
	userID string
	text   string
}

type sentReply struct {
	interactionID string
	reply         platform.CommandReply
}

type fakePlatform struct {
	mu        sync.Mutex
	members   map[string]*platform.GuildMember
	commands  []platform.Command
	presence  string
	notices   []sentNotice
	replies   []sentReply
	granted   []string
	revoked   []string
	noticeErr error
}

func (f *fakePlatform) ResolveGuild(ctx context.Context, guildID string) (*platform.Guild, error) {
	return &platform.Guild{ID: guildID}, nil
}

func (f *fakePlatform) FetchMember(ctx context.Context, guildID, userID string) (*platform.GuildMember, error) {
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return &platform.GuildMember{UserID: userID}, nil
}

func (f *fakePlatform) AddAccessMarker(ctx context.Context, guildID, userID, markerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = append(f.granted, userID+":"+markerID)
	return nil
}

func (f *fakePlatform) RemoveAccessMarker(ctx context.Context, guildID, userID, markerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID+":"+markerID)
	return nil
}

func (f *fakePlatform) SendDirectNotice(ctx context.Context, userID, text string) error {
	if f.noticeErr != nil {
		return f.noticeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, sentNotice{userID: userID, text: text})
	return nil
}

func (f *fakePlatform) ReplyToCommand(ctx context.Context, interactionID string, reply platform.CommandReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{interactionID: interactionID, reply: reply})
	return nil
}

func (f *fakePlatform) RegisterCommands(ctx context.Context, commands []platform.Command) error {
	f.commands = commands
	return nil
}

func (f *fakePlatform) SetPresence(ctx context.Context, activity string) error {
	f.presence = activity
	return nil
}

func (f *fakePlatform) lastReply(t *testing.T) platform.CommandReply {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.replies)
	return f.replies[len(f.replies)-1].reply
}

type testEngine struct {
	engine   *Engine
	store    *fakeStore
	platform *fakePlatform
	sink     *analytics.Sink
	redis    *miniredis.Miniredis
}

func testCommunity() models.Community {
	return models.Community{
		ID:             "com-1",
		Name:           "Gamers Guild",
		GuildID:        "guild-1",
		Status:         "active",
		WelcomeMessage: "Welcome {username} to {server}!",
		Tiers: []models.SubscriptionTier{
			{ID: "tier-1", Name: "Gold", Description: "Full access", PriceCents: 999, Interval: "month", IsActive: true, AccessMarkerID: "marker-gold"},
			{ID: "tier-2", Name: "Silver", Description: "Partial access", PriceCents: 499, Interval: "month", IsActive: true, AccessMarkerID: "marker-silver"},
		},
	}
}

func createTestEngine(t *testing.T, st *fakeStore) *testEngine {
	log := logger.NewTestLogger(t)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	client := &fakePlatform{}
	reg := registry.New(st, nil, log)
	require.NoError(t, reg.Reload(context.Background()))

	sink := analytics.New(st, nil, "", 64, log)
	syncer := access.NewSynchronizer(client, log)

	cfg := &config.Config{}
	cfg.App.DashboardURL = "https://app.example.com"
	cfg.Engine.WelcomeDedupTTL = time.Hour

	engine := New(reg, st, syncer, sink, client, rdb, nil, nil, nil, cfg, log)
	return &testEngine{engine: engine, store: st, platform: client, sink: sink, redis: mr}
}

// ==========================
// Ready Tests
// ==========================

func TestEngine_Ready(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.ReadyEvent{
		BotUserID: "bot-1", BotUsername: "communityos", GuildCount: 3,
	})

	assert.Equal(t, "CommunityOS - Monetize Your Community", te.platform.presence)

	require.Len(t, te.platform.commands, 4)
	names := make([]string, 0, 4)
	for _, c := range te.platform.commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"subscribe", "status", "cancel", "help"}, names)
}

// ==========================
// Member Join Tests
// ==========================

func TestEngine_MemberJoined_WithActiveSubscription(t *testing.T) {
	st := &fakeStore{
		communities: []models.Community{testCommunity()},
		subscriptions: map[string]*models.ActiveSubscription{
			"com-1:user-1": {
				Subscription:   models.Subscription{ID: "sub-1", Status: models.SubscriptionActive},
				TierName:       "Gold",
				AccessMarkerID: "marker-gold",
			},
		},
	}
	te := createTestEngine(t, st)

	te.engine.HandleEvent(context.Background(), platform.MemberJoinedEvent{
		GuildID: "guild-1", UserID: "user-1", Username: "alice",
	})
	te.sink.Close()

	// Marker restored on rejoin.
	assert.Equal(t, []string{"user-1:marker-gold"}, te.platform.granted)

	// Welcome message with placeholders rendered.
	require.Len(t, te.platform.notices, 1)
	assert.Equal(t, "user-1", te.platform.notices[0].userID)
	assert.Equal(t, "Welcome alice to Gamers Guild!", te.platform.notices[0].text)

	events := st.analyticsEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "member_joined", events[0].Name)
	assert.Equal(t, true, events[0].Properties["hasSubscription"])
}

func TestEngine_MemberJoined_WithoutSubscription(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.MemberJoinedEvent{
		GuildID: "guild-1", UserID: "user-2", Username: "bob",
	})
	te.sink.Close()

	assert.Empty(t, te.platform.granted)
	require.Len(t, te.platform.notices, 1)

	events := te.store.analyticsEvents()
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Properties["hasSubscription"])
}

func TestEngine_MemberJoined_WelcomeDeduplicated(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	join := platform.MemberJoinedEvent{GuildID: "guild-1", UserID: "user-1", Username: "alice"}
	te.engine.HandleEvent(context.Background(), join)
	te.engine.HandleEvent(context.Background(), join)
	te.sink.Close()

	// Second join inside the dedup window sends no second welcome,
	// but analytics still records both joins.
	assert.Len(t, te.platform.notices, 1)
	assert.Len(t, te.store.analyticsEvents(), 2)
}

func TestEngine_MemberJoined_WelcomeFailureDoesNotBlockGrant(t *testing.T) {
	st := &fakeStore{
		communities: []models.Community{testCommunity()},
		subscriptions: map[string]*models.ActiveSubscription{
			"com-1:user-1": {
				Subscription:   models.Subscription{ID: "sub-1", Status: models.SubscriptionActive},
				AccessMarkerID: "marker-gold",
			},
		},
	}
	te := createTestEngine(t, st)
	te.platform.noticeErr = assert.AnError

	te.engine.HandleEvent(context.Background(), platform.MemberJoinedEvent{
		GuildID: "guild-1", UserID: "user-1", Username: "alice",
	})
	te.sink.Close()

	assert.Equal(t, []string{"user-1:marker-gold"}, te.platform.granted)
	assert.Len(t, te.store.analyticsEvents(), 1)
}

func TestEngine_ShouldWelcome_RedisFailureSendsAnyway(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	rdb, mock := redismock.NewClientMock()
	mock.ExpectSetNX("welcome:com-1:user-1", "1", time.Hour).SetErr(assert.AnError)
	te.engine.redis = rdb

	// Dedup degrades to at-least-once when redis is unavailable.
	assert.True(t, te.engine.shouldWelcome(context.Background(), "com-1", "user-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_ShouldWelcome_NoRedisConfigured(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})
	te.engine.redis = nil

	assert.True(t, te.engine.shouldWelcome(context.Background(), "com-1", "user-1"))
}

func TestEngine_MemberJoined_UnregisteredGuildIgnored(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.MemberJoinedEvent{
		GuildID: "guild-unknown", UserID: "user-1", Username: "alice",
	})
	te.sink.Close()

	assert.Empty(t, te.platform.granted)
	assert.Empty(t, te.platform.notices)
	assert.Empty(t, te.store.analyticsEvents())
}

// ==========================
// Member Left & DM Tests
// ==========================

func TestEngine_MemberLeft(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.MemberLeftEvent{
		GuildID: "guild-1", UserID: "user-1", Username: "alice",
	})
	te.sink.Close()

	events := te.store.analyticsEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "member_left", events[0].Name)
	assert.Equal(t, "user-1", events[0].Properties["userId"])
}

func TestEngine_DirectMessage_AutoReply(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.DirectMessageEvent{
		UserID: "user-1", Content: "how do I subscribe?",
	})

	require.Len(t, te.platform.notices, 1)
	assert.Contains(t, te.platform.notices[0].text, "CommunityOS bot")
}

func TestEngine_DirectMessage_IgnoresBots(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	te.engine.HandleEvent(context.Background(), platform.DirectMessageEvent{
		UserID: "bot-2", Content: "beep", FromBot: true,
	})

	assert.Empty(t, te.platform.notices)
}

// ==========================
// Access Reconciliation API Tests
// ==========================

func TestEngine_UpdateMemberAccess_GrantsCurrentTier(t *testing.T) {
	st := &fakeStore{
		communities: []models.Community{testCommunity()},
		subscriptions: map[string]*models.ActiveSubscription{
			"com-1:user-1": {
				Subscription:   models.Subscription{ID: "sub-1", Status: models.SubscriptionActive},
				AccessMarkerID: "marker-gold",
			},
		},
	}
	te := createTestEngine(t, st)
	// Member currently holds the wrong tier's marker.
	te.platform.members = map[string]*platform.GuildMember{
		"user-1": {UserID: "user-1", MarkerIDs: []string{"marker-silver"}},
	}

	require.NoError(t, te.engine.UpdateMemberAccess(context.Background(), "guild-1", "user-1"))

	assert.Equal(t, []string{"user-1:marker-gold"}, te.platform.granted)
	assert.Equal(t, []string{"user-1:marker-silver"}, te.platform.revoked)
}

func TestEngine_RemoveMemberAccess_RevokesAllTierMarkers(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})
	te.platform.members = map[string]*platform.GuildMember{
		"user-1": {UserID: "user-1", MarkerIDs: []string{"marker-gold", "marker-silver"}},
	}

	require.NoError(t, te.engine.RemoveMemberAccess(context.Background(), "guild-1", "user-1"))

	assert.ElementsMatch(t, []string{"user-1:marker-gold", "user-1:marker-silver"}, te.platform.revoked)
}

func TestEngine_UpdateMemberAccess_NoSubscriptionRevokes(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})
	te.platform.members = map[string]*platform.GuildMember{
		"user-1": {UserID: "user-1", MarkerIDs: []string{"marker-gold"}},
	}

	require.NoError(t, te.engine.UpdateMemberAccess(context.Background(), "guild-1", "user-1"))

	assert.Empty(t, te.platform.granted)
	assert.Equal(t, []string{"user-1:marker-gold"}, te.platform.revoked)
}

// ==========================
// Event Loop Tests
// ==========================

func TestEngine_RunDrainsChannelUntilClose(t *testing.T) {
	te := createTestEngine(t, &fakeStore{communities: []models.Community{testCommunity()}})

	events := make(chan platform.Event, 2)
	events <- platform.MemberLeftEvent{GuildID: "guild-1", UserID: "user-1"}
	events <- platform.MemberLeftEvent{GuildID: "guild-1", UserID: "user-2"}
	close(events)

	te.engine.Run(context.Background(), events)
	te.sink.Close()

	assert.Len(t, te.store.analyticsEvents(), 2)
}
