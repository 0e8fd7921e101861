// Package dispatcher is the engine core: it consumes gateway events,
// routes them to the registry, access synchronizer and analytics sink,
// and answers slash commands. One event is handled at a time; ordering
// across the gateway stream is preserved.
package dispatcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"communityos-bot/internal/common/config"
	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/common/observability"
	"communityos-bot/internal/engine/access"
	"communityos-bot/internal/engine/analytics"
	"communityos-bot/internal/engine/registry"
	"communityos-bot/internal/engine/schedule"
	"communityos-bot/internal/models"
	"communityos-bot/internal/platform"
	"communityos-bot/internal/store"
)

const presenceActivity = "CommunityOS - Monetize Your Community"

const supportAutoReply = "Hi! I'm the CommunityOS bot. I manage subscriptions for this community. " +
	"For support, please contact the community admins or visit our help center."

// slashCommands is the surface registered with the platform on ready.
var slashCommands = []platform.Command{
	{Name: "subscribe", Description: "View and purchase subscription tiers"},
	{Name: "status", Description: "Check your subscription status"},
	{Name: "cancel", Description: "Cancel your subscription"},
	{Name: "help", Description: "Get help with CommunityOS"},
}

// Engine wires the reconciliation components behind the gateway stream.
type Engine struct {
	registry *registry.Registry
	store    store.Store
	access   *access.Synchronizer
	sink     *analytics.Sink
	platform platform.Client
	redis    *redis.Client
	obs      *observability.Observability
	log      logger.Logger

	sweepSched  *schedule.Scheduler
	reloadSched *schedule.Scheduler
	startOnce   sync.Once

	dashboardURL string
	dedupTTL     time.Duration
}

func New(
	reg *registry.Registry,
	st store.Store,
	syncer *access.Synchronizer,
	sink *analytics.Sink,
	client platform.Client,
	redisClient *redis.Client,
	sweepSched, reloadSched *schedule.Scheduler,
	obs *observability.Observability,
	cfg *config.Config,
	log logger.Logger,
) *Engine {
	return &Engine{
		registry:     reg,
		store:        st,
		access:       syncer,
		sink:         sink,
		platform:     client,
		redis:        redisClient,
		sweepSched:   sweepSched,
		reloadSched:  reloadSched,
		obs:          obs,
		log:          log.WithFields(map[string]interface{}{"component": "dispatcher"}),
		dashboardURL: cfg.App.DashboardURL,
		dedupTTL:     cfg.Engine.WelcomeDedupTTL,
	}
}

// Run consumes events until the channel closes or ctx is canceled.
func (e *Engine) Run(ctx context.Context, events <-chan platform.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent routes one gateway event. Handler failures are contained:
// they are logged and counted, never propagated to the read loop.
func (e *Engine) HandleEvent(ctx context.Context, ev platform.Event) {
	started := time.Now()
	outcome := "success"

	switch v := ev.(type) {
	case platform.ReadyEvent:
		e.handleReady(ctx, v)
	case platform.MemberJoinedEvent:
		e.handleMemberJoined(ctx, v)
	case platform.MemberLeftEvent:
		e.handleMemberLeft(ctx, v)
	case platform.CommandEvent:
		e.handleCommand(ctx, v)
	case platform.DirectMessageEvent:
		e.handleDirectMessage(ctx, v)
	default:
		outcome = "unhandled"
		e.log.Warn("unhandled gateway event", map[string]interface{}{
			"eventType": ev.EventType(),
		})
	}

	metrics.EventsProcessed.WithLabelValues(ev.EventType(), outcome).Inc()
	if e.obs != nil {
		e.obs.RecordEventProcessed(ctx, ev.EventType(), outcome)
		e.obs.RecordEventDuration(ctx, ev.EventType(), time.Since(started))
	}
}

// handleReady brings the engine online: warm the registry, publish the
// command surface and presence, and start the background schedulers.
// Schedulers are started once; gateway reconnects re-deliver ready but
// only refresh the registry and the platform surface.
func (e *Engine) handleReady(ctx context.Context, ev platform.ReadyEvent) {
	e.log.Info("gateway session ready", map[string]interface{}{
		"botUsername": ev.BotUsername,
		"guildCount":  ev.GuildCount,
	})

	if err := e.registry.Reload(ctx); err != nil {
		e.log.Error("initial registry load failed, serving empty snapshot until next reload", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := e.platform.RegisterCommands(ctx, slashCommands); err != nil {
		e.log.Error("command registration failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := e.platform.SetPresence(ctx, presenceActivity); err != nil {
		e.log.Warn("presence update failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	e.startOnce.Do(func() {
		if e.reloadSched != nil {
			e.reloadSched.Start(ctx)
		}
		if e.sweepSched != nil {
			e.sweepSched.Start(ctx)
		}
	})
}

// handleMemberJoined runs three independent effects: access grant,
// welcome message, analytics. Each failure is caught on its own so a
// broken welcome never blocks a grant and vice versa.
func (e *Engine) handleMemberJoined(ctx context.Context, ev platform.MemberJoinedEvent) {
	community, ok := e.registry.Lookup(ev.GuildID)
	if !ok {
		e.log.Debug("join in unregistered guild ignored", map[string]interface{}{
			"guildId": ev.GuildID,
		})
		return
	}

	log := e.log.WithFields(map[string]interface{}{
		"communityId": community.ID,
		"userId":      ev.UserID,
	})

	hasSubscription := false
	sub, err := e.store.FindActiveSubscription(ctx, community.ID, ev.UserID)
	switch {
	case err == nil:
		hasSubscription = true
		if err := e.access.Grant(ctx, ev.GuildID, ev.UserID, sub.AccessMarkerID); err != nil {
			log.Error("rejoin grant failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	case store.IsNotFound(err):
		// New member without a subscription; nothing to grant.
	default:
		log.Error("subscription lookup failed on join", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if community.WelcomeMessage != "" && e.shouldWelcome(ctx, community.ID, ev.UserID) {
		text := renderWelcome(community.WelcomeMessage, ev.Username, community.Name)
		if err := e.platform.SendDirectNotice(ctx, ev.UserID, text); err != nil {
			log.Warn("welcome message failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	e.sink.Record(models.AnalyticsEvent{
		CommunityID: community.ID,
		Name:        "member_joined",
		Properties: map[string]interface{}{
			"userId":          ev.UserID,
			"username":        ev.Username,
			"hasSubscription": hasSubscription,
		},
	})
}

func (e *Engine) handleMemberLeft(ctx context.Context, ev platform.MemberLeftEvent) {
	community, ok := e.registry.Lookup(ev.GuildID)
	if !ok {
		return
	}
	e.sink.Record(models.AnalyticsEvent{
		CommunityID: community.ID,
		Name:        "member_left",
		Properties: map[string]interface{}{
			"userId":   ev.UserID,
			"username": ev.Username,
		},
	})
}

// handleDirectMessage answers inbound DMs with a static support pointer.
// Bot-authored messages are ignored so the reply never loops.
func (e *Engine) handleDirectMessage(ctx context.Context, ev platform.DirectMessageEvent) {
	if ev.FromBot {
		return
	}
	if err := e.platform.SendDirectNotice(ctx, ev.UserID, supportAutoReply); err != nil {
		e.log.Warn("dm auto-reply failed", map[string]interface{}{
			"userId": ev.UserID,
			"error":  err.Error(),
		})
	}
}

// shouldWelcome claims the per-member welcome slot in redis. Without
// redis, or when redis is down, delivery degrades to at-least-once.
func (e *Engine) shouldWelcome(ctx context.Context, communityID, userID string) bool {
	if e.redis == nil {
		return true
	}
	key := "welcome:" + communityID + ":" + userID
	claimed, err := e.redis.SetNX(ctx, key, "1", e.dedupTTL).Result()
	if err != nil {
		e.log.Warn("welcome dedup check failed, sending anyway", map[string]interface{}{
			"error": err.Error(),
		})
		return true
	}
	return claimed
}

func renderWelcome(template, username, serverName string) string {
	out := strings.ReplaceAll(template, "{username}", username)
	return strings.ReplaceAll(out, "{server}", serverName)
}

// UpdateMemberAccess reconciles one member's markers against their
// current subscription. Billing webhooks in the dashboard backend call
// this through the admin surface when a subscription changes out of band.
func (e *Engine) UpdateMemberAccess(ctx context.Context, guildID, userID string) error {
	community, ok := e.registry.Lookup(guildID)
	if !ok {
		return nil
	}

	sub, err := e.store.FindActiveSubscription(ctx, community.ID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return e.RemoveMemberAccess(ctx, guildID, userID)
		}
		return err
	}

	if err := e.access.Grant(ctx, guildID, userID, sub.AccessMarkerID); err != nil {
		return err
	}

	// Drop markers for tiers the member is no longer subscribed to.
	for _, tier := range community.ActiveTiers() {
		if tier.AccessMarkerID == "" || tier.AccessMarkerID == sub.AccessMarkerID {
			continue
		}
		if err := e.access.Revoke(ctx, guildID, userID, tier.AccessMarkerID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMemberAccess revokes every tier marker the community maps.
func (e *Engine) RemoveMemberAccess(ctx context.Context, guildID, userID string) error {
	community, ok := e.registry.Lookup(guildID)
	if !ok {
		return nil
	}
	for _, tier := range community.ActiveTiers() {
		if tier.AccessMarkerID == "" {
			continue
		}
		if err := e.access.Revoke(ctx, guildID, userID, tier.AccessMarkerID); err != nil {
			return err
		}
	}
	return nil
}
