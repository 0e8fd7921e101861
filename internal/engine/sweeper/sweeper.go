// Package sweeper periodically drives expired subscriptions through the
// active -> canceled transition, revoking the mapped access marker before
// persisting the status so a crash mid-item is retried on the next cycle
// instead of leaving a revoked-but-recorded-active record behind.
package sweeper

import (
	"context"
	"time"

	apperrors "communityos-bot/internal/common/errors"
	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/engine/access"
	"communityos-bot/internal/engine/analytics"
	"communityos-bot/internal/models"
	"communityos-bot/internal/notify"
	"communityos-bot/internal/platform"
	"communityos-bot/internal/store"
)

type Sweeper struct {
	store    store.Store
	platform platform.Client
	access   *access.Synchronizer
	sink     *analytics.Sink
	notifier notify.Notifier
	log      logger.Logger
	now      func() time.Time
}

func New(st store.Store, client platform.Client, sync *access.Synchronizer, sink *analytics.Sink, notifier notify.Notifier, log logger.Logger) *Sweeper {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Sweeper{
		store:    st,
		platform: client,
		access:   sync,
		sink:     sink,
		notifier: notifier,
		log:      log.WithFields(map[string]interface{}{"component": "sweeper"}),
		now:      time.Now,
	}
}

// RunOnce executes one full sweep. A failure on one candidate skips that
// candidate only; only the batch query itself can fail the whole run.
func (s *Sweeper) RunOnce(ctx context.Context) {
	metrics.SweepRuns.Inc()
	started := s.now()

	candidates, err := s.store.FindExpiredActiveSubscriptions(ctx, started)
	if err != nil {
		s.log.Error("expired subscription query failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(candidates) == 0 {
		return
	}

	swept, skipped := 0, 0
	for i := range candidates {
		if ctx.Err() != nil {
			s.log.Warn("sweep interrupted by shutdown", map[string]interface{}{
				"remaining": len(candidates) - i,
			})
			return
		}
		if s.sweepOne(ctx, &candidates[i]) {
			swept++
		} else {
			skipped++
		}
	}

	s.log.Info("sweep finished", map[string]interface{}{
		"candidates": len(candidates),
		"swept":      swept,
		"skipped":    skipped,
		"elapsed":    s.now().Sub(started).String(),
	})
}

// sweepOne handles a single candidate: resolve, revoke, persist, record.
func (s *Sweeper) sweepOne(ctx context.Context, sub *models.ExpiredSubscription) bool {
	log := s.log.WithFields(map[string]interface{}{
		"subscriptionId": sub.ID,
		"communityId":    sub.CommunityID,
		"guildId":        sub.GuildID,
	})

	if sub.GuildID == "" || sub.PlatformUserID == "" {
		metrics.SweepItemsSkipped.WithLabelValues("unresolved").Inc()
		log.Warn("candidate missing guild or user mapping, skipping", nil)
		return false
	}

	if _, err := s.platform.ResolveGuild(ctx, sub.GuildID); err != nil {
		if apperrors.IsNotFound(err) {
			metrics.SweepItemsSkipped.WithLabelValues("guild_gone").Inc()
			log.Warn("guild gone, skipping candidate", nil)
		} else {
			metrics.SweepItemsSkipped.WithLabelValues("transient").Inc()
			log.Warn("guild resolution failed, retrying next sweep", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return false
	}

	// Revoke before persisting: a crash here leaves the record active and
	// the next sweep retries the (idempotent) revoke.
	if err := s.access.Revoke(ctx, sub.GuildID, sub.PlatformUserID, sub.AccessMarkerID); err != nil {
		metrics.SweepItemsSkipped.WithLabelValues("revoke_failed").Inc()
		log.Warn("revoke failed, retrying next sweep", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	if err := s.store.UpdateSubscriptionStatus(ctx, sub.ID, models.SubscriptionCanceled); err != nil {
		metrics.SweepItemsSkipped.WithLabelValues("persist_failed").Inc()
		log.Error("status update failed, continuing sweep", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	metrics.SubscriptionsExpired.Inc()
	log.Info("subscription expired", map[string]interface{}{
		"tier":      sub.TierName,
		"periodEnd": sub.CurrentPeriodEnd.Format(time.RFC3339),
	})

	s.sink.Record(models.AnalyticsEvent{
		CommunityID: sub.CommunityID,
		Name:        "subscription_expired",
		Properties: map[string]interface{}{
			"subscriptionId": sub.ID,
			"userId":         sub.PlatformUserID,
			"tier":           sub.TierName,
		},
	})

	if err := s.notifier.SubscriptionExpired(ctx, notify.Expiry{
		CommunityName: sub.CommunityName,
		TierName:      sub.TierName,
		Username:      sub.Username,
		Email:         sub.MemberEmail,
		Phone:         sub.MemberPhone,
	}); err != nil {
		log.Warn("expiry notification failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return true
}
