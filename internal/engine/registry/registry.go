// Package registry caches per-community configuration. The cache is an
// immutable snapshot replaced atomically on reload, so a lookup never
// observes a half-updated map and never suspends on an external call.
package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/models"
	"communityos-bot/internal/store"
)

// warmCopyKey is where the latest snapshot is mirrored in redis for
// operational inspection. The in-process snapshot stays authoritative.
const warmCopyKey = "registry:communities"

type snapshot map[string]*models.Community

type Registry struct {
	store    store.Store
	redis    *redis.Client
	log      logger.Logger
	snapshot atomic.Pointer[snapshot]
}

// New builds an empty registry. redisClient may be nil; the warm copy is
// then skipped entirely.
func New(st store.Store, redisClient *redis.Client, log logger.Logger) *Registry {
	r := &Registry{
		store: st,
		redis: redisClient,
		log:   log.WithFields(map[string]interface{}{"component": "registry"}),
	}
	empty := snapshot{}
	r.snapshot.Store(&empty)
	return r
}

// Reload fetches all active communities and atomically replaces the
// snapshot. On failure the previous snapshot is retained and the error is
// returned for the caller to log; the next tick retries.
func (r *Registry) Reload(ctx context.Context) error {
	communities, err := r.store.FindActiveCommunities(ctx)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("failure").Inc()
		return err
	}

	next := make(snapshot, len(communities))
	for i := range communities {
		c := communities[i]
		next[c.GuildID] = &c
	}
	r.snapshot.Store(&next)
	metrics.RegistryReloads.WithLabelValues("success").Inc()

	r.log.Info("registry reloaded", map[string]interface{}{
		"communities": len(next),
	})

	r.writeWarmCopy(ctx, communities)
	return nil
}

// writeWarmCopy mirrors the snapshot into redis. Failures are logged only.
func (r *Registry) writeWarmCopy(ctx context.Context, communities []models.Community) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(communities)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, warmCopyKey, data, 2*time.Hour).Err(); err != nil {
		r.log.Warn("registry warm copy write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Lookup returns the cached community for a guild, or false when the
// guild is not an active tenant.
func (r *Registry) Lookup(guildID string) (*models.Community, bool) {
	snap := *r.snapshot.Load()
	c, ok := snap[guildID]
	return c, ok
}

// Len returns the number of cached communities.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}
