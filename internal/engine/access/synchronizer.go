// Package access idempotently reconciles one member's access marker on
// the platform with the desired billing state. Grant and revoke read the
// member's current markers first and mutate only on drift, so retries
// after transient failures never double-apply.
package access

import (
	"context"

	apperrors "communityos-bot/internal/common/errors"
	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/platform"
)

type Synchronizer struct {
	platform platform.Client
	log      logger.Logger
}

func NewSynchronizer(client platform.Client, log logger.Logger) *Synchronizer {
	return &Synchronizer{
		platform: client,
		log:      log.WithFields(map[string]interface{}{"component": "access"}),
	}
}

// Grant ensures the member holds markerID. No-op on an empty marker, on a
// marker already held, and on any not-found condition (the desired end
// state already holds for a member or marker that is gone).
func (s *Synchronizer) Grant(ctx context.Context, guildID, userID, markerID string) error {
	return s.apply(ctx, "grant", guildID, userID, markerID)
}

// Revoke ensures the member does not hold markerID. Same no-op rules as
// Grant.
func (s *Synchronizer) Revoke(ctx context.Context, guildID, userID, markerID string) error {
	return s.apply(ctx, "revoke", guildID, userID, markerID)
}

func (s *Synchronizer) apply(ctx context.Context, op, guildID, userID, markerID string) error {
	if markerID == "" {
		return nil
	}

	log := s.log.WithFields(map[string]interface{}{
		"op":       op,
		"guildId":  guildID,
		"userId":   userID,
		"markerId": markerID,
	})

	member, err := s.platform.FetchMember(ctx, guildID, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Warn("member gone, treating as satisfied", map[string]interface{}{
				"code": string(apperrors.CodeOf(err)),
			})
			metrics.AccessMutations.WithLabelValues(op, "noop").Inc()
			return nil
		}
		return err
	}

	holds := member.HasMarker(markerID)
	if (op == "grant") == holds {
		metrics.AccessMutations.WithLabelValues(op, "noop").Inc()
		return nil
	}

	if op == "grant" {
		err = s.platform.AddAccessMarker(ctx, guildID, userID, markerID)
	} else {
		err = s.platform.RemoveAccessMarker(ctx, guildID, userID, markerID)
	}
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Warn("marker gone, treating as satisfied", map[string]interface{}{
				"code": string(apperrors.CodeOf(err)),
			})
			metrics.AccessMutations.WithLabelValues(op, "noop").Inc()
			return nil
		}
		return err
	}

	metrics.AccessMutations.WithLabelValues(op, "applied").Inc()
	log.Info("access marker reconciled", nil)
	return nil
}
