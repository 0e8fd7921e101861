// internal/engine/dispatcher/commands.go
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/models"
	"communityos-bot/internal/platform"
	"communityos-bot/internal/store"
)

const (
	replyGuildNotConfigured = "This server is not configured with CommunityOS."
	replyCommandError       = "An error occurred while processing your request."
	replyNoTiers            = "No subscription tiers are available at this time."
	replyNoSubscription     = "You do not have an active subscription."
	replyUnknownCommand     = "Unknown command."
)

// maxTierButtons caps the button row; further tiers go through the
// dashboard link in the embed footer.
const maxTierButtons = 3

// handleCommand answers one slash command. A panic inside a handler is
// converted into the generic error reply so one bad interaction never
// takes down the event loop.
func (e *Engine) handleCommand(ctx context.Context, ev platform.CommandEvent) {
	outcome := "success"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			e.log.Error("command handler panicked", map[string]interface{}{
				"command": ev.Command,
				"panic":   fmt.Sprint(r),
			})
			e.reply(ctx, ev.InteractionID, platform.CommandReply{
				Content:   replyCommandError,
				Ephemeral: true,
			})
		}
		metrics.CommandsHandled.WithLabelValues(ev.Command, outcome).Inc()
	}()

	community, ok := e.registry.Lookup(ev.GuildID)
	if !ok {
		outcome = "unknown_guild"
		e.reply(ctx, ev.InteractionID, platform.CommandReply{
			Content:   replyGuildNotConfigured,
			Ephemeral: true,
		})
		return
	}

	log := e.log.WithFields(map[string]interface{}{
		"command":     ev.Command,
		"communityId": community.ID,
		"userId":      ev.UserID,
	})
	log.Info("command received", nil)

	var reply platform.CommandReply
	switch ev.Command {
	case "subscribe":
		reply = e.subscribeReply(community.ActiveTiers(), community.ID)
	case "status":
		reply = e.statusReply(ctx, community.ID, ev.UserID)
	case "cancel":
		reply = e.cancelReply(community.ID)
	case "help":
		reply = e.helpReply()
	default:
		outcome = "unknown_command"
		reply = platform.CommandReply{Content: replyUnknownCommand, Ephemeral: true}
	}

	e.reply(ctx, ev.InteractionID, reply)

	e.sink.Record(analyticsCommandEvent(community.ID, ev))
}

func (e *Engine) reply(ctx context.Context, interactionID string, reply platform.CommandReply) {
	reply.Ephemeral = true
	if err := e.platform.ReplyToCommand(ctx, interactionID, reply); err != nil {
		e.log.Error("command reply failed", map[string]interface{}{
			"interactionId": interactionID,
			"error":         err.Error(),
		})
	}
}

// subscribeReply lists the community's active tiers with purchase
// buttons for the first few and a dashboard pointer for the rest.
func (e *Engine) subscribeReply(tiers []models.SubscriptionTier, communityID string) platform.CommandReply {
	if len(tiers) == 0 {
		return platform.CommandReply{Content: replyNoTiers, Ephemeral: true}
	}

	embed := &platform.Embed{
		Title:       "Subscription Tiers",
		Description: "Choose a tier to subscribe:",
		Color:       0x5865F2,
	}
	var buttons []platform.Button
	for i, tier := range tiers {
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name:  tier.Name,
			Value: fmt.Sprintf("%s\n%s / %s", tier.Description, formatPrice(tier.PriceCents), tier.Interval),
		})
		if i < maxTierButtons {
			buttons = append(buttons, platform.Button{
				Label:    "Subscribe to " + tier.Name,
				CustomID: "subscribe_" + tier.ID,
			})
		}
	}
	if len(tiers) > maxTierButtons {
		embed.Footer = "More tiers available at " + e.communityDashboard(communityID)
	}

	return platform.CommandReply{Embed: embed, Buttons: buttons, Ephemeral: true}
}

func (e *Engine) statusReply(ctx context.Context, communityID, userID string) platform.CommandReply {
	sub, err := e.store.FindActiveSubscription(ctx, communityID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return platform.CommandReply{Content: replyNoSubscription, Ephemeral: true}
		}
		e.log.Error("status lookup failed", map[string]interface{}{
			"communityId": communityID,
			"userId":      userID,
			"error":       err.Error(),
		})
		return platform.CommandReply{Content: replyCommandError, Ephemeral: true}
	}

	return platform.CommandReply{
		Embed: &platform.Embed{
			Title: "Your Subscription",
			Color: 0x57F287,
			Fields: []platform.EmbedField{
				{Name: "Tier", Value: sub.TierName, Inline: true},
				{Name: "Status", Value: sub.Status, Inline: true},
				{Name: "Next Billing Date", Value: sub.CurrentPeriodEnd.Format("January 2, 2006"), Inline: true},
			},
		},
		Ephemeral: true,
	}
}

// cancelReply hands the member off to the dashboard, where the billing
// backend owns the actual cancellation.
func (e *Engine) cancelReply(communityID string) platform.CommandReply {
	return platform.CommandReply{
		Content: "To cancel your subscription, visit your member portal: " +
			e.communityDashboard(communityID),
		Ephemeral: true,
	}
}

func (e *Engine) helpReply() platform.CommandReply {
	return platform.CommandReply{
		Embed: &platform.Embed{
			Title: "CommunityOS Help",
			Description: "Available commands:\n" +
				"`/subscribe` - View and purchase subscription tiers\n" +
				"`/status` - Check your subscription status\n" +
				"`/cancel` - Cancel your subscription\n" +
				"`/help` - Show this message",
			Color: 0x5865F2,
		},
		Ephemeral: true,
	}
}

func (e *Engine) communityDashboard(communityID string) string {
	return e.dashboardURL + "/communities/" + communityID
}

func formatPrice(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

func analyticsCommandEvent(communityID string, ev platform.CommandEvent) models.AnalyticsEvent {
	return models.AnalyticsEvent{
		CommunityID: communityID,
		Name:        "command_invoked",
		Timestamp:   time.Now().UTC(),
		Properties: map[string]interface{}{
			"command": ev.Command,
			"userId":  ev.UserID,
		},
	}
}
