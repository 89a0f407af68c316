package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

func (h *Handler) snapshot(ctx context.Context, inv Invocation) (*discordgo.MessageEmbed, error) {
	snap, err := h.recovery.CaptureSnapshot(ctx, inv.TenantID)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}

	color := colorOK
	desc := "Snapshot captured."
	if !snap.Complete {
		color = colorWarn
		desc = fmt.Sprintf("Snapshot captured without: %s.", strings.Join(snap.Failures, ", "))
	}

	embed := newEmbed("📸 Snapshot", desc, color)
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Roles", fmt.Sprintf("%d", len(snap.Roles)), true),
		field("Channels", fmt.Sprintf("%d", len(snap.Channels)), true),
		field("Members", fmt.Sprintf("%d", len(snap.MemberRoles)), true),
		field("Webhooks", fmt.Sprintf("%d", len(snap.Webhooks)), true),
	}
	return embed, nil
}

func (h *Handler) recover(ctx context.Context, inv Invocation) (*discordgo.MessageEmbed, error) {
	if len(inv.Path) < 2 {
		return nil, fmt.Errorf("choose full, roles or channels")
	}

	var res *models.RecoveryResult
	switch inv.Path[1] {
	case "full":
		res = h.recovery.FullRecovery(ctx, inv.TenantID)
	case "roles":
		res = h.recovery.RecoverMissingRoles(ctx, inv.TenantID)
	case "channels":
		res = h.recovery.RecoverMissingChannels(ctx, inv.TenantID)
	default:
		return nil, fmt.Errorf("unknown recovery target %q", inv.Path[1])
	}
	return recoveryEmbed(inv.Path[1], res), nil
}

func recoveryEmbed(op string, res *models.RecoveryResult) *discordgo.MessageEmbed {
	switch {
	case errors.Is(res.Err, models.ErrRecoveryUnavailable):
		return newEmbed("♻️ Recovery unavailable", "No snapshot exists yet. Run `/antinuke snapshot` first.", colorWarn)
	case errors.Is(res.Err, models.ErrRecoveryInProgress):
		return newEmbed("♻️ Recovery running", "A full recovery is already in progress for this server.", colorWarn)
	}

	color := colorOK
	if res.Err != nil || res.Degraded {
		color = colorWarn
	}
	if res.ItemsRecovered == 0 && res.Err != nil {
		color = colorError
	}

	embed := newEmbed("♻️ Recovery: "+op, res.Message, color)
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Restored", fmt.Sprintf("%d", res.ItemsRecovered), true),
		field("Duration", res.Duration.Round(time.Millisecond).String(), true),
	}
	if failed := res.Failed(); len(failed) > 0 {
		lines := make([]string, 0, len(failed))
		for i, item := range failed {
			if i == 10 {
				lines = append(lines, fmt.Sprintf("… and %d more", len(failed)-10))
				break
			}
			lines = append(lines, fmt.Sprintf("• %s `%s`", item.Name, item.ID))
		}
		embed.Fields = append(embed.Fields, field("Failed", strings.Join(lines, "\n"), false))
	}
	return embed
}
