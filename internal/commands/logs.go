package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
)

const recentLogLimit = 10

// logsCommand sets the alert channel when one is given, otherwise lists the
// most recent incidents.
func (h *Handler) logsCommand(inv Invocation) (*discordgo.MessageEmbed, error) {
	if channelID := inv.Options["channel"]; channelID != "" {
		cfg := h.store.Get(inv.TenantID)
		if !allowed(cfg, inv, accessTrusted) {
			return nil, errDenied
		}
		h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
			cfg.LogChannelID = channelID
		})
		return newEmbed("Logging configured", fmt.Sprintf("Alerts will be sent to <#%s>.", channelID), colorOK), nil
	}

	logs, err := h.logs.GetRecentLogs(inv.TenantID, recentLogLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read incident log: %w", err)
	}

	embed := newEmbed("Recent Incidents", "", colorNeutral)
	if len(logs) == 0 {
		embed.Description = "No incidents recorded."
		return embed, nil
	}

	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, fmt.Sprintf("<t:%d:R> <@%s> %s → **%s**", l.Timestamp, l.ActorID, l.Verb, l.ActionTaken))
	}
	embed.Description = strings.Join(lines, "\n")
	return embed, nil
}
