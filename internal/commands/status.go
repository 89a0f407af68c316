package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

func (h *Handler) status(cfg *config.TenantConfig) *discordgo.MessageEmbed {
	level := "Disabled"
	color := colorWarn
	if cfg.Enabled {
		level = "**Enabled**"
		color = colorOK
	}

	var active, inactive []string
	for _, v := range models.AllVerbs {
		line := fmt.Sprintf("• %s", v.DisplayName())
		if n, ok := cfg.Thresholds[v]; ok && n > 0 {
			line += fmt.Sprintf(" (limit %d)", n)
		}
		if cfg.ProtectionEnabled(v) {
			active = append(active, line)
		} else {
			inactive = append(inactive, line)
		}
	}

	logChannel := "Not configured"
	if cfg.LogChannelID != "" {
		logChannel = fmt.Sprintf("<#%s>", cfg.LogChannelID)
	}

	snapshot := h.recovery.State(cfg.TenantID).String()
	if snap, ok := h.recovery.Snapshot(cfg.TenantID); ok {
		snapshot = fmt.Sprintf("%s, taken <t:%d:R>", snapshot, snap.CapturedAt.Unix())
		if !snap.Complete {
			snapshot += fmt.Sprintf(" (missing %s)", strings.Join(snap.Failures, ", "))
		}
	}

	antiBot := "Off"
	if cfg.AntiBot {
		antiBot = "On"
	}

	embed := newEmbed("System Status Overview", "Security configuration and recovery state.", color)
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Security Level", level, true),
		field("Punishment", string(cfg.Punishment), true),
		field("Anti-Bot", antiBot, true),
		field("Audit Logging", logChannel, false),
		field("Snapshot", snapshot, false),
		field("Threats Blocked", fmt.Sprintf("%d", cfg.ThreatsBlocked), true),
		field("Recoveries", fmt.Sprintf("%d", cfg.TotalRecoveries), true),
		field("Whitelist", fmt.Sprintf("%d users, %d roles", len(cfg.WhitelistUsers), len(cfg.WhitelistRoles)), true),
		field("Active Protection Modules", strings.Join(active, "\n"), true),
		field("Disabled Modules", strings.Join(inactive, "\n"), true),
	}
	return embed
}
