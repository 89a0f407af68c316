package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
)

func (h *Handler) whitelist(inv Invocation) (*discordgo.MessageEmbed, error) {
	if len(inv.Path) < 2 {
		return nil, fmt.Errorf("choose add, remove or view")
	}
	switch inv.Path[1] {
	case "view":
		return h.whitelistView(inv), nil
	case "add":
		return h.whitelistChange(inv, true)
	case "remove":
		return h.whitelistChange(inv, false)
	}
	return nil, fmt.Errorf("unknown whitelist action %q", inv.Path[1])
}

func whitelistTarget(inv Invocation) (config.WhitelistKind, string, error) {
	if id := inv.Options["user"]; id != "" {
		return config.WhitelistUser, id, nil
	}
	if id := inv.Options["role"]; id != "" {
		return config.WhitelistRole, id, nil
	}
	return "", "", fmt.Errorf("no user or role specified")
}

func mention(kind config.WhitelistKind, id string) string {
	if kind == config.WhitelistRole {
		return fmt.Sprintf("<@&%s>", id)
	}
	return fmt.Sprintf("<@%s>", id)
}

func (h *Handler) whitelistChange(inv Invocation, add bool) (*discordgo.MessageEmbed, error) {
	kind, id, err := whitelistTarget(inv)
	if err != nil {
		return nil, err
	}

	var changed bool
	h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
		if add {
			changed = cfg.AddWhitelist(kind, id)
		} else {
			changed = cfg.RemoveWhitelist(kind, id)
		}
	})

	switch {
	case add && changed:
		return newEmbed("Whitelist updated", fmt.Sprintf("%s is now whitelisted for all events.", mention(kind, id)), colorOK), nil
	case add:
		return newEmbed("Already whitelisted", fmt.Sprintf("%s is already on the whitelist.", mention(kind, id)), colorNeutral), nil
	case changed:
		return newEmbed("Whitelist updated", fmt.Sprintf("%s was removed from the whitelist.", mention(kind, id)), colorOK), nil
	default:
		return newEmbed("Not whitelisted", fmt.Sprintf("%s is not on the whitelist.", mention(kind, id)), colorNeutral), nil
	}
}

func (h *Handler) whitelistView(inv Invocation) *discordgo.MessageEmbed {
	cfg := h.store.Get(inv.TenantID)

	users := make([]string, 0, len(cfg.WhitelistUsers))
	for _, id := range cfg.WhitelistUsers {
		users = append(users, "• "+mention(config.WhitelistUser, id))
	}
	roles := make([]string, 0, len(cfg.WhitelistRoles))
	for _, id := range cfg.WhitelistRoles {
		roles = append(roles, "• "+mention(config.WhitelistRole, id))
	}

	owner := "Unknown"
	if cfg.OwnerID != "" {
		owner = mention(config.WhitelistUser, cfg.OwnerID)
	}

	embed := newEmbed("Whitelist", "Whitelisted users and roles bypass detection.", colorNeutral)
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Owner", owner, false),
		field("Users", strings.Join(users, "\n"), true),
		field("Roles", strings.Join(roles, "\n"), true),
	}
	return embed
}
