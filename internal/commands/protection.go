package commands

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

func parseEvent(inv Invocation, required bool) (models.Verb, bool, error) {
	name, ok := inv.Options["event"]
	if !ok || name == "" {
		if required {
			return models.VerbUnknown, false, fmt.Errorf("event is required")
		}
		return models.VerbUnknown, false, nil
	}
	v, ok := models.ParseVerb(name)
	if !ok {
		return models.VerbUnknown, false, fmt.Errorf("unknown event %q", name)
	}
	return v, true, nil
}

// setEnabled toggles the whole tenant, or one module when an event is given.
func (h *Handler) setEnabled(inv Invocation, on bool) (*discordgo.MessageEmbed, error) {
	v, one, err := parseEvent(inv, false)
	if err != nil {
		return nil, err
	}

	state := "disabled"
	color := colorWarn
	if on {
		state = "enabled"
		color = colorOK
	}

	if !one {
		h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
			cfg.Enabled = on
		})
		return newEmbed("Protection "+state, fmt.Sprintf("Anti-nuke protection is now **%s**.", state), color), nil
	}

	h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
		cfg.SetProtection(v, on)
	})
	return newEmbed("Module "+state, fmt.Sprintf("**%s** protection is now **%s**.", v.DisplayName(), state), color), nil
}

func (h *Handler) setAntiBot(inv Invocation) (*discordgo.MessageEmbed, error) {
	on, err := strconv.ParseBool(inv.Options["enabled"])
	if err != nil {
		return nil, fmt.Errorf("enabled must be true or false")
	}
	h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
		cfg.AntiBot = on
	})
	if on {
		return newEmbed("Anti-Bot enabled", "Bots joining during a raid will be kicked.", colorOK), nil
	}
	return newEmbed("Anti-Bot disabled", "Bots joining during a raid are no longer kicked.", colorWarn), nil
}

// setLimit overrides the tenant threshold for one verb. Zero removes the
// override.
func (h *Handler) setLimit(inv Invocation) (*discordgo.MessageEmbed, error) {
	v, _, err := parseEvent(inv, true)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(inv.Options["count"])
	if err != nil || n < 0 || n > 100 {
		return nil, fmt.Errorf("count must be between 0 and 100")
	}

	h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
		if n == 0 {
			delete(cfg.Thresholds, v)
			return
		}
		if cfg.Thresholds == nil {
			cfg.Thresholds = make(map[models.Verb]int)
		}
		cfg.Thresholds[v] = n
	})

	if n == 0 {
		return newEmbed("Limit reset", fmt.Sprintf("**%s** uses the default limit of %d.", v.DisplayName(), v.DefaultThreshold()), colorOK), nil
	}
	return newEmbed("Limit updated", fmt.Sprintf("**%s** triggers after **%d** actions.", v.DisplayName(), n), colorOK), nil
}

func (h *Handler) setPunishment(inv Invocation) (*discordgo.MessageEmbed, error) {
	kind, err := models.ParsePunishment(inv.Options["kind"])
	if err != nil {
		return nil, fmt.Errorf("punishment must be ban, kick or strip_roles")
	}
	h.store.Update(inv.TenantID, func(cfg *config.TenantConfig) {
		cfg.Punishment = kind
	})
	return newEmbed("Punishment updated", fmt.Sprintf("Attackers will be punished with **%s**.", kind), colorOK), nil
}
