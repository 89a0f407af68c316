package commands

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

func verbChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(models.AllVerbs))
	for _, v := range models.AllVerbs {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  v.DisplayName(),
			Value: v.String(),
		})
	}
	return choices
}

func eventOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        "event",
		Description: "Protection module (all modules when omitted)",
		Type:        discordgo.ApplicationCommandOptionString,
		Required:    required,
		Choices:     verbChoices(),
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        name,
		Description: description,
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Options:     options,
	}
}

func targetOptions(verb string) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Name:        "user",
			Description: "User to " + verb,
			Type:        discordgo.ApplicationCommandOptionUser,
		},
		{
			Name:        "role",
			Description: "Role to " + verb,
			Type:        discordgo.ApplicationCommandOptionRole,
		},
	}
}

// GetAllCommands returns the application commands to register.
func GetAllCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "antinuke",
			Description: "Manage anti-nuke protection",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("status", "Show protection status"),
				subcommand("enable", "Enable protection", eventOption(false)),
				subcommand("disable", "Disable protection", eventOption(false)),
				subcommand("antibot", "Kick bots that join during a raid",
					&discordgo.ApplicationCommandOption{
						Name:        "enabled",
						Description: "Turn anti-bot on or off",
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Required:    true,
					}),
				subcommand("limit", "Set how many actions trigger punishment",
					eventOption(true),
					&discordgo.ApplicationCommandOption{
						Name:        "count",
						Description: "Actions within the detection window (0 restores the default)",
						Type:        discordgo.ApplicationCommandOptionInteger,
						Required:    true,
					}),
				subcommand("punishment", "Set the punishment for attackers",
					&discordgo.ApplicationCommandOption{
						Name:        "kind",
						Description: "Punishment type",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Ban", Value: string(models.PunishBan)},
							{Name: "Kick", Value: string(models.PunishKick)},
							{Name: "Strip roles", Value: string(models.PunishStripRoles)},
						},
					}),
				subcommand("snapshot", "Capture a snapshot of roles, channels and members now"),
				{
					Name:        "recover",
					Description: "Restore from the last snapshot",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						subcommand("full", "Restore roles, channels and member roles"),
						subcommand("roles", "Restore deleted roles"),
						subcommand("channels", "Restore deleted channels"),
					},
				},
				{
					Name:        "whitelist",
					Description: "Manage whitelist",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						subcommand("add", "Add user/role to whitelist", targetOptions("whitelist")...),
						subcommand("remove", "Remove user/role from whitelist", targetOptions("remove from whitelist")...),
						subcommand("view", "View all whitelisted users and roles"),
					},
				},
				subcommand("logs", "Set the alert channel, or show recent incidents",
					&discordgo.ApplicationCommandOption{
						Name:        "channel",
						Description: "Channel to send alerts to",
						Type:        discordgo.ApplicationCommandOptionChannel,
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
						},
					}),
			},
		},
	}
}
