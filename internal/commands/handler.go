// Package commands implements the /antinuke operator surface.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/recovery"
)

const (
	colorNeutral = 0x2B2D31
	colorOK      = 0x57F287
	colorWarn    = 0xFEE75C
	colorError   = 0xED4245

	footerText = "Anti-Nuke Security Systems"
)

type ConfigStore interface {
	Get(tenantID string) *config.TenantConfig
	Update(tenantID string, fn func(cfg *config.TenantConfig)) *config.TenantConfig
}

type Recovery interface {
	State(tenantID string) recovery.SnapshotState
	Snapshot(tenantID string) (*recovery.Snapshot, bool)
	CaptureSnapshot(ctx context.Context, tenantID string) (*recovery.Snapshot, error)
	FullRecovery(ctx context.Context, tenantID string) *models.RecoveryResult
	RecoverMissingRoles(ctx context.Context, tenantID string) *models.RecoveryResult
	RecoverMissingChannels(ctx context.Context, tenantID string) *models.RecoveryResult
}

type LogReader interface {
	GetRecentLogs(guildID string, limit int) ([]*database.EventLog, error)
}

// Invocation is a parsed slash command, independent of the gateway types.
type Invocation struct {
	TenantID string
	UserID   string
	IsAdmin  bool
	// Path is the subcommand chain below /antinuke, e.g. ["whitelist", "add"].
	Path    []string
	Options map[string]string
}

func (inv Invocation) name() string {
	return strings.Join(inv.Path, " ")
}

type Handler struct {
	store    ConfigStore
	recovery Recovery
	logs     LogReader
	timeout  time.Duration
}

func NewHandler(store ConfigStore, rec Recovery, logs LogReader) *Handler {
	return &Handler{store: store, recovery: rec, logs: logs, timeout: 2 * time.Minute}
}

// errDenied is returned when the invoker lacks the required access level.
var errDenied = errors.New("permission denied")

// Execute runs one invocation and returns the reply embed.
func (h *Handler) Execute(ctx context.Context, inv Invocation) (*discordgo.MessageEmbed, error) {
	if inv.TenantID == "" {
		return nil, errors.New("commands can only be used in a server")
	}
	if len(inv.Path) == 0 {
		return nil, errors.New("missing subcommand")
	}

	cfg := h.store.Get(inv.TenantID)
	if !allowed(cfg, inv, requiredAccess(inv.Path)) {
		return nil, errDenied
	}

	switch inv.Path[0] {
	case "status":
		return h.status(cfg), nil
	case "enable":
		return h.setEnabled(inv, true)
	case "disable":
		return h.setEnabled(inv, false)
	case "antibot":
		return h.setAntiBot(inv)
	case "limit":
		return h.setLimit(inv)
	case "punishment":
		return h.setPunishment(inv)
	case "snapshot":
		return h.snapshot(ctx, inv)
	case "recover":
		return h.recover(ctx, inv)
	case "whitelist":
		return h.whitelist(inv)
	case "logs":
		return h.logsCommand(inv)
	}
	return nil, fmt.Errorf("unknown command: %s", inv.name())
}

// HandleInteraction is registered on the gateway session.
func (h *Handler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != "antinuke" {
		return
	}

	inv := invocationFrom(i)
	slow := len(inv.Path) > 0 && (inv.Path[0] == "snapshot" || inv.Path[0] == "recover")

	if slow {
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			logging.Warn("[CMD] Defer %s failed: %v", inv.name(), err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	embed, err := h.Execute(ctx, inv)
	if err != nil {
		if !errors.Is(err, errDenied) {
			logging.Error("[CMD] /antinuke %s in %s: %v", inv.name(), inv.TenantID, err)
		}
		embed = errorEmbed(err)
	} else {
		logging.Info("[CMD] /antinuke %s in %s by %s", inv.name(), inv.TenantID, inv.UserID)
	}

	if slow {
		embeds := []*discordgo.MessageEmbed{embed}
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
			logging.Warn("[CMD] Edit reply for %s failed: %v", inv.name(), err)
		}
		return
	}

	resp := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if err != nil {
		resp.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: resp,
	}); err != nil {
		logging.Warn("[CMD] Reply for %s failed: %v", inv.name(), err)
	}
}

func invocationFrom(i *discordgo.InteractionCreate) Invocation {
	inv := Invocation{TenantID: i.GuildID, Options: make(map[string]string)}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
		inv.IsAdmin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	}

	opts := i.ApplicationCommandData().Options
	for len(opts) > 0 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
		opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		inv.Path = append(inv.Path, opts[0].Name)
		opts = opts[0].Options
	}
	for _, o := range opts {
		inv.Options[o.Name] = optionString(o)
	}
	return inv
}

func optionString(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(o.IntValue(), 10)
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(o.BoolValue())
	default:
		return fmt.Sprint(o.Value)
	}
}

func newEmbed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	if errors.Is(err, errDenied) {
		return newEmbed("Access Denied", "Only the server owner or a whitelisted user can change protection. Administrators may view status.", colorNeutral)
	}
	return newEmbed("❌ Error", err.Error(), colorError)
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "None"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}
