// Package bot is the live platform client: a discordgo gateway session plus
// REST calls for audit polling, state capture and restoration.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

const memberPageSize = 1000

type Session struct {
	discord *discordgo.Session
	actions platform.ActionExecutor

	mu      sync.RWMutex
	onReady []func(selfID string)
}

var _ platform.Client = (*Session)(nil)

// New creates the gateway session. Remediation actions are delegated to
// actions, which owns the bulk REST path.
func New(token string, actions platform.ActionExecutor) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans

	return &Session{discord: dg, actions: actions}, nil
}

// Discord exposes the underlying session for command registration and
// message sending.
func (s *Session) Discord() *discordgo.Session {
	return s.discord
}

// OnReady registers fn to receive the bot's own user id once the gateway
// handshake completes.
func (s *Session) OnReady(fn func(selfID string)) {
	s.mu.Lock()
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

func (s *Session) Connect() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	if s.discord.State.User != nil {
		logging.Info("[BOT] Connected as %s (%s)", s.discord.State.User.Username, s.discord.State.User.ID)
	}
	return nil
}

func (s *Session) Close() error {
	return s.discord.Close()
}

// RegisterCommands installs the global slash commands.
func (s *Session) RegisterCommands(commands []*discordgo.ApplicationCommand) error {
	if s.discord.State.User == nil {
		return errors.New("register commands: session not connected")
	}
	for _, cmd := range commands {
		if _, err := s.discord.ApplicationCommandCreate(s.discord.State.User.ID, "", cmd); err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		logging.Info("[BOT] Registered command: /%s", cmd.Name)
	}
	return nil
}

func (s *Session) AddHandler(handler interface{}) func() {
	return s.discord.AddHandler(handler)
}

// Tenants lists the guilds the gateway currently reports.
func (s *Session) Tenants() []string {
	st := s.discord.State
	st.RLock()
	defer st.RUnlock()

	ids := make([]string, 0, len(st.Guilds))
	for _, g := range st.Guilds {
		if !g.Unavailable {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// PollPrivilegedActions returns the newest audit-log entries, newest first.
func (s *Session) PollPrivilegedActions(ctx context.Context, tenantID string, limit int) ([]platform.AuditRecord, error) {
	log, err := s.discord.GuildAuditLog(tenantID, "", "", 0, limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("audit log", err)
	}

	records := make([]platform.AuditRecord, 0, len(log.AuditLogEntries))
	for _, entry := range log.AuditLogEntries {
		if rec, ok := auditRecord(entry); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *Session) MemberRoles(ctx context.Context, tenantID, userID string) ([]string, error) {
	m, err := s.discord.GuildMember(tenantID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("member", err)
	}
	return m.Roles, nil
}

func (s *Session) ExecuteAction(ctx context.Context, tenantID string, action models.ActionType, targetID, reason string) error {
	return s.actions.ExecuteAction(ctx, tenantID, action, targetID, reason)
}

func (s *Session) FetchRoles(ctx context.Context, tenantID string) ([]platform.Role, error) {
	roles, err := s.discord.GuildRoles(tenantID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("roles", err)
	}
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, platform.Role{
			ID:          r.ID,
			Name:        r.Name,
			Color:       r.Color,
			Permissions: r.Permissions,
			Hoist:       r.Hoist,
			Mentionable: r.Mentionable,
			Managed:     r.Managed,
			Position:    r.Position,
		})
	}
	return out, nil
}

func (s *Session) FetchChannels(ctx context.Context, tenantID string) ([]platform.Channel, error) {
	channels, err := s.discord.GuildChannels(tenantID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("channels", err)
	}
	out := make([]platform.Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, platform.Channel{
			ID:       c.ID,
			Name:     c.Name,
			Kind:     channelKind(c.Type),
			ParentID: c.ParentID,
			Position: c.Position,
		})
	}
	return out, nil
}

// FetchMemberRoles pages through the whole member list.
func (s *Session) FetchMemberRoles(ctx context.Context, tenantID string) (map[string][]string, error) {
	out := make(map[string][]string)
	after := ""
	for {
		page, err := s.discord.GuildMembers(tenantID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify("members", err)
		}
		for _, m := range page {
			if m.User == nil {
				continue
			}
			out[m.User.ID] = m.Roles
			after = m.User.ID
		}
		if len(page) < memberPageSize {
			return out, nil
		}
	}
}

func (s *Session) FetchWebhooks(ctx context.Context, tenantID string) ([]platform.Webhook, error) {
	hooks, err := s.discord.GuildWebhooks(tenantID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("webhooks", err)
	}
	out := make([]platform.Webhook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, platform.Webhook{ID: h.ID, Name: h.Name, ChannelID: h.ChannelID})
	}
	return out, nil
}

func (s *Session) CreateRole(ctx context.Context, tenantID string, role platform.Role) (string, error) {
	params := &discordgo.RoleParams{
		Name:        role.Name,
		Color:       &role.Color,
		Hoist:       &role.Hoist,
		Permissions: &role.Permissions,
		Mentionable: &role.Mentionable,
	}
	created, err := s.discord.GuildRoleCreate(tenantID, params,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason("Antinuke: restoring deleted role"))
	if err != nil {
		return "", classify("create role", err)
	}
	return created.ID, nil
}

func (s *Session) CreateChannel(ctx context.Context, tenantID string, ch platform.Channel) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     ch.Name,
		Type:     channelType(ch.Kind),
		Position: ch.Position,
		ParentID: ch.ParentID,
	}
	created, err := s.discord.GuildChannelCreateComplex(tenantID, data,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason("Antinuke: restoring deleted channel"))
	if err != nil {
		return "", classify("create channel", err)
	}
	return created.ID, nil
}

func (s *Session) SetMemberRoles(ctx context.Context, tenantID, userID string, roleIDs []string) error {
	roles := roleIDs
	if roles == nil {
		roles = []string{}
	}
	_, err := s.discord.GuildMemberEdit(tenantID, userID, &discordgo.GuildMemberParams{Roles: &roles},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason("Antinuke: restoring member roles"))
	if err != nil {
		return classify("member roles", err)
	}
	return nil
}

// classify marks rate limits, server errors and transport failures as
// transient; other API rejections are returned as they are.
func classify(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code != http.StatusTooManyRequests && code < 500 {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrTransientNetwork, err)
}

func channelKind(t discordgo.ChannelType) platform.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return platform.ChannelText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return platform.ChannelVoice
	case discordgo.ChannelTypeGuildCategory:
		return platform.ChannelCategory
	default:
		return platform.ChannelOther
	}
}

func channelType(k platform.ChannelKind) discordgo.ChannelType {
	switch k {
	case platform.ChannelVoice:
		return discordgo.ChannelTypeGuildVoice
	case platform.ChannelCategory:
		return discordgo.ChannelTypeGuildCategory
	default:
		return discordgo.ChannelTypeGuildText
	}
}
