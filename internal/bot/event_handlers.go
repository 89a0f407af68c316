package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

// Subscribe routes gateway events to h. Audit entries carry the actor, so
// no correlation with the direct channel/role events is needed.
func (s *Session) Subscribe(h platform.EventHandler) {
	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		logging.Info("[BOT] Ready: %d guilds", len(r.Guilds))

		s.mu.RLock()
		hooks := append([]func(string){}, s.onReady...)
		s.mu.RUnlock()
		for _, fn := range hooks {
			fn(r.User.ID)
		}
	})

	s.discord.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Guild == nil || g.Unavailable {
			return
		}
		logging.Info("[BOT] Guild available: %s (%s)", g.Name, g.ID)
		h.HandleTenantReady(g.ID, g.OwnerID)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, a *discordgo.GuildAuditLogEntryCreate) {
		if a.GuildID == "" || a.AuditLogEntry == nil {
			return
		}
		rec, ok := auditRecord(a.AuditLogEntry)
		if !ok {
			return
		}
		h.HandleAudit(a.GuildID, rec)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		if m.Member == nil || m.User == nil || m.GuildID == "" {
			return
		}
		h.HandleMemberUpdate(m.GuildID, m.User.ID)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.Member == nil || m.User == nil || m.GuildID == "" {
			return
		}
		at := m.JoinedAt
		if at.IsZero() {
			at = time.Now()
		}
		h.HandleJoin(models.JoinEvent{
			TenantID:  m.GuildID,
			UserID:    m.User.ID,
			IsBot:     m.User.Bot,
			Timestamp: at,
		})
	})
}

// auditRecord converts a gateway or REST audit entry. The entry time comes
// from its snowflake id.
func auditRecord(e *discordgo.AuditLogEntry) (platform.AuditRecord, bool) {
	if e == nil || e.ID == "" || e.ActionType == nil {
		return platform.AuditRecord{}, false
	}
	at, err := discordgo.SnowflakeTimestamp(e.ID)
	if err != nil {
		logging.Debug("[AUDIT] Bad entry id %q: %v", e.ID, err)
		return platform.AuditRecord{}, false
	}
	return platform.AuditRecord{
		ID:         e.ID,
		ActionType: int(*e.ActionType),
		ActorID:    e.UserID,
		TargetID:   e.TargetID,
		Time:       at,
	}, true
}
