package notifier

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

const (
	colorAlert    = 0xED4245
	colorRecovery = 0x57F287
	colorWarning  = 0xFEE75C
)

// EmbedSender is the part of *discordgo.Session the notifier uses.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Alert describes one punished attacker.
type Alert struct {
	TenantID  string
	ChannelID string
	ActorID   string
	Action    string
	Reason    string
	At        time.Time
}

// Notifier posts alerts to a tenant's log channel.
type Notifier struct {
	sender EmbedSender
}

func New(sender EmbedSender) *Notifier {
	return &Notifier{sender: sender}
}

// SendAlert posts the "Antinuke Alert" embed. Without a sender or channel it
// does nothing.
func (n *Notifier) SendAlert(a Alert) error {
	if n == nil || n.sender == nil || a.ChannelID == "" {
		return nil
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title: "🛡️ Antinuke Alert",
		Color: colorAlert,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "👤 User",
				Value:  fmt.Sprintf("<@%s> (`%s`)", a.ActorID, a.ActorID),
				Inline: true,
			},
			{
				Name:   "🔨 Action",
				Value:  a.Action,
				Inline: true,
			},
			{
				Name:   "📋 Reason",
				Value:  a.Reason,
				Inline: false,
			},
			{
				Name:   "🕐 Time",
				Value:  fmt.Sprintf("<t:%d:F>", a.At.Unix()),
				Inline: false,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Anti-Nuke Protection",
		},
		Timestamp: a.At.Format(time.RFC3339),
	}

	if _, err := n.sender.ChannelMessageSendEmbed(a.ChannelID, embed); err != nil {
		logging.Warn("[NOTIFY] Alert to %s in %s failed: %v", a.ChannelID, a.TenantID, err)
		return err
	}
	return nil
}

// SendRecovery posts a recovery summary to the log channel.
func (n *Notifier) SendRecovery(channelID, op string, res *models.RecoveryResult) error {
	if n == nil || n.sender == nil || channelID == "" || res == nil {
		return nil
	}

	color := colorRecovery
	status := "✅ Completed"
	switch {
	case !res.Success:
		color = colorAlert
		status = "❌ Failed"
	case res.Degraded || len(res.Failed()) > 0:
		color = colorWarning
		status = "⚠️ Partially completed"
	}

	embed := &discordgo.MessageEmbed{
		Title:       "♻️ Recovery: " + op,
		Color:       color,
		Description: res.Message,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: status, Inline: true},
			{Name: "Restored", Value: fmt.Sprintf("%d", res.ItemsRecovered), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", len(res.Failed())), Inline: true},
			{Name: "Duration", Value: res.Duration.Round(time.Millisecond).String(), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Run " + res.RunID,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if _, err := n.sender.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logging.Warn("[NOTIFY] Recovery report to %s failed: %v", channelID, err)
		return err
	}
	return nil
}
