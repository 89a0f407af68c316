package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/notifier"
	"github.com/Tanmayop9/discord-antinuke/internal/platform/platformtest"
)

type memStore struct {
	mu  sync.Mutex
	cfg map[string]*config.TenantConfig
}

func newMemStore(cfgs ...*config.TenantConfig) *memStore {
	s := &memStore{cfg: make(map[string]*config.TenantConfig)}
	for _, c := range cfgs {
		s.cfg[c.TenantID] = c
	}
	return s
}

func (s *memStore) Get(tenantID string) *config.TenantConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg[tenantID].Clone()
}

func (s *memStore) Update(tenantID string, fn func(*config.TenantConfig)) *config.TenantConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg[tenantID])
	return s.cfg[tenantID].Clone()
}

type memRecords struct {
	mu   sync.Mutex
	bans []string
	logs []*database.EventLog
}

func (r *memRecords) AddBannedUser(guildID, userID, reason, bannedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans = append(r.bans, userID)
	return nil
}

func (r *memRecords) LogEvent(log *database.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

type captureSender struct {
	mu     sync.Mutex
	embeds []*discordgo.MessageEmbed
}

func (c *captureSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeds = append(c.embeds, embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func newExecutor(kind models.PunishmentKind) (*Executor, *platformtest.Fake, *memStore, *memRecords, *captureSender) {
	cfg := config.NewTenantConfig("g1", kind)
	cfg.LogChannelID = "logs"
	store := newMemStore(cfg)
	fake := platformtest.New("g1")
	records := &memRecords{}
	sender := &captureSender{}
	exec := NewExecutor(store, fake, records, NewCooldownManager(10*time.Second), WithNotifier(notifier.New(sender)))
	exec.SetSelfID("bot")
	return exec, fake, store, records, sender
}

func TestPunishBan(t *testing.T) {
	exec, fake, store, records, sender := newExecutor(models.PunishBan)

	require.NoError(t, exec.Punish(context.Background(), "g1", "attacker", "Mass Ban Attack"))

	calls := fake.ActionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ActionBan, calls[0].Action)
	assert.Equal(t, "attacker", calls[0].TargetID)
	assert.Contains(t, calls[0].Reason, "Mass Ban Attack")

	assert.Equal(t, int64(1), store.Get("g1").ThreatsBlocked)
	assert.Equal(t, []string{"attacker"}, records.bans)
	require.Len(t, records.logs, 1)
	assert.Equal(t, "ban", records.logs[0].ActionTaken)

	require.Len(t, sender.embeds, 1)
	assert.Contains(t, sender.embeds[0].Title, "Antinuke Alert")
}

func TestPunishKindsMapToActions(t *testing.T) {
	for kind, want := range map[models.PunishmentKind]models.ActionType{
		models.PunishKick:       models.ActionKick,
		models.PunishStripRoles: models.ActionStripRoles,
	} {
		exec, fake, _, records, _ := newExecutor(kind)
		require.NoError(t, exec.Punish(context.Background(), "g1", "attacker", "x"))
		calls := fake.ActionCalls()
		require.Len(t, calls, 1, kind)
		assert.Equal(t, want, calls[0].Action)
		assert.Empty(t, records.bans, "only bans are recorded as banned users")
	}
}

func TestUnknownPunishmentIsNoop(t *testing.T) {
	exec, fake, store, _, _ := newExecutor(models.PunishmentKind("timeout"))

	err := exec.Punish(context.Background(), "g1", "attacker", "x")
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Equal(t, 0, fake.Calls())
	assert.Equal(t, int64(0), store.Get("g1").ThreatsBlocked)
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	exec, fake, store, _, _ := newExecutor(models.PunishBan)
	ctx := context.Background()

	require.NoError(t, exec.Punish(ctx, "g1", "attacker", "x"))
	require.NoError(t, exec.Punish(ctx, "g1", "attacker", "x"))
	require.NoError(t, exec.Punish(ctx, "g1", "other", "x"))

	assert.Len(t, fake.ActionCalls(), 2)
	assert.Equal(t, int64(2), store.Get("g1").ThreatsBlocked)
}

func TestFailedPunishmentCanRetry(t *testing.T) {
	exec, fake, store, _, sender := newExecutor(models.PunishBan)
	fake.ActionErr["attacker"] = errors.New("missing permissions")
	ctx := context.Background()

	assert.Error(t, exec.Punish(ctx, "g1", "attacker", "x"))
	assert.Equal(t, int64(0), store.Get("g1").ThreatsBlocked)
	assert.Empty(t, sender.embeds)

	delete(fake.ActionErr, "attacker")
	require.NoError(t, exec.Punish(ctx, "g1", "attacker", "x"))
	assert.Equal(t, int64(1), store.Get("g1").ThreatsBlocked)
}

func TestPunishAsync(t *testing.T) {
	exec, fake, _, records, _ := newExecutor(models.PunishBan)

	ctx, cancel := context.WithCancel(context.Background())
	exec.PunishAsync(ctx, Request{TenantID: "g1", ActorID: "attacker", Verb: models.VerbChannelDelete, ActionCount: 2, Reason: "burst"})
	cancel()
	exec.Wait()

	assert.Len(t, fake.ActionCalls(), 1)
	require.Len(t, records.logs, 1)
	assert.Equal(t, "channel_delete", records.logs[0].Verb)
}

func TestCooldownManager(t *testing.T) {
	cm := NewCooldownManager(10 * time.Second)
	now := time.Unix(1000, 0)
	cm.now = func() time.Time { return now }

	assert.True(t, cm.Acquire("g1", "u1"))
	assert.False(t, cm.Acquire("g1", "u1"))
	assert.Equal(t, 10*time.Second, cm.Remaining("g1", "u1"))

	now = now.Add(10 * time.Second)
	assert.True(t, cm.Acquire("g1", "u1"))

	cm.Release("g1", "u1")
	assert.Equal(t, time.Duration(0), cm.Remaining("g1", "u1"))

	cm.Acquire("g2", "u2")
	now = now.Add(time.Minute)
	cm.Prune()
	assert.Empty(t, cm.cooldowns)
}
