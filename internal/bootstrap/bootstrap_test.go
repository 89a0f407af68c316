package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
	"github.com/Tanmayop9/discord-antinuke/internal/platform/platformtest"
	"github.com/Tanmayop9/discord-antinuke/internal/recovery"
)

const tenant = "g1"

type harness struct {
	fake *platformtest.Fake
	core *Core
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets setup adjust the platform and process config before
// the core is wired and the tenant announced.
func newHarnessWith(t *testing.T, setup func(fake *platformtest.Fake, cfg *config.Config)) *harness {
	t.Helper()

	fake := platformtest.New(tenant)
	fake.Channels[tenant] = []platform.Channel{
		{ID: "c1", Name: "general", Kind: platform.ChannelText},
		{ID: "c2", Name: "rules", Kind: platform.ChannelText},
		{ID: "c3", Name: "voice", Kind: platform.ChannelVoice},
	}
	fake.Roles[tenant] = []platform.Role{{ID: "r1", Name: "mod"}}

	db, err := database.Open(filepath.Join(t.TempDir(), "antinuke.db"))
	require.NoError(t, err)
	store := database.NewStore(db, models.PunishBan, time.Hour)

	cfg := config.DefaultConfig()
	cfg.Bot.Token = "test"
	if setup != nil {
		setup(fake, cfg)
	}
	core := WireCore(cfg, fake, store, CoreDeps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = core.Guard.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		core.Scheduler.Stop()
		core.Wait()
		_ = store.Shutdown()
	})

	fake.EmitReady(tenant, "owner")
	require.Eventually(t, func() bool {
		return core.Engine.State(tenant) == recovery.StateCurrent
	}, 2*time.Second, 10*time.Millisecond)

	return &harness{fake: fake, core: core}
}

func (h *harness) audit(id string, v models.Verb, actor, target string) {
	h.fake.EmitAudit(tenant, platform.AuditRecord{
		ID:         id,
		ActionType: v.AuditAction(),
		ActorID:    actor,
		TargetID:   target,
		Time:       time.Now(),
	})
}

// settle waits until every event emitted so far has been evaluated, using a
// single channel create by a marker actor as a barrier.
func (h *harness) settle(t *testing.T, id string) {
	t.Helper()
	h.audit(id, models.VerbChannelCreate, "marker-"+id, "")
	require.Eventually(t, func() bool {
		return h.core.Detector.ActionCount(tenant, "marker-"+id, models.VerbChannelCreate) == 1
	}, time.Second, 5*time.Millisecond)
	h.core.Wait()
}

func (h *harness) actions(action models.ActionType, target string) int {
	n := 0
	for _, call := range h.fake.ActionCalls() {
		if call.Action == action && call.TargetID == target {
			n++
		}
	}
	return n
}

func TestChannelDeleteBurstIsPunishedAndRestored(t *testing.T) {
	h := newHarness(t)

	h.fake.DeleteChannels(tenant, "c1", "c2")
	h.audit("a1", models.VerbChannelDelete, "attacker", "c1")

	require.Eventually(t, func() bool {
		return h.core.Detector.ActionCount(tenant, "attacker", models.VerbChannelDelete) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.actions(models.ActionBan, "attacker"))

	h.audit("a2", models.VerbChannelDelete, "attacker", "c2")

	require.Eventually(t, func() bool {
		return h.actions(models.ActionBan, "attacker") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		chs, _ := h.fake.FetchChannels(context.Background(), tenant)
		return len(chs) == 3
	}, 2*time.Second, 10*time.Millisecond)

	chs, err := h.fake.FetchChannels(context.Background(), tenant)
	require.NoError(t, err)
	names := make([]string, 0, len(chs))
	for _, ch := range chs {
		names = append(names, ch.Name)
	}
	assert.ElementsMatch(t, []string{"general", "rules", "voice"}, names)

	h.core.Wait()
	cfg := h.core.Store.Get(tenant)
	assert.Equal(t, "owner", cfg.OwnerID)
	assert.Equal(t, int64(1), cfg.ThreatsBlocked)
	assert.Equal(t, int64(1), cfg.TotalRecoveries)

	logs, err := h.core.Store.DB().GetRecentLogs(tenant, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "attacker", logs[0].ActorID)
}

func TestFurtherActionsDuringCooldownAreNotPunishedTwice(t *testing.T) {
	h := newHarness(t)

	h.audit("a1", models.VerbChannelDelete, "attacker", "c1")
	h.audit("a2", models.VerbChannelDelete, "attacker", "c2")
	h.audit("a3", models.VerbChannelDelete, "attacker", "c3")

	require.Eventually(t, func() bool {
		return h.core.Detector.ActionCount(tenant, "attacker", models.VerbChannelDelete) == 3
	}, 2*time.Second, 5*time.Millisecond)
	h.core.Wait()

	assert.Equal(t, 1, h.actions(models.ActionBan, "attacker"))
}

func TestDuplicateAuditEntriesCountOnce(t *testing.T) {
	h := newHarness(t)

	h.audit("a1", models.VerbChannelDelete, "attacker", "c1")
	h.audit("a1", models.VerbChannelDelete, "attacker", "c1")
	h.audit("a9", models.VerbRoleDelete, "attacker", "r1")

	require.Eventually(t, func() bool {
		return h.core.Detector.ActionCount(tenant, "attacker", models.VerbRoleDelete) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.core.Detector.ActionCount(tenant, "attacker", models.VerbChannelDelete))
	assert.Zero(t, h.actions(models.ActionBan, "attacker"))
}

func TestOwnerIsNeverPunished(t *testing.T) {
	h := newHarness(t)

	for _, id := range []string{"a1", "a2", "a3"} {
		h.audit(id, models.VerbChannelDelete, "owner", "c1")
	}
	h.audit("a4", models.VerbKick, "someone", "u1")

	require.Eventually(t, func() bool {
		return h.core.Detector.ActionCount(tenant, "someone", models.VerbKick) == 1
	}, time.Second, 5*time.Millisecond)
	h.core.Wait()

	assert.Zero(t, h.actions(models.ActionBan, "owner"))
}

func TestChannelCreateSpamIsCleanedUp(t *testing.T) {
	h := newHarness(t)

	h.audit("e1", models.VerbChannelCreate, "spammer", "s1")
	h.audit("e2", models.VerbChannelCreate, "spammer", "s2")
	h.audit("e3", models.VerbChannelCreate, "spammer", "s3")

	require.Eventually(t, func() bool {
		return h.actions(models.ActionDeleteChannel, "s3") == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.actions(models.ActionBan, "spammer") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBotJoiningDuringRaidIsKicked(t *testing.T) {
	h := newHarness(t)
	h.core.Store.Update(tenant, func(cfg *config.TenantConfig) {
		cfg.AntiBot = true
	})

	now := time.Now()
	for i := 0; i < 9; i++ {
		h.fake.EmitJoin(models.JoinEvent{TenantID: tenant, UserID: "human", Timestamp: now})
	}
	h.fake.EmitJoin(models.JoinEvent{TenantID: tenant, UserID: "bot", IsBot: true, Timestamp: now})

	require.Eventually(t, func() bool {
		return h.actions(models.ActionKick, "bot") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.actions(models.ActionKick, "human"))
}

func TestOldAuditEntriesAreNotReplayedAsABurst(t *testing.T) {
	h := newHarness(t)
	h.fake.DeleteChannels(tenant, "c1", "c2")

	old := time.Now().Add(-3 * time.Hour)
	deleteCode := models.VerbChannelDelete.AuditAction()
	h.fake.Audit[tenant] = []platform.AuditRecord{
		{ID: "o2", ActionType: deleteCode, ActorID: "admin", TargetID: "c2", Time: old.Add(time.Second)},
		{ID: "o1", ActionType: deleteCode, ActorID: "admin", TargetID: "c1", Time: old},
	}

	assert.Zero(t, h.core.Poller.PollOnce(context.Background()))
	h.settle(t, "s1")

	assert.Zero(t, h.actions(models.ActionBan, "admin"))
	assert.Zero(t, h.core.Detector.ActionCount(tenant, "admin", models.VerbChannelDelete))
	chs, err := h.fake.FetchChannels(context.Background(), tenant)
	require.NoError(t, err)
	assert.Len(t, chs, 1, "channels deleted hours ago are not recreated")

	// A fresh entry in the same log is still evaluated.
	h.fake.Audit[tenant] = append([]platform.AuditRecord{
		{ID: "n1", ActionType: deleteCode, ActorID: "admin", TargetID: "c3", Time: time.Now()},
	}, h.fake.Audit[tenant]...)
	assert.Equal(t, 1, h.core.Poller.PollOnce(context.Background()))
}

func TestRoutineModerationDoesNotHoldOffSnapshots(t *testing.T) {
	h := newHarnessWith(t, func(_ *platformtest.Fake, cfg *config.Config) {
		cfg.Recovery.SnapshotIntervalSeconds = 1
	})
	h.core.Store.Update(tenant, func(cfg *config.TenantConfig) {
		cfg.AddWhitelist(config.WhitelistUser, "mod")
	})
	h.core.Wait()
	first := h.core.Store.Get(tenant).LastSnapshotAt

	for i, actor := range []string{"owner", "mod", "owner", "mod"} {
		h.audit(fmt.Sprintf("b%d", i), models.VerbBan, actor, fmt.Sprintf("u%d", i))
	}
	h.settle(t, "s1")
	assert.False(t, h.core.Engine.Suspended(tenant), "trusted bans do not pause captures")

	require.Eventually(t, func() bool {
		return h.core.Store.Get(tenant).LastSnapshotAt.After(first)
	}, 3*time.Second, 20*time.Millisecond)

	h.audit("x1", models.VerbBan, "stranger", "u9")
	require.Eventually(t, func() bool {
		return h.core.Engine.Suspended(tenant)
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotSeedsRolesAndMemberUpdatesInvalidate(t *testing.T) {
	h := newHarnessWith(t, func(fake *platformtest.Fake, _ *config.Config) {
		fake.Members[tenant] = map[string][]string{"mod": {"trusted"}}
	})
	h.core.Store.Update(tenant, func(cfg *config.TenantConfig) {
		cfg.AddWhitelist(config.WhitelistRole, "trusted")
	})
	h.core.Wait()
	ctx := context.Background()

	roles, ok := h.core.Roles.Roles(ctx, tenant, "mod")
	require.True(t, ok, "the first snapshot seeds the role cache")
	assert.Equal(t, []string{"trusted"}, roles)

	h.audit("d1", models.VerbChannelDelete, "mod", "c1")
	h.audit("d2", models.VerbChannelDelete, "mod", "c2")
	h.settle(t, "s1")
	assert.Zero(t, h.actions(models.ActionBan, "mod"))

	h.fake.EmitMemberUpdate(tenant, "mod")
	_, ok = h.core.Roles.Roles(ctx, tenant, "mod")
	assert.False(t, ok, "a role change drops the cached answer")
	h.core.Wait()
}

func TestInitializeRejectsMissingToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bot.Token = ""

	err := New(cfg).Initialize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestShutdownWithoutComponents(t *testing.T) {
	assert.NoError(t, New(config.DefaultConfig()).Shutdown())
}
