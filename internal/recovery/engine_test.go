package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
	"github.com/Tanmayop9/discord-antinuke/internal/platform/platformtest"
)

type memStore struct {
	mu  sync.Mutex
	cfg map[string]*config.TenantConfig
}

func newMemStore() *memStore {
	return &memStore{cfg: make(map[string]*config.TenantConfig)}
}

func (s *memStore) Update(tenantID string, fn func(*config.TenantConfig)) *config.TenantConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cfg[tenantID]
	if !ok {
		c = config.NewTenantConfig(tenantID, models.PunishBan)
		s.cfg[tenantID] = c
	}
	fn(c)
	return c.Clone()
}

func (s *memStore) get(tenantID string) *config.TenantConfig {
	return s.Update(tenantID, func(*config.TenantConfig) {})
}

func seededFake(tenants ...string) *platformtest.Fake {
	fake := platformtest.New(tenants...)
	for _, t := range tenants {
		fake.Roles[t] = []platform.Role{
			{ID: t, Name: "@everyone"},
			{ID: "r1", Name: "Admin", Permissions: 8, Hoist: true},
			{ID: "r2", Name: "Mod", Color: 0x3498db},
			{ID: "bot-role", Name: "Bot", Managed: true},
		}
		fake.Channels[t] = []platform.Channel{
			{ID: "cat", Name: "General", Kind: platform.ChannelCategory},
			{ID: "c1", Name: "chat", Kind: platform.ChannelText, ParentID: "cat"},
			{ID: "c2", Name: "voice", Kind: platform.ChannelVoice, ParentID: "cat"},
		}
		fake.Members[t] = map[string][]string{
			"u1": {"r1"},
			"u2": {"r2"},
		}
		fake.Webhooks[t] = []platform.Webhook{{ID: "w1", Name: "feed", ChannelID: "c1"}}
	}
	return fake
}

func newEngine(fake *platformtest.Fake, concurrency int) (*Engine, *memStore) {
	store := newMemStore()
	return NewEngine(fake, NewSnapshotCache(100, time.Hour), store, concurrency), store
}

func indexOf(entries []string, pred func(string) bool, last bool) int {
	idx := -1
	for i, e := range entries {
		if pred(e) {
			idx = i
			if !last {
				return idx
			}
		}
	}
	return idx
}

func TestCaptureSnapshot(t *testing.T) {
	fake := seededFake("g1")
	engine, store := newEngine(fake, 4)
	assert.Equal(t, StateNone, engine.State("g1"))

	snap, err := engine.CaptureSnapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, snap.Complete)
	assert.Empty(t, snap.Failures)
	assert.Len(t, snap.Roles, 4)
	assert.Len(t, snap.Channels, 3)
	assert.Equal(t, []string{"r1"}, snap.MemberRoles["u1"])
	assert.Len(t, snap.Webhooks, 1)

	assert.Equal(t, StateCurrent, engine.State("g1"))
	assert.Equal(t, "CURRENT", engine.State("g1").String())
	assert.Equal(t, snap.CapturedAt, store.get("g1").LastSnapshotAt)
}

func TestCaptureSnapshotWithFailedSection(t *testing.T) {
	fake := seededFake("g1")
	fake.FetchErr["channels"] = errors.New("missing access")
	engine, _ := newEngine(fake, 4)

	snap, err := engine.CaptureSnapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.False(t, snap.Complete)
	assert.Equal(t, []string{"channels"}, snap.Failures)
	assert.Empty(t, snap.Channels)
	assert.Len(t, snap.Roles, 4)

	res := engine.RecoverRoles(context.Background(), "g1", []string{"r1"})
	assert.True(t, res.Degraded)
}

func TestCaptureSnapshotAllSectionsFailed(t *testing.T) {
	fake := seededFake("g1")
	for _, s := range []string{"roles", "channels", "members", "webhooks"} {
		fake.FetchErr[s] = errors.New("down")
	}
	engine, _ := newEngine(fake, 4)

	_, err := engine.CaptureSnapshot(context.Background(), "g1")
	assert.ErrorIs(t, err, models.ErrTransientNetwork)
	assert.Equal(t, StateNone, engine.State("g1"))
}

func TestEmptyRecoveryMakesNoCalls(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)

	for _, res := range []*models.RecoveryResult{
		engine.RecoverRoles(context.Background(), "g1", nil),
		engine.RecoverChannels(context.Background(), "g1", []string{}),
		engine.MassUnban(context.Background(), "g1", nil),
	} {
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.ItemsRecovered)
		assert.NoError(t, res.Err)
	}
	assert.Equal(t, 0, fake.Calls())
}

func TestRecoveryWithoutSnapshot(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)

	for _, res := range []*models.RecoveryResult{
		engine.RecoverChannels(context.Background(), "g1", []string{"c1"}),
		engine.FullRecovery(context.Background(), "g1"),
		engine.RestoreMemberRoles(context.Background(), "g1", "u1"),
	} {
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, models.ErrRecoveryUnavailable)
		assert.NotEmpty(t, res.Message)
	}
	assert.Equal(t, 0, fake.Calls())
}

func TestSnapshotCacheEviction(t *testing.T) {
	fake := seededFake("g1", "g2", "g3")
	engine := NewEngine(fake, NewSnapshotCache(2, time.Hour), nil, 4)
	ctx := context.Background()

	for _, g := range []string{"g1", "g2", "g3"} {
		_, err := engine.CaptureSnapshot(ctx, g)
		require.NoError(t, err)
	}

	assert.Equal(t, StateNone, engine.State("g1"))
	assert.Equal(t, StateCurrent, engine.State("g3"))
	res := engine.RecoverChannels(ctx, "g1", []string{"c1"})
	assert.ErrorIs(t, res.Err, models.ErrRecoveryUnavailable)
}

func TestRecoverChannelsSkipsUnknownIDs(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.DeleteChannels("g1", "c1", "c2")
	res := engine.RecoverChannels(ctx, "g1", []string{"c1", "c2", "unknown"})

	assert.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, res.ItemsRecovered)
	require.Len(t, res.Items, 2)
	for _, item := range res.Items {
		assert.True(t, strings.HasPrefix(item.NewID, "new-"))
	}
	assert.Len(t, fake.Channels["g1"], 3)
}

func TestRecoverRolesSkipsManagedAndEveryone(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	res := engine.RecoverRoles(ctx, "g1", []string{"g1", "bot-role", "r2"})
	assert.Equal(t, 1, res.ItemsRecovered)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Mod", res.Items[0].Name)
}

func TestPartialFailure(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.DeleteChannels("g1", "c1", "c2")
	fake.CreateErr["c1"] = errors.New("rate limited")

	res := engine.RecoverChannels(ctx, "g1", []string{"c1", "c2"})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ItemsRecovered)
	assert.ErrorIs(t, res.Err, models.ErrPartialFailure)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "c1", res.Failed()[0].ID)
	assert.Equal(t, "Restored 1 of 2", res.Message)
}

func TestMassUnbanContinuesPastFailures(t *testing.T) {
	fake := seededFake("g1")
	fake.ActionErr["v2"] = errors.New("unknown ban")
	engine, _ := newEngine(fake, 2)

	res := engine.MassUnban(context.Background(), "g1", []string{"v1", "v2", "v3"})
	assert.Equal(t, 2, res.ItemsRecovered)
	assert.Len(t, fake.ActionCalls(), 3)
	for _, call := range fake.ActionCalls() {
		assert.Equal(t, models.ActionUnban, call.Action)
	}
}

func TestFullRecoveryRunsStagesInOrder(t *testing.T) {
	fake := seededFake("g1")
	fake.CreateDelay = 5 * time.Millisecond
	engine, store := newEngine(fake, 10)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.DeleteRoles("g1", "r1", "r2")
	fake.DeleteChannels("g1", "cat", "c1", "c2")
	fake.Members["g1"]["u1"] = nil
	fake.Members["g1"]["u2"] = nil

	res := fake.Entries()
	require.Empty(t, res)

	result := engine.FullRecovery(ctx, "g1")
	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	// 2 roles, 3 channels, 2 members.
	assert.Equal(t, 7, result.ItemsRecovered)

	entries := fake.Entries()
	lastRoleEnd := indexOf(entries, func(e string) bool { return strings.HasPrefix(e, "role:end") }, true)
	firstChannelStart := indexOf(entries, func(e string) bool { return strings.HasPrefix(e, "channel:start") }, false)
	lastChannelEnd := indexOf(entries, func(e string) bool { return strings.HasPrefix(e, "channel:end") }, true)
	firstMemberStart := indexOf(entries, func(e string) bool { return strings.HasPrefix(e, "member:start") }, false)

	require.NotEqual(t, -1, lastRoleEnd)
	assert.Less(t, lastRoleEnd, firstChannelStart)
	assert.Less(t, lastChannelEnd, firstMemberStart)

	// Member roles point at the recreated role, not the deleted one.
	u1 := fake.Members["g1"]["u1"]
	require.Len(t, u1, 1)
	assert.True(t, strings.HasPrefix(u1[0], "new-"))

	// Children are re-parented under the recreated category.
	for _, ch := range fake.Channels["g1"] {
		if ch.Kind != platform.ChannelCategory {
			assert.NotEqual(t, "cat", ch.ParentID)
			assert.True(t, strings.HasPrefix(ch.ParentID, "new-"), ch.ParentID)
		}
	}

	assert.Equal(t, int64(1), store.get("g1").TotalRecoveries)
}

func TestFullRecoveryWithNothingMissing(t *testing.T) {
	fake := seededFake("g1")
	engine, store := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	res := engine.FullRecovery(ctx, "g1")
	assert.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.ItemsRecovered)
	assert.Equal(t, int64(0), store.get("g1").TotalRecoveries)
}

func TestFullRecoveryIsExclusivePerTenant(t *testing.T) {
	fake := seededFake("g1", "g2")
	fake.CreateDelay = 100 * time.Millisecond
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()
	for _, g := range []string{"g1", "g2"} {
		_, err := engine.CaptureSnapshot(ctx, g)
		require.NoError(t, err)
	}
	fake.DeleteRoles("g1", "r1")

	done := make(chan *models.RecoveryResult)
	go func() { done <- engine.FullRecovery(ctx, "g1") }()

	require.Eventually(t, func() bool {
		return indexOf(fake.Entries(), func(e string) bool { return e == "role:start:r1" }, false) >= 0
	}, time.Second, 5*time.Millisecond)

	second := engine.FullRecovery(ctx, "g1")
	assert.ErrorIs(t, second.Err, models.ErrRecoveryInProgress)
	assert.False(t, second.Success)

	other := engine.FullRecovery(ctx, "g2")
	assert.NoError(t, other.Err)

	first := <-done
	assert.NoError(t, first.Err)
	// The role, plus u1 moved onto the recreated role.
	assert.Equal(t, 2, first.ItemsRecovered)
}

func TestCancellationStopsSubmitting(t *testing.T) {
	fake := seededFake("g1")
	var channels []platform.Channel
	for i := 0; i < 10; i++ {
		channels = append(channels, platform.Channel{ID: fmt.Sprintf("c%d", i), Name: "spam"})
	}
	fake.Channels["g1"] = channels
	engine, _ := newEngine(fake, 1)
	_, err := engine.CaptureSnapshot(context.Background(), "g1")
	require.NoError(t, err)

	ids := make([]string, 0, len(channels))
	for _, c := range channels {
		ids = append(ids, c.ID)
	}
	fake.CreateDelay = 30 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	res := engine.RecoverChannels(ctx, "g1", ids)
	assert.Less(t, res.ItemsRecovered, 10)
	assert.NotEmpty(t, res.Failed())

	started := 0
	for _, e := range fake.Entries() {
		if strings.HasPrefix(e, "channel:start") {
			started++
		}
	}
	assert.Less(t, started, 10)
}

func TestTriggerRecovery(t *testing.T) {
	fake := seededFake("g1")
	engine, store := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.DeleteChannels("g1", "c1")
	res := engine.TriggerRecovery(ctx, "g1", models.VerbChannelDelete, []string{"c1"})
	assert.Equal(t, 1, res.ItemsRecovered)

	res = engine.TriggerRecovery(ctx, "g1", models.VerbBan, []string{"v1", "v2"})
	assert.Equal(t, 2, res.ItemsRecovered)

	fake.DeleteRoles("g1", "r2")
	res = engine.TriggerRecovery(ctx, "g1", models.VerbRoleDelete, []string{"r2"})
	assert.Equal(t, 1, res.ItemsRecovered)

	res = engine.TriggerRecovery(ctx, "g1", models.VerbKick, []string{"v1"})
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ItemsRecovered)

	assert.Equal(t, int64(3), store.get("g1").TotalRecoveries)
}

func TestRestoreMemberRoles(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()
	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.Members["g1"]["u1"] = nil
	res := engine.RestoreMemberRoles(ctx, "g1", "u1")
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ItemsRecovered)
	assert.Equal(t, []string{"r1"}, fake.Members["g1"]["u1"])

	res = engine.RestoreMemberRoles(ctx, "g1", "ghost")
	assert.ErrorIs(t, res.Err, models.ErrRecoveryUnavailable)
}

func TestSchedulerCapturesPeriodically(t *testing.T) {
	fake := seededFake("g1", "g2")
	engine, _ := newEngine(fake, 4)
	sched := NewScheduler(engine)

	engine.Suspend("g2", time.Hour)
	sched.Schedule("g1", 10*time.Millisecond)
	sched.Schedule("g1", 10*time.Millisecond)
	sched.Schedule("g2", 10*time.Millisecond)
	assert.Equal(t, 2, sched.Scheduled())

	require.Eventually(t, func() bool {
		return engine.State("g1") == StateCurrent
	}, time.Second, 5*time.Millisecond)

	sched.Stop()
	assert.Equal(t, 0, sched.Scheduled())
	assert.Equal(t, StateNone, engine.State("g2"), "suspended tenants are not captured")

	sched.Schedule("g1", 10*time.Millisecond)
	assert.Equal(t, 0, sched.Scheduled(), "a stopped scheduler ignores new tenants")
}

func TestSuspensionIsCapped(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	// Moderation every minute keeps extending a 5 minute pause.
	for i := 0; i < 14; i++ {
		engine.Suspend("g1", 5*time.Minute)
		require.True(t, engine.Suspended("g1"))
		now = now.Add(time.Minute)
	}
	now = now.Add(time.Minute)
	assert.False(t, engine.Suspended("g1"), "the pause ends 15 minutes after it started")

	engine.Suspend("g1", 5*time.Minute)
	assert.False(t, engine.Suspended("g1"), "an expired cap is not renewed before a capture")

	var seen []*Snapshot
	engine.OnSnapshot(func(s *Snapshot) { seen = append(seen, s) })
	_, err := engine.CaptureSnapshot(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"r1"}, seen[0].MemberRoles["u1"])

	engine.Suspend("g1", 5*time.Minute)
	assert.True(t, engine.Suspended("g1"))
}

func TestShortSuspensionExpires(t *testing.T) {
	engine, _ := newEngine(seededFake("g1"), 4)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	engine.Suspend("g1", time.Minute)
	now = now.Add(2 * time.Minute)
	assert.False(t, engine.Suspended("g1"))

	engine.Suspend("g1", time.Minute)
	assert.True(t, engine.Suspended("g1"), "a quiet gap starts a fresh suspension")
}

func TestDeletionTracker(t *testing.T) {
	tr := NewDeletionTracker()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Track("g1", "a1", models.VerbChannelDelete, "c1")
	tr.Track("g1", "a1", models.VerbChannelDelete, "c2")
	tr.Track("g1", "a1", models.VerbChannelDelete, "c1")
	tr.Track("g1", "a1", models.VerbChannelDelete, "")
	tr.Track("g1", "a2", models.VerbChannelDelete, "c3")
	tr.Track("g1", "a1", models.VerbRoleDelete, "r1")
	tr.Track("g2", "a1", models.VerbChannelDelete, "c9")

	assert.Equal(t, []string{"c1", "c2"}, tr.Drain("g1", "a1", models.VerbChannelDelete))
	assert.Empty(t, tr.Drain("g1", "a1", models.VerbChannelDelete))

	tr.Clear("g1")
	assert.Empty(t, tr.Drain("g1", "a1", models.VerbRoleDelete))
	assert.Empty(t, tr.Drain("g1", "a2", models.VerbChannelDelete))

	now = now.Add(time.Hour)
	tr.Track("g3", "a1", models.VerbBan, "u1")
	assert.Equal(t, 1, tr.Prune(now.Add(-time.Minute)))
	assert.Empty(t, tr.Drain("g2", "a1", models.VerbChannelDelete))
	assert.Equal(t, []string{"u1"}, tr.Drain("g3", "a1", models.VerbBan))
}

func TestRecoverMissingByKind(t *testing.T) {
	fake := seededFake("g1")
	engine, _ := newEngine(fake, 4)
	ctx := context.Background()

	res := engine.RecoverMissingRoles(ctx, "g1")
	assert.ErrorIs(t, res.Err, models.ErrRecoveryUnavailable)

	_, err := engine.CaptureSnapshot(ctx, "g1")
	require.NoError(t, err)

	fake.DeleteRoles("g1", "r2")
	fake.DeleteChannels("g1", "c1")

	roles := engine.RecoverMissingRoles(ctx, "g1")
	require.NoError(t, roles.Err)
	assert.Equal(t, 1, roles.ItemsRecovered)

	channels := engine.RecoverMissingChannels(ctx, "g1")
	require.NoError(t, channels.Err)
	assert.Equal(t, 1, channels.ItemsRecovered)

	// A second pass finds nothing missing.
	again := engine.RecoverMissingChannels(ctx, "g1")
	assert.Equal(t, 0, again.ItemsRecovered)
}
