package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/decision"
	"github.com/Tanmayop9/discord-antinuke/internal/detectors"
	"github.com/Tanmayop9/discord-antinuke/internal/ingest"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/notifier"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
	"github.com/Tanmayop9/discord-antinuke/internal/recovery"
)

const (
	recoveryTimeout = 2 * time.Minute
	snapshotTimeout = 30 * time.Second
	housekeeping    = time.Minute
)

type ConfigStore interface {
	Get(tenantID string) *config.TenantConfig
	Update(tenantID string, fn func(cfg *config.TenantConfig)) *config.TenantConfig
}

type GuardOptions struct {
	AutoRecover      bool
	SuspendFor       time.Duration
	SnapshotInterval time.Duration
	TargetRetention  time.Duration
}

// Guard is the detection loop: it consumes the ingest pipeline, evaluates
// each event and drives punishment, spam cleanup and recovery.
type Guard struct {
	pipeline  *ingest.Pipeline
	detector  *detectors.Detector
	executor  *decision.Executor
	cooldown  *decision.CooldownManager
	engine    *recovery.Engine
	scheduler *recovery.Scheduler
	tracker   *recovery.DeletionTracker
	store     ConfigStore
	actions   platform.ActionExecutor
	notifier  *notifier.Notifier
	opts      GuardOptions

	heartbeat func()
	wg        sync.WaitGroup
}

func NewGuard(
	pipeline *ingest.Pipeline,
	detector *detectors.Detector,
	executor *decision.Executor,
	cooldown *decision.CooldownManager,
	engine *recovery.Engine,
	scheduler *recovery.Scheduler,
	store ConfigStore,
	actions platform.ActionExecutor,
	n *notifier.Notifier,
	opts GuardOptions,
) *Guard {
	if opts.SuspendFor <= 0 {
		opts.SuspendFor = 5 * time.Minute
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 60 * time.Second
	}
	if opts.TargetRetention <= 0 {
		opts.TargetRetention = 10 * time.Minute
	}
	return &Guard{
		pipeline:  pipeline,
		detector:  detector,
		executor:  executor,
		cooldown:  cooldown,
		engine:    engine,
		scheduler: scheduler,
		tracker:   recovery.NewDeletionTracker(),
		store:     store,
		actions:   actions,
		notifier:  n,
		opts:      opts,
	}
}

func (g *Guard) SetHeartbeat(fn func()) {
	g.heartbeat = fn
}

func (g *Guard) Serve(ctx context.Context) error {
	ticker := time.NewTicker(housekeeping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-g.pipeline.Events():
			g.HandleEvent(ctx, ev)
		case join := <-g.pipeline.Joins():
			g.HandleJoin(ctx, join)
		case now := <-ticker.C:
			g.tracker.Prune(now.Add(-g.opts.TargetRetention))
			if g.cooldown != nil {
				g.cooldown.Prune()
			}
			if g.heartbeat != nil {
				g.heartbeat()
			}
		}
	}
}

func (g *Guard) String() string {
	return "detection-loop"
}

// HandleEvent evaluates one normalized event. Punishment and recovery run on
// their own goroutines so the loop never blocks on the platform.
func (g *Guard) HandleEvent(ctx context.Context, ev models.ActionEvent) {
	verdict := g.detector.Evaluate(ctx, ev)
	if ev.IsDestructive() && (verdict.ActionCount > 0 || verdict.IsThreat) {
		// No snapshots while an attack may be in progress. Trusted actors
		// never count, so routine moderation leaves the schedule alone.
		g.engine.Suspend(ev.TenantID, g.opts.SuspendFor)
		g.tracker.Track(ev.TenantID, ev.ActorID, ev.Verb, ev.TargetID)
	}
	if !verdict.IsThreat {
		return
	}

	g.executor.PunishAsync(ctx, decision.Request{
		TenantID:    ev.TenantID,
		ActorID:     ev.ActorID,
		Verb:        ev.Verb,
		ActionCount: verdict.ActionCount,
		Reason:      verdict.Reason,
	})

	switch ev.Verb {
	case models.VerbChannelCreate:
		g.cleanup(ctx, ev, models.ActionDeleteChannel)
	case models.VerbRoleCreate:
		g.cleanup(ctx, ev, models.ActionDeleteRole)
	}

	if ev.IsDestructive() && g.opts.AutoRecover {
		targets := g.tracker.Drain(ev.TenantID, ev.ActorID, ev.Verb)
		if len(targets) > 0 {
			g.recover(ctx, ev.TenantID, ev.Verb, targets)
		}
	}
}

// cleanup deletes a spammed channel or role.
func (g *Guard) cleanup(ctx context.Context, ev models.ActionEvent, action models.ActionType) {
	if ev.TargetID == "" {
		return
	}
	base := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		cctx, cancel := context.WithTimeout(base, 10*time.Second)
		defer cancel()
		if err := g.actions.ExecuteAction(cctx, ev.TenantID, action, ev.TargetID, "Antinuke: removing spam"); err != nil {
			logging.Warn("[CLEANUP] %s %s in %s failed: %v", action, ev.TargetID, ev.TenantID, err)
		}
	}()
}

func (g *Guard) recover(ctx context.Context, tenantID string, v models.Verb, targets []string) {
	base := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		rctx, cancel := context.WithTimeout(base, recoveryTimeout)
		defer cancel()

		res := g.engine.TriggerRecovery(rctx, tenantID, v, targets)
		if res.Err != nil {
			logging.Warn("[RECOVERY] %s in %s: %v", v.DisplayName(), tenantID, res.Err)
		} else {
			logging.Info("[RECOVERY] %s in %s: %s", v.DisplayName(), tenantID, res.Message)
		}
		cfg := g.store.Get(tenantID)
		_ = g.notifier.SendRecovery(cfg.LogChannelID, v.DisplayName(), res)
	}()
}

// HandleJoin feeds raid detection. Bots joining during a raid are kicked when
// anti-bot is on.
func (g *Guard) HandleJoin(ctx context.Context, join models.JoinEvent) {
	raid := g.detector.CheckRaid(join.TenantID, join.Timestamp)
	if !raid {
		return
	}
	logging.Warn("[RAID] Join burst in %s (latest %s)", join.TenantID, join.UserID)

	if !join.IsBot {
		return
	}
	cfg := g.store.Get(join.TenantID)
	if cfg == nil || !cfg.Enabled || !cfg.AntiBot {
		return
	}

	base := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		kctx, cancel := context.WithTimeout(base, 10*time.Second)
		defer cancel()
		if err := g.actions.ExecuteAction(kctx, join.TenantID, models.ActionKick, join.UserID, "Antinuke: bot joined during raid"); err != nil {
			logging.Warn("[RAID] Kick of bot %s in %s failed: %v", join.UserID, join.TenantID, err)
			return
		}
		logging.Info("[RAID] Kicked bot %s from %s", join.UserID, join.TenantID)
	}()
}

// TenantReady records the owner, captures a first snapshot and schedules the
// periodic ones.
func (g *Guard) TenantReady(tenantID, ownerID string) {
	if ownerID != "" {
		g.store.Update(tenantID, func(cfg *config.TenantConfig) {
			cfg.OwnerID = ownerID
		})
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if _, err := g.engine.CaptureSnapshot(ctx, tenantID); err != nil {
			logging.Warn("[SNAPSHOT] Initial capture of %s failed: %v", tenantID, err)
		}
	}()

	if g.scheduler != nil {
		g.scheduler.Schedule(tenantID, g.opts.SnapshotInterval)
	}
}

// Wait blocks until background cleanup, recovery and punishment finish.
func (g *Guard) Wait() {
	g.wg.Wait()
	g.executor.Wait()
}
