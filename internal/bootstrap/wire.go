package bootstrap

import (
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/decision"
	"github.com/Tanmayop9/discord-antinuke/internal/detectors"
	"github.com/Tanmayop9/discord-antinuke/internal/ingest"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/notifier"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
	"github.com/Tanmayop9/discord-antinuke/internal/recovery"
)

// Core is the platform-independent part of the service: ingest, detection,
// remediation and recovery, wired against any platform.Client.
type Core struct {
	Store     *database.Store
	Pipeline  *ingest.Pipeline
	Poller    *ingest.Poller
	Roles     *detectors.RoleResolver
	Detector  *detectors.Detector
	Sweeper   *detectors.Sweeper
	Cooldown  *decision.CooldownManager
	Executor  *decision.Executor
	Engine    *recovery.Engine
	Scheduler *recovery.Scheduler
	Guard     *Guard
}

// CoreDeps are the optional outputs of the core. Nil members are skipped.
type CoreDeps struct {
	Notifier  *notifier.Notifier
	Stream    *notifier.IncidentStream
	Incidents *logging.IncidentLogger
	Claimer   ingest.Claimer
}

// WireCore builds the core and subscribes its pipeline to client.
func WireCore(cfg *config.Config, client platform.Client, store *database.Store, deps CoreDeps) *Core {
	logging.Info("[BOOT] Wiring core components...")

	normalizer := ingest.NewNormalizer(cfg.MaxEventAge(), time.Duration(cfg.Ingest.KickMaxAgeMs)*time.Millisecond)
	pipeline := ingest.NewPipeline(normalizer, ingest.NewRecentIDs(cfg.Ingest.DedupCapacity), cfg.Ingest.EventBuffer)
	if deps.Claimer != nil {
		pipeline.WithClaimer(deps.Claimer)
	}

	poller := ingest.NewPoller(client, pipeline, ingest.PollerConfig{
		Interval:        cfg.PollInterval(),
		Limit:           cfg.Ingest.AuditLimit,
		BreakerFailures: uint32(cfg.Ingest.BreakerFailures),
		BreakerTimeout:  time.Duration(cfg.Ingest.BreakerTimeoutMs) * time.Millisecond,
	})

	roleTTL := time.Duration(cfg.Detection.RoleCacheSeconds) * time.Second
	roles := detectors.NewRoleResolver(client, cfg.Detection.MaxTrackedActors, roleTTL)
	detector := detectors.NewDetector(store, roles, detectors.Options{
		Retention:     cfg.Retention(),
		MaxTracked:    cfg.Detection.MaxTrackedActors,
		RaidThreshold: cfg.Detection.RaidJoinThreshold,
		RaidWindow:    cfg.RaidWindow(),
		Defaults:      cfg.DefaultThresholds(),
	})
	sweeper := detectors.NewSweeper(detector, cfg.SweepInterval())

	cooldown := decision.NewCooldownManager(time.Duration(cfg.Detection.CooldownSeconds) * time.Second)
	opts := []decision.ExecutorOption{decision.WithNotifier(deps.Notifier)}
	if deps.Stream != nil {
		opts = append(opts, decision.WithIncidentStream(deps.Stream))
	}
	if deps.Incidents != nil {
		opts = append(opts, decision.WithIncidentLogger(deps.Incidents))
	}
	var records decision.Records
	if db := store.DB(); db != nil {
		records = db
	}
	executor := decision.NewExecutor(store, client, records, cooldown, opts...)

	engine := recovery.NewEngine(
		client,
		recovery.NewSnapshotCache(cfg.Recovery.CacheSize, cfg.CacheTTL()),
		store,
		cfg.Recovery.Concurrency,
	)
	engine.OnSnapshot(func(snap *recovery.Snapshot) {
		roles.Seed(snap.TenantID, snap.MemberRoles)
	})
	scheduler := recovery.NewScheduler(engine)

	guard := NewGuard(pipeline, detector, executor, cooldown, engine, scheduler, store, client, deps.Notifier, GuardOptions{
		AutoRecover:      cfg.Recovery.AutoRecover,
		SnapshotInterval: cfg.SnapshotInterval(),
	})
	pipeline.OnTenantReady(guard.TenantReady)
	pipeline.OnMemberUpdate(roles.Invalidate)
	client.Subscribe(pipeline)

	return &Core{
		Store:     store,
		Pipeline:  pipeline,
		Poller:    poller,
		Roles:     roles,
		Detector:  detector,
		Sweeper:   sweeper,
		Cooldown:  cooldown,
		Executor:  executor,
		Engine:    engine,
		Scheduler: scheduler,
		Guard:     guard,
	}
}

// SetSelfID tells the core which account is ours, so its own actions are
// neither evaluated nor recorded as the punisher's.
func (c *Core) SetSelfID(id string) {
	c.Pipeline.Normalizer().SetSelfID(id)
	c.Executor.SetSelfID(id)
	logging.Info("[BOOT] Running as %s", id)
}

// defaultPunishment resolves the configured process-wide punishment.
func defaultPunishment(cfg *config.Config) models.PunishmentKind {
	p, err := models.ParsePunishment(cfg.Detection.Punishment)
	if err != nil {
		return models.PunishBan
	}
	return p
}

// Wait blocks until in-flight punishments, cleanups and recoveries end.
func (c *Core) Wait() {
	c.Guard.Wait()
	c.Roles.Wait()
}
