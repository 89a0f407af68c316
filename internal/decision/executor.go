package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/notifier"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

const punishTimeout = 10 * time.Second

// TenantStore is the config store as seen by remediation.
type TenantStore interface {
	Get(tenantID string) *config.TenantConfig
	Update(tenantID string, fn func(cfg *config.TenantConfig)) *config.TenantConfig
}

// Records persists punishment history.
type Records interface {
	AddBannedUser(guildID, userID, reason, bannedBy string) error
	LogEvent(log *database.EventLog) error
}

// Request is one punishment to carry out.
type Request struct {
	TenantID    string
	ActorID     string
	Verb        models.Verb
	ActionCount int
	Reason      string
}

// Executor applies the tenant's configured punishment to a confirmed attacker.
type Executor struct {
	store    TenantStore
	actions  platform.ActionExecutor
	records  Records
	notifier *notifier.Notifier
	stream   *notifier.IncidentStream
	incident *logging.IncidentLogger
	cooldown *CooldownManager

	mu     sync.RWMutex
	selfID string

	wg sync.WaitGroup
}

type ExecutorOption func(*Executor)

func WithNotifier(n *notifier.Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

func WithIncidentStream(s *notifier.IncidentStream) ExecutorOption {
	return func(e *Executor) { e.stream = s }
}

func WithIncidentLogger(l *logging.IncidentLogger) ExecutorOption {
	return func(e *Executor) { e.incident = l }
}

func NewExecutor(store TenantStore, actions platform.ActionExecutor, records Records, cooldown *CooldownManager, opts ...ExecutorOption) *Executor {
	if cooldown == nil {
		cooldown = NewCooldownManager(10 * time.Second)
	}
	e := &Executor{
		store:    store,
		actions:  actions,
		records:  records,
		cooldown: cooldown,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetSelfID sets the id recorded as banned_by.
func (e *Executor) SetSelfID(id string) {
	e.mu.Lock()
	e.selfID = id
	e.mu.Unlock()
}

// Punish runs the configured punishment against actorID.
func (e *Executor) Punish(ctx context.Context, tenantID, actorID, reason string) error {
	return e.execute(ctx, Request{TenantID: tenantID, ActorID: actorID, Reason: reason})
}

// PunishThreat punishes the actor of a threatening event.
func (e *Executor) PunishThreat(ctx context.Context, ev models.ActionEvent, verdict models.ThreatAssessment) error {
	return e.execute(ctx, Request{
		TenantID:    ev.TenantID,
		ActorID:     ev.ActorID,
		Verb:        ev.Verb,
		ActionCount: verdict.ActionCount,
		Reason:      verdict.Reason,
	})
}

// PunishAsync runs the punishment on its own goroutine and logs the outcome.
func (e *Executor) PunishAsync(ctx context.Context, req Request) {
	base := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		pctx, cancel := context.WithTimeout(base, punishTimeout)
		defer cancel()
		if err := e.execute(pctx, req); err != nil {
			logging.Error("[PUNISH] %s in %s: %v", req.ActorID, req.TenantID, err)
		}
	}()
}

// Wait blocks until every PunishAsync call has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) execute(ctx context.Context, req Request) error {
	cfg := e.store.Get(req.TenantID)
	action, ok := cfg.Punishment.ActionFor()
	if !ok {
		err := fmt.Errorf("tenant %s punishment %q: %w", req.TenantID, cfg.Punishment, models.ErrConfiguration)
		logging.Error("[PUNISH] %v", err)
		return err
	}

	if !e.cooldown.Acquire(req.TenantID, req.ActorID) {
		logging.Debug("[PUNISH] %s in %s still cooling down, skipped", req.ActorID, req.TenantID)
		return nil
	}

	reason := req.Reason
	if reason == "" {
		reason = "Anti-nuke protection triggered"
	}
	auditReason := "Antinuke: " + reason

	start := time.Now()
	err := e.actions.ExecuteAction(ctx, req.TenantID, action, req.ActorID, auditReason)
	metrics.Punishments.WithLabelValues(string(cfg.Punishment), metrics.Outcome(err)).Inc()
	if err != nil {
		e.cooldown.Release(req.TenantID, req.ActorID)
		e.report(req, action, "failed")
		return fmt.Errorf("%s %s: %w", action, req.ActorID, err)
	}

	logging.Info("[PUNISH] %s %s in %s (%s) in %s", action, req.ActorID, req.TenantID, reason, time.Since(start))

	cfg = e.store.Update(req.TenantID, func(c *config.TenantConfig) {
		c.ThreatsBlocked++
	})

	e.persist(req, action, reason)
	e.report(req, action, "success")

	if err := e.notifier.SendAlert(notifier.Alert{
		TenantID:  req.TenantID,
		ChannelID: cfg.LogChannelID,
		ActorID:   req.ActorID,
		Action:    action.String(),
		Reason:    reason,
		At:        start,
	}); err != nil {
		logging.Debug("[PUNISH] Alert not delivered: %v", err)
	}
	return nil
}

func (e *Executor) persist(req Request, action models.ActionType, reason string) {
	if e.records == nil {
		return
	}

	if action == models.ActionBan {
		e.mu.RLock()
		self := e.selfID
		e.mu.RUnlock()
		if err := e.records.AddBannedUser(req.TenantID, req.ActorID, reason, self); err != nil {
			logging.Warn("[PUNISH] Failed to record ban of %s: %v", req.ActorID, err)
		}
	}

	if err := e.records.LogEvent(&database.EventLog{
		GuildID:     req.TenantID,
		Verb:        req.Verb.String(),
		ActorID:     req.ActorID,
		ActionTaken: action.String(),
		Reason:      reason,
	}); err != nil {
		logging.Warn("[PUNISH] Failed to log event for %s: %v", req.ActorID, err)
	}
}

func (e *Executor) report(req Request, action models.ActionType, outcome string) {
	e.incident.Log(&logging.IncidentLogEntry{
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		Verb:        req.Verb.String(),
		ActionCount: req.ActionCount,
		Action:      action.String(),
		Reason:      req.Reason,
		Outcome:     outcome,
	})

	if e.stream == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.stream.Publish(ctx, notifier.Incident{
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		Verb:        req.Verb.String(),
		ActionCount: req.ActionCount,
		Action:      action.String(),
		Reason:      req.Reason,
		Outcome:     outcome,
		At:          time.Now(),
	}); err != nil {
		logging.Debug("[STREAM] Incident not published: %v", err)
	}
}
