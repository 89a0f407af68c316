package detectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

// ConfigSource returns a tenant's protection profile.
type ConfigSource interface {
	Get(tenantID string) *config.TenantConfig
}

type Options struct {
	Window        time.Duration
	Retention     time.Duration
	MaxTracked    int
	RaidThreshold int
	RaidWindow    time.Duration
	Defaults      config.ThresholdMatrix
	Clock         Clock
}

func (o *Options) setDefaults() {
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 5 * time.Minute
	}
	if o.MaxTracked <= 0 {
		o.MaxTracked = 50000
	}
	if o.RaidThreshold <= 0 {
		o.RaidThreshold = 10
	}
	if o.RaidWindow <= 0 {
		o.RaidWindow = 10 * time.Second
	}
	if o.Defaults == nil {
		o.Defaults = config.NewThresholdMatrix()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Detector decides whether an actor's recent privileged actions add up to
// an attack.
type Detector struct {
	configs ConfigSource
	roles   *RoleResolver
	history *History
	opts    Options

	raidMu sync.Mutex
	joins  map[string][]time.Time
}

func NewDetector(configs ConfigSource, roles *RoleResolver, opts Options) *Detector {
	opts.setDefaults()
	return &Detector{
		configs: configs,
		roles:   roles,
		history: NewHistory(opts.MaxTracked),
		opts:    opts,
		joins:   make(map[string][]time.Time),
	}
}

// Evaluate records ev in the actor's history and compares the count inside
// the trailing window with the tenant's threshold. The threshold is inclusive.
func (d *Detector) Evaluate(ctx context.Context, ev models.ActionEvent) models.ThreatAssessment {
	cfg := d.configs.Get(ev.TenantID)
	if cfg == nil || !cfg.ProtectionEnabled(ev.Verb) {
		return models.ThreatAssessment{Reason: "protection disabled"}
	}
	whitelisted, known := d.isWhitelisted(ctx, cfg, ev.ActorID)
	if whitelisted {
		return models.ThreatAssessment{Reason: "whitelisted"}
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = d.opts.Clock()
	}

	count := d.history.Record(ev.TenantID, ev.ActorID, ev.Verb, at, d.opts.Window)
	limit := d.threshold(cfg, ev.Verb)
	if count < limit {
		return models.ThreatAssessment{ActionCount: count}
	}

	// Resolve an unknown role set before calling it a threat.
	if !known {
		roles, ok := d.roles.Resolve(ctx, cfg.TenantID, ev.ActorID)
		if ok && cfg.HasWhitelistedRole(roles) {
			logging.Debug("[DETECT] %s in %s holds a whitelisted role, threat dropped", ev.ActorID, ev.TenantID)
			return models.ThreatAssessment{Reason: "whitelisted"}
		}
	}

	metrics.ThreatsDetected.WithLabelValues(ev.Verb.String()).Inc()
	logging.Warn("[DETECT] %s by %s in %s: %d/%d within %s",
		ev.Verb.DisplayName(), ev.ActorID, ev.TenantID, count, limit, d.opts.Window)

	return models.ThreatAssessment{
		IsThreat:    true,
		ActionCount: count,
		Reason:      fmt.Sprintf("%s limit exceeded (%d/%d)", ev.Verb.DisplayName(), count, limit),
	}
}

func (d *Detector) threshold(cfg *config.TenantConfig, v models.Verb) int {
	if n := cfg.Thresholds[v]; n > 0 {
		return n
	}
	return d.opts.Defaults.For(v)
}

// isWhitelisted never waits on the platform. known is false when the actor's
// role set was not cached and whitelisted roles could still apply.
func (d *Detector) isWhitelisted(ctx context.Context, cfg *config.TenantConfig, actorID string) (whitelisted, known bool) {
	if cfg.IsTrustedUser(actorID) {
		return true, true
	}
	if len(cfg.WhitelistRoles) == 0 || d.roles == nil {
		return false, true
	}
	roles, ok := d.roles.Roles(ctx, cfg.TenantID, actorID)
	if !ok {
		return false, false
	}
	return cfg.HasWhitelistedRole(roles), true
}

// CheckRaid records a join and reports whether the tenant's joins inside the
// raid window reached the raid threshold.
func (d *Detector) CheckRaid(tenantID string, at time.Time) bool {
	if at.IsZero() {
		at = d.opts.Clock()
	}
	cutoff := at.Add(-d.opts.RaidWindow)

	d.raidMu.Lock()
	window := d.joins[tenantID]
	kept := window[:0]
	for _, t := range window {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	d.joins[tenantID] = kept
	n := len(kept)
	d.raidMu.Unlock()

	if n >= d.opts.RaidThreshold {
		metrics.RaidsDetected.Inc()
		return true
	}
	return false
}

// Sweep prunes history older than the retention period and drops empty
// trackers and join windows. It returns the number of trackers removed.
func (d *Detector) Sweep(now time.Time) int {
	removed := d.history.Prune(now.Add(-d.opts.Retention))

	raidCutoff := now.Add(-d.opts.RaidWindow)
	d.raidMu.Lock()
	for tenantID, window := range d.joins {
		if len(window) == 0 || window[len(window)-1].Before(raidCutoff) {
			delete(d.joins, tenantID)
		}
	}
	d.raidMu.Unlock()

	return removed
}

// Tracked is the number of actor histories currently held.
func (d *Detector) Tracked() int {
	return d.history.Len()
}

// ActionCount reports the actor's current count for a verb without recording.
func (d *Detector) ActionCount(tenantID, actorID string, v models.Verb) int {
	return d.history.Count(tenantID, actorID, v, d.opts.Clock(), d.opts.Window)
}
