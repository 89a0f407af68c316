package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

// Platform is what the engine needs from the chat platform.
type Platform interface {
	platform.StateFetcher
	platform.Restorer
	platform.ActionExecutor
}

// TenantStore receives snapshot and recovery bookkeeping.
type TenantStore interface {
	Update(tenantID string, fn func(cfg *config.TenantConfig)) *config.TenantConfig
}

// maxSuspension bounds how long back-to-back Suspend calls can hold off
// scheduled captures before a snapshot is taken again.
const maxSuspension = 15 * time.Minute

type suspension struct {
	since time.Time
	until time.Time
}

// Engine captures tenant snapshots and restores state from them.
type Engine struct {
	client      Platform
	cache       *SnapshotCache
	store       TenantStore
	concurrency int
	maxSuspend  time.Duration
	now         func() time.Time
	onSnapshot  func(*Snapshot)

	mu        sync.Mutex
	states    map[string]SnapshotState
	running   map[string]bool
	suspended map[string]suspension
	recreated map[string]map[string]string // tenant -> old id -> new id
}

func NewEngine(client Platform, cache *SnapshotCache, store TenantStore, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 10
	}
	return &Engine{
		client:      client,
		cache:       cache,
		store:       store,
		concurrency: concurrency,
		maxSuspend:  maxSuspension,
		now:         time.Now,
		states:      make(map[string]SnapshotState),
		running:     make(map[string]bool),
		suspended:   make(map[string]suspension),
		recreated:   make(map[string]map[string]string),
	}
}

// State reports the snapshot lifecycle of a tenant. A snapshot that aged out
// of the cache reads as NONE.
func (e *Engine) State(tenantID string) SnapshotState {
	e.mu.Lock()
	state := e.states[tenantID]
	e.mu.Unlock()

	if state == StateCurrent {
		if _, ok := e.cache.Get(tenantID); !ok {
			return StateNone
		}
	}
	return state
}

func (e *Engine) Snapshot(tenantID string) (*Snapshot, bool) {
	return e.cache.Get(tenantID)
}

// OnSnapshot registers fn to receive every successfully captured snapshot.
func (e *Engine) OnSnapshot(fn func(*Snapshot)) {
	e.onSnapshot = fn
}

// Suspend pauses scheduled captures for a tenant until d has passed, so a
// snapshot is not taken in the middle of an attack. A suspension that keeps
// being extended ends maxSuspend after it started and is not renewed until
// a capture has run.
func (e *Engine) Suspend(tenantID string, d time.Duration) {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.suspended[tenantID]
	limit := s.since.Add(e.maxSuspend)
	if !ok || (now.After(s.until) && s.until.Before(limit)) {
		s = suspension{since: now}
		limit = now.Add(e.maxSuspend)
	}
	until := now.Add(d)
	if until.After(limit) {
		until = limit
	}
	if until.After(s.until) {
		s.until = until
	}
	e.suspended[tenantID] = s
}

func (e *Engine) Suspended(tenantID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.suspended[tenantID]
	return ok && e.now().Before(s.until)
}

// CaptureSnapshot fetches every section concurrently and replaces the
// current snapshot. Failed sections are left empty and listed in Failures.
// If no section could be fetched the previous snapshot is kept.
func (e *Engine) CaptureSnapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	e.mu.Lock()
	prev := e.states[tenantID]
	e.states[tenantID] = StateCapturing
	e.mu.Unlock()

	snap := &Snapshot{TenantID: tenantID, CapturedAt: time.Now()}
	var (
		failMu   sync.Mutex
		failures []string
	)
	fail := func(section string, err error) {
		logging.Warn("[SNAPSHOT] %s of %s unavailable: %v", section, tenantID, err)
		failMu.Lock()
		failures = append(failures, section)
		failMu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		roles, err := e.client.FetchRoles(ctx, tenantID)
		if err != nil {
			fail("roles", err)
			return nil
		}
		snap.Roles = roles
		return nil
	})
	g.Go(func() error {
		channels, err := e.client.FetchChannels(ctx, tenantID)
		if err != nil {
			fail("channels", err)
			return nil
		}
		snap.Channels = channels
		return nil
	})
	g.Go(func() error {
		members, err := e.client.FetchMemberRoles(ctx, tenantID)
		if err != nil {
			fail("members", err)
			return nil
		}
		snap.MemberRoles = members
		return nil
	})
	g.Go(func() error {
		hooks, err := e.client.FetchWebhooks(ctx, tenantID)
		if err != nil {
			fail("webhooks", err)
			return nil
		}
		snap.Webhooks = hooks
		return nil
	})
	_ = g.Wait()

	slices.Sort(failures)
	snap.Failures = failures
	snap.Complete = len(failures) == 0

	if len(failures) == 4 {
		e.mu.Lock()
		e.states[tenantID] = prev
		e.mu.Unlock()
		metrics.SnapshotsCaptured.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("snapshot of %s: every section failed: %w", tenantID, models.ErrTransientNetwork)
	}

	e.cache.Put(snap)
	e.mu.Lock()
	e.states[tenantID] = StateCurrent
	delete(e.recreated, tenantID)
	if s, ok := e.suspended[tenantID]; ok && !e.now().Before(s.until) {
		delete(e.suspended, tenantID)
	}
	e.mu.Unlock()

	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}

	if e.store != nil {
		e.store.Update(tenantID, func(cfg *config.TenantConfig) {
			cfg.LastSnapshotAt = snap.CapturedAt
		})
	}

	metrics.SnapshotsCaptured.WithLabelValues(fmt.Sprint(snap.Complete)).Inc()
	logging.Debug("[SNAPSHOT] %s: %d roles, %d channels, %d members, %d webhooks (complete=%v)",
		tenantID, len(snap.Roles), len(snap.Channels), len(snap.MemberRoles), len(snap.Webhooks), snap.Complete)
	return snap, nil
}

type task struct {
	id   string
	name string
	run  func(ctx context.Context) (newID string, err error)
}

// runTasks executes tasks on the bounded pool. Tasks never cancel their
// siblings; once ctx is done no further task is started.
func (e *Engine) runTasks(ctx context.Context, op string, tasks []task) *models.RecoveryResult {
	res := &models.RecoveryResult{Success: true}
	if len(tasks) == 0 {
		return res
	}

	items := make([]models.ItemResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, t := range tasks {
		items[i] = models.ItemResult{ID: t.id, Name: t.name}
		if err := ctx.Err(); err != nil {
			items[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			newID, err := t.run(ctx)
			items[i].NewID = newID
			items[i].Err = err
			metrics.RecoveryItems.WithLabelValues(op, metrics.Outcome(err)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	res.Items = items
	for _, item := range items {
		if item.OK() {
			res.ItemsRecovered++
		}
	}
	return res
}

func (e *Engine) rememberRecreated(tenantID string, items []models.ItemResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.recreated[tenantID]
	if m == nil {
		m = make(map[string]string)
		e.recreated[tenantID] = m
	}
	for _, item := range items {
		if item.OK() && item.NewID != "" {
			m[item.ID] = item.NewID
		}
	}
}

func (e *Engine) mapID(tenantID, id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if newID, ok := e.recreated[tenantID][id]; ok {
		return newID
	}
	return id
}

func finish(res *models.RecoveryResult, op string, start time.Time) *models.RecoveryResult {
	res.Duration = time.Since(start)
	metrics.RecoveryDuration.WithLabelValues(op).Observe(res.Duration.Seconds())

	failed := len(res.Failed())
	switch {
	case res.Err != nil && !res.Success:
		if res.Message == "" {
			res.Message = res.Err.Error()
		}
	case failed > 0:
		if res.Err == nil {
			res.Err = fmt.Errorf("%d of %d items failed: %w", failed, len(res.Items), models.ErrPartialFailure)
		}
		res.Message = fmt.Sprintf("Restored %d of %d", res.ItemsRecovered, len(res.Items))
	default:
		res.Message = fmt.Sprintf("Restored %d", res.ItemsRecovered)
	}
	if res.Degraded {
		res.Message += " (snapshot incomplete)"
	}
	return res
}

func unavailable(tenantID string) *models.RecoveryResult {
	return &models.RecoveryResult{
		Success: false,
		Err:     fmt.Errorf("no snapshot for %s: %w", tenantID, models.ErrRecoveryUnavailable),
	}
}

func newRunID() string {
	return uuid.NewString()
}

// RecoverRoles recreates every id that is present in the snapshot.
func (e *Engine) RecoverRoles(ctx context.Context, tenantID string, ids []string) *models.RecoveryResult {
	start := time.Now()
	runID := newRunID()
	if len(ids) == 0 {
		res := &models.RecoveryResult{RunID: runID, Success: true}
		return finish(res, "roles", start)
	}

	snap, ok := e.cache.Get(tenantID)
	if !ok {
		res := unavailable(tenantID)
		res.RunID = runID
		return finish(res, "roles", start)
	}

	var tasks []task
	for _, id := range ids {
		role, ok := snap.Role(id)
		if !ok || role.Managed || role.ID == tenantID {
			logging.Debug("[RECOVERY] Role %s of %s is not restorable from snapshot", id, tenantID)
			continue
		}
		tasks = append(tasks, task{
			id:   role.ID,
			name: role.Name,
			run: func(ctx context.Context) (string, error) {
				return e.client.CreateRole(ctx, tenantID, role)
			},
		})
	}

	res := e.runTasks(ctx, "roles", tasks)
	res.RunID = runID
	res.Degraded = !snap.Complete
	e.rememberRecreated(tenantID, res.Items)
	logging.Info("[RECOVERY] %s: restored %d/%d roles", tenantID, res.ItemsRecovered, len(tasks))
	return finish(res, "roles", start)
}

// RecoverChannels recreates every id that is present in the snapshot. A
// parent that was recreated in this run is mapped to its new id.
func (e *Engine) RecoverChannels(ctx context.Context, tenantID string, ids []string) *models.RecoveryResult {
	start := time.Now()
	runID := newRunID()
	if len(ids) == 0 {
		res := &models.RecoveryResult{RunID: runID, Success: true}
		return finish(res, "channels", start)
	}

	snap, ok := e.cache.Get(tenantID)
	if !ok {
		res := unavailable(tenantID)
		res.RunID = runID
		return finish(res, "channels", start)
	}

	var categories, others []platform.Channel
	for _, id := range ids {
		ch, ok := snap.Channel(id)
		if !ok {
			logging.Debug("[RECOVERY] Channel %s of %s is not in the snapshot", id, tenantID)
			continue
		}
		if ch.Kind == platform.ChannelCategory {
			categories = append(categories, ch)
		} else {
			others = append(others, ch)
		}
	}

	// Categories go first so their children can point at the new ids.
	res := e.runTasks(ctx, "channels", e.channelTasks(tenantID, categories))
	e.rememberRecreated(tenantID, res.Items)
	children := e.runTasks(ctx, "channels", e.channelTasks(tenantID, others))
	e.rememberRecreated(tenantID, children.Items)
	res.Merge(children)

	res.RunID = runID
	res.Degraded = !snap.Complete
	logging.Info("[RECOVERY] %s: restored %d/%d channels", tenantID, res.ItemsRecovered, len(categories)+len(others))
	return finish(res, "channels", start)
}

func (e *Engine) channelTasks(tenantID string, channels []platform.Channel) []task {
	tasks := make([]task, 0, len(channels))
	for _, ch := range channels {
		if ch.ParentID != "" {
			ch.ParentID = e.mapID(tenantID, ch.ParentID)
		}
		tasks = append(tasks, task{
			id:   ch.ID,
			name: ch.Name,
			run: func(ctx context.Context) (string, error) {
				return e.client.CreateChannel(ctx, tenantID, ch)
			},
		})
	}
	return tasks
}

// RestoreMemberRoles gives a member back the roles recorded in the snapshot.
func (e *Engine) RestoreMemberRoles(ctx context.Context, tenantID, userID string) *models.RecoveryResult {
	start := time.Now()
	snap, ok := e.cache.Get(tenantID)
	if !ok {
		res := unavailable(tenantID)
		res.RunID = newRunID()
		return finish(res, "members", start)
	}

	roles, ok := snap.MemberRoles[userID]
	if !ok {
		res := &models.RecoveryResult{
			RunID:   newRunID(),
			Success: false,
			Err:     fmt.Errorf("member %s not in snapshot of %s: %w", userID, tenantID, models.ErrRecoveryUnavailable),
		}
		return finish(res, "members", start)
	}

	res := e.runTasks(ctx, "members", []task{e.memberTask(tenantID, userID, roles)})
	res.RunID = newRunID()
	res.Degraded = !snap.Complete
	return finish(res, "members", start)
}

func (e *Engine) memberTask(tenantID, userID string, roles []string) task {
	mapped := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == tenantID {
			continue
		}
		mapped = append(mapped, e.mapID(tenantID, r))
	}
	return task{
		id: userID,
		run: func(ctx context.Context) (string, error) {
			return "", e.client.SetMemberRoles(ctx, tenantID, userID, mapped)
		},
	}
}

// MassUnban lifts the ban on every id. One failure does not stop the rest.
func (e *Engine) MassUnban(ctx context.Context, tenantID string, ids []string) *models.RecoveryResult {
	start := time.Now()
	tasks := make([]task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, task{
			id: id,
			run: func(ctx context.Context) (string, error) {
				return "", e.client.ExecuteAction(ctx, tenantID, models.ActionUnban, id, "Antinuke: reverting mass ban")
			},
		})
	}

	res := e.runTasks(ctx, "unban", tasks)
	res.RunID = newRunID()
	logging.Info("[RECOVERY] %s: unbanned %d/%d", tenantID, res.ItemsRecovered, len(tasks))
	return finish(res, "unban", start)
}

func (e *Engine) lock(tenantID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[tenantID] {
		return false
	}
	e.running[tenantID] = true
	return true
}

func (e *Engine) unlock(tenantID string) {
	e.mu.Lock()
	delete(e.running, tenantID)
	e.mu.Unlock()
}

// FullRecovery restores everything missing relative to the snapshot in three
// stages: roles, then channels, then member roles. Each stage finishes before
// the next starts. Only one full recovery runs per tenant at a time.
func (e *Engine) FullRecovery(ctx context.Context, tenantID string) *models.RecoveryResult {
	start := time.Now()
	runID := newRunID()

	if !e.lock(tenantID) {
		res := &models.RecoveryResult{
			RunID: runID,
			Err:   fmt.Errorf("full recovery of %s: %w", tenantID, models.ErrRecoveryInProgress),
		}
		return finish(res, "full", start)
	}
	defer e.unlock(tenantID)

	snap, ok := e.cache.Get(tenantID)
	if !ok {
		res := unavailable(tenantID)
		res.RunID = runID
		return finish(res, "full", start)
	}

	logging.Info("[RECOVERY] Full recovery %s of %s from snapshot taken %s",
		runID, tenantID, snap.CapturedAt.Format(time.RFC3339))

	total := &models.RecoveryResult{RunID: runID, Success: true, Degraded: !snap.Complete}

	// Stage 1: roles.
	missingRoles, err := e.missingRoles(ctx, tenantID, snap)
	if err != nil {
		logging.Warn("[RECOVERY] Skipping role stage of %s: %v", tenantID, err)
		total.Degraded = true
	}
	total.Merge(e.RecoverRoles(ctx, tenantID, missingRoles))

	// Stage 2: channels.
	if ctx.Err() == nil {
		missingChannels, err := e.missingChannels(ctx, tenantID, snap)
		if err != nil {
			logging.Warn("[RECOVERY] Skipping channel stage of %s: %v", tenantID, err)
			total.Degraded = true
		}
		total.Merge(e.RecoverChannels(ctx, tenantID, missingChannels))
	}

	// Stage 3: member roles.
	if ctx.Err() == nil {
		total.Merge(e.restoreMembers(ctx, tenantID, snap))
	}

	if err := ctx.Err(); err != nil {
		total.Err = fmt.Errorf("full recovery of %s interrupted: %w", tenantID, err)
	}

	if total.ItemsRecovered > 0 && e.store != nil {
		e.store.Update(tenantID, func(cfg *config.TenantConfig) {
			cfg.TotalRecoveries++
		})
	}

	res := finish(total, "full", start)
	logging.Info("[RECOVERY] Full recovery %s of %s done in %s: %s", runID, tenantID, res.Duration, res.Message)
	return res
}

// RecoverMissingRoles recreates every snapshotted role absent from the live
// tenant.
func (e *Engine) RecoverMissingRoles(ctx context.Context, tenantID string) *models.RecoveryResult {
	snap, ok := e.cache.Get(tenantID)
	if !ok {
		return finish(unavailable(tenantID), "roles", time.Now())
	}
	missing, err := e.missingRoles(ctx, tenantID, snap)
	if err != nil {
		res := &models.RecoveryResult{RunID: newRunID(), Err: fmt.Errorf("list roles of %s: %w", tenantID, err)}
		return finish(res, "roles", time.Now())
	}
	return e.RecoverRoles(ctx, tenantID, missing)
}

// RecoverMissingChannels recreates every snapshotted channel absent from the
// live tenant, categories first.
func (e *Engine) RecoverMissingChannels(ctx context.Context, tenantID string) *models.RecoveryResult {
	snap, ok := e.cache.Get(tenantID)
	if !ok {
		return finish(unavailable(tenantID), "channels", time.Now())
	}
	missing, err := e.missingChannels(ctx, tenantID, snap)
	if err != nil {
		res := &models.RecoveryResult{RunID: newRunID(), Err: fmt.Errorf("list channels of %s: %w", tenantID, err)}
		return finish(res, "channels", time.Now())
	}
	return e.RecoverChannels(ctx, tenantID, missing)
}

func (e *Engine) missingRoles(ctx context.Context, tenantID string, snap *Snapshot) ([]string, error) {
	live, err := e.client.FetchRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(live))
	for _, r := range live {
		present[r.ID] = true
	}

	var missing []string
	for _, r := range snap.Roles {
		if !present[r.ID] && !present[e.mapID(tenantID, r.ID)] {
			missing = append(missing, r.ID)
		}
	}
	return missing, nil
}

func (e *Engine) missingChannels(ctx context.Context, tenantID string, snap *Snapshot) ([]string, error) {
	live, err := e.client.FetchChannels(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(live))
	for _, c := range live {
		present[c.ID] = true
	}

	var missing []string
	// Categories first so their children can be re-parented.
	for _, c := range snap.Channels {
		if c.Kind == platform.ChannelCategory && !present[c.ID] && !present[e.mapID(tenantID, c.ID)] {
			missing = append(missing, c.ID)
		}
	}
	for _, c := range snap.Channels {
		if c.Kind != platform.ChannelCategory && !present[c.ID] && !present[e.mapID(tenantID, c.ID)] {
			missing = append(missing, c.ID)
		}
	}
	return missing, nil
}

// restoreMembers resets every snapshotted member whose live roles differ.
func (e *Engine) restoreMembers(ctx context.Context, tenantID string, snap *Snapshot) *models.RecoveryResult {
	live, err := e.client.FetchMemberRoles(ctx, tenantID)
	if err != nil {
		logging.Warn("[RECOVERY] Live member roles of %s unavailable, restoring all: %v", tenantID, err)
		live = nil
	}

	var tasks []task
	for userID, roles := range snap.MemberRoles {
		t := e.memberTask(tenantID, userID, roles)
		if current, ok := live[userID]; ok && sameRoles(current, e.mappedRoles(tenantID, roles)) {
			continue
		}
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b task) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	res := e.runTasks(ctx, "members", tasks)
	res.Degraded = !snap.Complete
	return res
}

func (e *Engine) mappedRoles(tenantID string, roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != tenantID {
			out = append(out, e.mapID(tenantID, r))
		}
	}
	return out
}

func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// TriggerRecovery undoes a confirmed burst of destructive actions.
func (e *Engine) TriggerRecovery(ctx context.Context, tenantID string, v models.Verb, targets []string) *models.RecoveryResult {
	var res *models.RecoveryResult
	switch v {
	case models.VerbBan:
		res = e.MassUnban(ctx, tenantID, targets)
	case models.VerbRoleDelete:
		res = e.RecoverRoles(ctx, tenantID, targets)
	case models.VerbChannelDelete:
		res = e.RecoverChannels(ctx, tenantID, targets)
	default:
		return &models.RecoveryResult{Success: true, Message: "nothing to recover for " + v.String()}
	}

	if res.ItemsRecovered > 0 && e.store != nil {
		e.store.Update(tenantID, func(cfg *config.TenantConfig) {
			cfg.TotalRecoveries++
		})
	}
	if res.Err != nil && !errors.Is(res.Err, models.ErrPartialFailure) {
		logging.Warn("[RECOVERY] %s recovery of %s: %v", v, tenantID, res.Err)
	}
	return res
}
