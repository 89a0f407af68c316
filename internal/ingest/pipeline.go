package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// Claimer is a cross-replica dedup check consulted after the local window.
type Claimer interface {
	Claim(ctx context.Context, tenantID, id string) (bool, error)
}

// Pipeline merges the push and poll producers into one stream of
// ActionEvents. Both producers share the same dedup window.
type Pipeline struct {
	normalizer *Normalizer
	recent     *RecentIDs
	shared     Claimer

	events chan models.ActionEvent
	joins  chan models.JoinEvent

	hookMu   sync.RWMutex
	onReady  func(tenantID, ownerID string)
	onMember func(tenantID, userID string)
}

func NewPipeline(normalizer *Normalizer, recent *RecentIDs, buffer int) *Pipeline {
	if buffer < 1 {
		buffer = 1024
	}
	return &Pipeline{
		normalizer: normalizer,
		recent:     recent,
		events:     make(chan models.ActionEvent, buffer),
		joins:      make(chan models.JoinEvent, buffer),
	}
}

// WithClaimer enables cross-replica deduplication.
func (p *Pipeline) WithClaimer(c Claimer) *Pipeline {
	p.shared = c
	return p
}

// OnTenantReady registers the callback run when a guild becomes available.
func (p *Pipeline) OnTenantReady(fn func(tenantID, ownerID string)) {
	p.hookMu.Lock()
	p.onReady = fn
	p.hookMu.Unlock()
}

// OnMemberUpdate registers the callback run when a member's roles may have
// changed.
func (p *Pipeline) OnMemberUpdate(fn func(tenantID, userID string)) {
	p.hookMu.Lock()
	p.onMember = fn
	p.hookMu.Unlock()
}

func (p *Pipeline) Events() <-chan models.ActionEvent {
	return p.events
}

func (p *Pipeline) Joins() <-chan models.JoinEvent {
	return p.joins
}

func (p *Pipeline) Normalizer() *Normalizer {
	return p.normalizer
}

// Submit deduplicates and forwards a normalized event. It never blocks; a
// full queue drops the event.
func (p *Pipeline) Submit(ev models.ActionEvent, source string) bool {
	if p.recent.Seen(ev.TenantID, ev.SourceID) {
		metrics.EventsDeduplicated.WithLabelValues(source).Inc()
		return false
	}

	if p.shared != nil && ev.SourceID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		claimed, err := p.shared.Claim(ctx, ev.TenantID, ev.SourceID)
		cancel()
		if err != nil {
			logging.Debug("[INGEST] shared dedup unavailable for %s/%s: %v", ev.TenantID, ev.SourceID, err)
		} else if !claimed {
			metrics.EventsDeduplicated.WithLabelValues(source).Inc()
			return false
		}
	}

	select {
	case p.events <- ev:
		metrics.EventsIngested.WithLabelValues(source).Inc()
		return true
	default:
		metrics.EventsDropped.Inc()
		logging.Warn("[INGEST] Event queue full, dropped %s by %s in %s", ev.Verb, ev.ActorID, ev.TenantID)
		return false
	}
}

// HandleAudit is the push producer: a live audit-log entry from the gateway.
func (p *Pipeline) HandleAudit(tenantID string, rec platform.AuditRecord) {
	ev, ok := p.normalizer.FromAuditRecord(tenantID, rec)
	if !ok {
		return
	}
	p.Submit(ev, SourcePush)
}

func (p *Pipeline) HandleJoin(join models.JoinEvent) {
	if join.Timestamp.IsZero() {
		join.Timestamp = time.Now()
	}
	select {
	case p.joins <- join:
	default:
		metrics.EventsDropped.Inc()
		logging.Warn("[INGEST] Join queue full, dropped join of %s in %s", join.UserID, join.TenantID)
	}
}

func (p *Pipeline) HandleTenantReady(tenantID, ownerID string) {
	p.hookMu.RLock()
	fn := p.onReady
	p.hookMu.RUnlock()
	if fn != nil {
		fn(tenantID, ownerID)
	}
}

func (p *Pipeline) HandleMemberUpdate(tenantID, userID string) {
	p.hookMu.RLock()
	fn := p.onMember
	p.hookMu.RUnlock()
	if fn != nil {
		fn(tenantID, userID)
	}
}

var _ platform.EventHandler = (*Pipeline)(nil)
