package ingest

import (
	"sync/atomic"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

// Normalizer turns platform audit records into ActionEvents.
type Normalizer struct {
	maxAge     time.Duration
	kickMaxAge time.Duration
	selfID     atomic.Value
	now        func() time.Time
}

// NewNormalizer drops records older than maxAge, and kicks older than
// kickMaxAge. Zero disables either limit.
func NewNormalizer(maxAge, kickMaxAge time.Duration) *Normalizer {
	n := &Normalizer{
		maxAge:     maxAge,
		kickMaxAge: kickMaxAge,
		now:        time.Now,
	}
	n.selfID.Store("")
	return n
}

// SetSelfID sets the bot's own user id; its actions (recovery, punishment)
// are never evaluated.
func (n *Normalizer) SetSelfID(id string) {
	n.selfID.Store(id)
}

// FromAuditRecord returns false for records that carry no detectable action:
// unknown action codes, records without an actor, our own actions and stale records.
func (n *Normalizer) FromAuditRecord(tenantID string, rec platform.AuditRecord) (models.ActionEvent, bool) {
	verb, ok := models.VerbFromAuditAction(rec.ActionType)
	if !ok {
		return models.ActionEvent{}, false
	}
	return n.FromPush(tenantID, verb, rec.ActorID, rec.TargetID, rec.Time, rec.ID)
}

// FromPush builds an event from an already classified live callback. A zero
// at is stamped with the current time.
func (n *Normalizer) FromPush(tenantID string, verb models.Verb, actorID, targetID string, at time.Time, sourceID string) (models.ActionEvent, bool) {
	if !verb.Valid() || actorID == "" || tenantID == "" {
		return models.ActionEvent{}, false
	}
	if actorID == n.selfID.Load().(string) {
		return models.ActionEvent{}, false
	}

	if at.IsZero() {
		at = n.now()
	}

	// A record older than the detection window is history, not an attack.
	age := n.now().Sub(at)
	if n.maxAge > 0 && age > n.maxAge {
		return models.ActionEvent{}, false
	}
	if verb == models.VerbKick && n.kickMaxAge > 0 && age > n.kickMaxAge {
		return models.ActionEvent{}, false
	}

	return models.ActionEvent{
		TenantID:  tenantID,
		ActorID:   actorID,
		Verb:      verb,
		TargetID:  targetID,
		Timestamp: at,
		SourceID:  sourceID,
	}, true
}
