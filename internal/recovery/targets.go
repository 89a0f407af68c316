package recovery

import (
	"slices"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type targetKey struct {
	tenantID string
	actorID  string
	verb     models.Verb
}

type pendingTargets struct {
	ids  []string
	last time.Time
}

// DeletionTracker accumulates the targets of destructive actions per
// (tenant, actor, verb) so an attacker's burst is restored as a whole once it
// is confirmed.
type DeletionTracker struct {
	mu      sync.Mutex
	pending map[targetKey]*pendingTargets
	now     func() time.Time
}

func NewDeletionTracker() *DeletionTracker {
	return &DeletionTracker{
		pending: make(map[targetKey]*pendingTargets),
		now:     time.Now,
	}
}

// Track records one target. Empty ids and repeats are ignored.
func (t *DeletionTracker) Track(tenantID, actorID string, v models.Verb, targetID string) {
	if targetID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := targetKey{tenantID, actorID, v}
	p, ok := t.pending[key]
	if !ok {
		p = &pendingTargets{}
		t.pending[key] = p
	}
	p.last = t.now()
	if !slices.Contains(p.ids, targetID) {
		p.ids = append(p.ids, targetID)
	}
}

// Drain returns and clears the targets recorded for (tenant, actor, verb).
func (t *DeletionTracker) Drain(tenantID, actorID string, v models.Verb) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := targetKey{tenantID, actorID, v}
	p, ok := t.pending[key]
	if !ok {
		return nil
	}
	delete(t.pending, key)
	return p.ids
}

// Clear forgets everything pending for a tenant.
func (t *DeletionTracker) Clear(tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.pending {
		if key.tenantID == tenantID {
			delete(t.pending, key)
		}
	}
}

// Prune drops entries not touched since cutoff and returns how many went.
func (t *DeletionTracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key, p := range t.pending {
		if p.last.Before(cutoff) {
			delete(t.pending, key)
			n++
		}
	}
	return n
}
