package decision

import (
	"sync"
	"time"
)

// CooldownManager suppresses repeated remediation against the same actor
// while a burst is still being reported.
type CooldownManager struct {
	mu        sync.Mutex
	cooldowns map[string]map[string]time.Time
	duration  time.Duration
	now       func() time.Time
}

func NewCooldownManager(duration time.Duration) *CooldownManager {
	return &CooldownManager{
		cooldowns: make(map[string]map[string]time.Time),
		duration:  duration,
		now:       time.Now,
	}
}

// Acquire records an execution for (tenantID, actorID) unless one happened
// within the cooldown. It returns false when the caller should skip.
func (cm *CooldownManager) Acquire(tenantID, actorID string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := cm.now()
	tenant, ok := cm.cooldowns[tenantID]
	if !ok {
		tenant = make(map[string]time.Time)
		cm.cooldowns[tenantID] = tenant
	}
	if last, ok := tenant[actorID]; ok && now.Sub(last) < cm.duration {
		return false
	}
	tenant[actorID] = now
	return true
}

// Release clears the cooldown of one actor so the next report retries.
func (cm *CooldownManager) Release(tenantID, actorID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.cooldowns[tenantID], actorID)
}

func (cm *CooldownManager) Reset(tenantID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.cooldowns, tenantID)
}

func (cm *CooldownManager) Remaining(tenantID, actorID string) time.Duration {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	last, ok := cm.cooldowns[tenantID][actorID]
	if !ok {
		return 0
	}
	remaining := cm.duration - cm.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune drops expired entries.
func (cm *CooldownManager) Prune() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := cm.now()
	for tenantID, actors := range cm.cooldowns {
		for actorID, last := range actors {
			if now.Sub(last) >= cm.duration {
				delete(actors, actorID)
			}
		}
		if len(actors) == 0 {
			delete(cm.cooldowns, tenantID)
		}
	}
}
