package detectors

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

const (
	roleLookupTimeout  = 5 * time.Second
	roleResolveTimeout = 2 * time.Second
)

// RoleResolver answers "which roles does this member hold". Roles never
// blocks: a miss starts a background lookup and reports unknown. Resolve is
// the bounded synchronous path for the few decisions that cannot wait.
type RoleResolver struct {
	lookup platform.RoleLookup
	cache  *expirable.LRU[string, []string]

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewRoleResolver(lookup platform.RoleLookup, size int, ttl time.Duration) *RoleResolver {
	if size < 1 {
		size = 10000
	}
	return &RoleResolver{
		lookup:   lookup,
		cache:    expirable.NewLRU[string, []string](size, nil, ttl),
		inflight: make(map[string]struct{}),
	}
}

// Roles returns the cached roles of a member. When nothing is cached it
// schedules a lookup and returns false.
func (r *RoleResolver) Roles(ctx context.Context, tenantID, userID string) ([]string, bool) {
	key := historyKey(tenantID, userID)
	if roles, ok := r.cache.Get(key); ok {
		return roles, true
	}

	r.mu.Lock()
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return nil, false
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	// The lookup outlives the event that triggered it.
	base := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()

		lookupCtx, cancel := context.WithTimeout(base, roleLookupTimeout)
		defer cancel()

		roles, err := r.lookup.MemberRoles(lookupCtx, tenantID, userID)
		if err != nil {
			logging.Debug("[DETECT] Role lookup for %s in %s failed: %v", userID, tenantID, err)
			return
		}
		r.cache.Add(key, roles)
	}()

	return nil, false
}

// Resolve looks a member up synchronously, bounded by roleResolveTimeout, and
// caches the answer. A cached answer is returned without a lookup.
func (r *RoleResolver) Resolve(ctx context.Context, tenantID, userID string) ([]string, bool) {
	key := historyKey(tenantID, userID)
	if roles, ok := r.cache.Get(key); ok {
		return roles, true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, roleResolveTimeout)
	defer cancel()

	roles, err := r.lookup.MemberRoles(lookupCtx, tenantID, userID)
	if err != nil {
		logging.Debug("[DETECT] Role resolve for %s in %s failed: %v", userID, tenantID, err)
		return nil, false
	}
	r.cache.Add(key, roles)
	return roles, true
}

// Seed fills the cache from a bulk member listing such as a snapshot.
func (r *RoleResolver) Seed(tenantID string, members map[string][]string) {
	for userID, roles := range members {
		r.cache.Add(historyKey(tenantID, userID), append([]string(nil), roles...))
	}
}

// Invalidate drops a cached answer. The gateway calls it when a member's
// roles change.
func (r *RoleResolver) Invalidate(tenantID, userID string) {
	r.cache.Remove(historyKey(tenantID, userID))
}

// Wait blocks until every pending lookup has finished.
func (r *RoleResolver) Wait() {
	r.wg.Wait()
}
