package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecentIDs is a per-tenant bounded window of recently seen source ids.
// When a tenant's ring is full the oldest id is evicted to admit the newest,
// so deduplication is best effort: an id evicted and seen again passes twice.
type RecentIDs struct {
	capacity int
	tenants  sync.Map // tenantID -> *idRing
}

type idRing struct {
	mu   sync.Mutex
	ids  []string
	next int
	full bool
	set  map[string]struct{}
}

func NewRecentIDs(capacity int) *RecentIDs {
	if capacity < 1 {
		capacity = 100
	}
	return &RecentIDs{capacity: capacity}
}

// Seen reports whether id was already recorded for the tenant and records it
// if not. Empty ids are never deduplicated.
func (r *RecentIDs) Seen(tenantID, id string) bool {
	if id == "" {
		return false
	}

	v, ok := r.tenants.Load(tenantID)
	if !ok {
		v, _ = r.tenants.LoadOrStore(tenantID, &idRing{
			ids: make([]string, r.capacity),
			set: make(map[string]struct{}, r.capacity),
		})
	}
	ring := v.(*idRing)

	ring.mu.Lock()
	defer ring.mu.Unlock()

	if _, dup := ring.set[id]; dup {
		return true
	}

	if ring.full {
		delete(ring.set, ring.ids[ring.next])
	}
	ring.ids[ring.next] = id
	ring.set[id] = struct{}{}
	ring.next = (ring.next + 1) % len(ring.ids)
	if ring.next == 0 {
		ring.full = true
	}
	return false
}

// Len returns the number of ids held for a tenant.
func (r *RecentIDs) Len(tenantID string) int {
	v, ok := r.tenants.Load(tenantID)
	if !ok {
		return 0
	}
	ring := v.(*idRing)
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return len(ring.set)
}

// Forget drops a tenant's window, e.g. when the bot leaves the guild.
func (r *RecentIDs) Forget(tenantID string) {
	r.tenants.Delete(tenantID)
}

// SharedDeduper claims source ids in redis so several replicas watching the
// same guilds process each audit entry once.
type SharedDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewSharedDeduper(url string, ttl time.Duration) (*SharedDeduper, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &SharedDeduper{rdb: rdb, ttl: ttl, prefix: "antinuke:seen:"}, nil
}

// Claim returns true if this replica is the first to see the id.
func (d *SharedDeduper) Claim(ctx context.Context, tenantID, id string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+tenantID+":"+id, 1, d.ttl).Result()
}

func (d *SharedDeduper) Close() error {
	return d.rdb.Close()
}
