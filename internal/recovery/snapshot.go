package recovery

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

// Snapshot is a point-in-time copy of a tenant's restorable state. It is
// never modified after capture.
type Snapshot struct {
	TenantID    string
	CapturedAt  time.Time
	Roles       []platform.Role
	Channels    []platform.Channel
	MemberRoles map[string][]string
	Webhooks    []platform.Webhook

	// Complete is false when a section could not be fetched; Failures names
	// the missing sections.
	Complete bool
	Failures []string
}

func (s *Snapshot) Role(id string) (platform.Role, bool) {
	for _, r := range s.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return platform.Role{}, false
}

func (s *Snapshot) Channel(id string) (platform.Channel, bool) {
	for _, c := range s.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return platform.Channel{}, false
}

type SnapshotState uint8

const (
	StateNone SnapshotState = iota
	StateCapturing
	StateCurrent
)

func (s SnapshotState) String() string {
	switch s {
	case StateCapturing:
		return "CAPTURING"
	case StateCurrent:
		return "CURRENT"
	default:
		return "NONE"
	}
}

// SnapshotCache holds the current snapshot per tenant, bounded in size and age.
type SnapshotCache struct {
	lru *expirable.LRU[string, *Snapshot]
}

func NewSnapshotCache(size int, ttl time.Duration) *SnapshotCache {
	if size < 1 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{lru: expirable.NewLRU[string, *Snapshot](size, nil, ttl)}
}

func (c *SnapshotCache) Put(s *Snapshot) {
	c.lru.Add(s.TenantID, s)
	metrics.SnapshotCacheSize.Set(float64(c.lru.Len()))
}

func (c *SnapshotCache) Get(tenantID string) (*Snapshot, bool) {
	return c.lru.Get(tenantID)
}

func (c *SnapshotCache) Remove(tenantID string) {
	c.lru.Remove(tenantID)
	metrics.SnapshotCacheSize.Set(float64(c.lru.Len()))
}

func (c *SnapshotCache) Len() int {
	return c.lru.Len()
}
