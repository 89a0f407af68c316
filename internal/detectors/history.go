package detectors

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/spaolacci/murmur3"

	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

const historyShards = 32

// tracker is the action history of one actor in one tenant.
type tracker struct {
	byVerb map[models.Verb][]time.Time
}

func (t *tracker) record(v models.Verb, at time.Time) {
	ts := t.byVerb[v]
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(at) })
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = at
	t.byVerb[v] = ts
}

// countSince counts timestamps of v at or after cutoff.
func (t *tracker) countSince(v models.Verb, cutoff time.Time) int {
	ts := t.byVerb[v]
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(cutoff) })
	return len(ts) - i
}

// prune drops timestamps at or before cutoff and reports whether anything is left.
func (t *tracker) prune(cutoff time.Time) bool {
	for v, ts := range t.byVerb {
		i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
		if i == len(ts) {
			delete(t.byVerb, v)
			continue
		}
		if i > 0 {
			t.byVerb[v] = append(ts[:0], ts[i:]...)
		}
	}
	return len(t.byVerb) > 0
}

type historyShard struct {
	mu    sync.Mutex
	cache *simplelru.LRU[string, *tracker]
}

// History keeps per-(tenant, actor) trackers in a bounded LRU split into
// shards by murmur3 hash, so unrelated actors never share a lock.
type History struct {
	shards [historyShards]*historyShard
}

func NewHistory(maxTracked int) *History {
	perShard := maxTracked / historyShards
	if perShard < 1 {
		perShard = 1
	}

	h := &History{}
	for i := range h.shards {
		cache, err := simplelru.NewLRU[string, *tracker](perShard, func(string, *tracker) {
			metrics.TrackedActors.Dec()
		})
		if err != nil {
			// Only returned for a non-positive size.
			panic(err)
		}
		h.shards[i] = &historyShard{cache: cache}
	}
	return h
}

func historyKey(tenantID, actorID string) string {
	return tenantID + "/" + actorID
}

func (h *History) shardFor(key string) *historyShard {
	return h.shards[murmur3.Sum32([]byte(key))%historyShards]
}

// Record appends an action at time at and returns how many actions of the
// same verb the actor performed in [at-window, at].
func (h *History) Record(tenantID, actorID string, v models.Verb, at time.Time, window time.Duration) int {
	key := historyKey(tenantID, actorID)
	shard := h.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	t, ok := shard.cache.Get(key)
	if !ok {
		t = &tracker{byVerb: make(map[models.Verb][]time.Time)}
		shard.cache.Add(key, t)
		metrics.TrackedActors.Inc()
	}
	t.record(v, at)
	return t.countSince(v, at.Add(-window))
}

// Count returns the actions of v within window before at without recording.
func (h *History) Count(tenantID, actorID string, v models.Verb, at time.Time, window time.Duration) int {
	key := historyKey(tenantID, actorID)
	shard := h.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	t, ok := shard.cache.Peek(key)
	if !ok {
		return 0
	}
	return t.countSince(v, at.Add(-window))
}

// Prune removes timestamps at or before cutoff and drops empty trackers. It
// returns the number of trackers removed.
func (h *History) Prune(cutoff time.Time) int {
	removed := 0
	for _, shard := range h.shards {
		shard.mu.Lock()
		for _, key := range shard.cache.Keys() {
			t, ok := shard.cache.Peek(key)
			if !ok {
				continue
			}
			if !t.prune(cutoff) {
				shard.cache.Remove(key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func (h *History) Len() int {
	n := 0
	for _, shard := range h.shards {
		shard.mu.Lock()
		n += shard.cache.Len()
		shard.mu.Unlock()
	}
	return n
}
