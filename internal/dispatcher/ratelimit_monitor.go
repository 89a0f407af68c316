package dispatcher

import (
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

type RateLimitBucket struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimitMonitor tracks the platform's per-route buckets from response
// headers, keyed by route and tenant.
type RateLimitMonitor struct {
	mu      sync.RWMutex
	buckets map[string]*RateLimitBucket
	now     func() time.Time
}

func NewRateLimitMonitor() *RateLimitMonitor {
	return &RateLimitMonitor{
		buckets: make(map[string]*RateLimitBucket),
		now:     time.Now,
	}
}

// CanExecute reports whether the bucket for (route, tenant) has room, and if
// not, how long until it resets.
func (rlm *RateLimitMonitor) CanExecute(route, tenantID string) (bool, time.Duration) {
	rlm.mu.RLock()
	bucket, exists := rlm.buckets[getKey(route, tenantID)]
	rlm.mu.RUnlock()

	if !exists || bucket.Remaining > 0 {
		return true, 0
	}

	now := rlm.now()
	if !now.Before(bucket.ResetAt) {
		return true, 0
	}
	return false, bucket.ResetAt.Sub(now)
}

// UpdateFromFastHTTPResponse records the bucket state the platform reported.
// A 429 without bucket headers falls back to Retry-After.
func (rlm *RateLimitMonitor) UpdateFromFastHTTPResponse(resp *fasthttp.Response, route, tenantID string) {
	remaining := string(resp.Header.Peek("X-RateLimit-Remaining"))
	limit := string(resp.Header.Peek("X-RateLimit-Limit"))
	resetAfter := string(resp.Header.Peek("X-RateLimit-Reset-After"))
	retryAfter := string(resp.Header.Peek("Retry-After"))

	if remaining == "" && resp.StatusCode() != fasthttp.StatusTooManyRequests {
		return
	}

	bucket := &RateLimitBucket{Remaining: 1}
	if remaining != "" {
		bucket.Remaining, _ = strconv.Atoi(remaining)
	}
	if limit != "" {
		bucket.Limit, _ = strconv.Atoi(limit)
	}

	wait := resetAfter
	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		bucket.Remaining = 0
		if retryAfter != "" {
			wait = retryAfter
		}
	}
	if secs, err := strconv.ParseFloat(wait, 64); err == nil {
		bucket.ResetAt = rlm.now().Add(time.Duration(secs * float64(time.Second)))
	}

	rlm.mu.Lock()
	rlm.buckets[getKey(route, tenantID)] = bucket
	rlm.mu.Unlock()
}

func (rlm *RateLimitMonitor) GetBucket(route, tenantID string) *RateLimitBucket {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	if b, ok := rlm.buckets[getKey(route, tenantID)]; ok {
		cp := *b
		return &cp
	}
	return nil
}

func getKey(route, tenantID string) string {
	return route + ":" + tenantID
}
