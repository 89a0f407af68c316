// Package watchdog tracks liveness of background loops and reports host
// resource usage for /healthz and the status command.
package watchdog

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

type Watchdog struct {
	mu            sync.RWMutex
	components    map[string]*ComponentHealth
	checkInterval time.Duration
	now           func() time.Time
}

type ComponentHealth struct {
	Name          string        `json:"name"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Threshold     time.Duration `json:"-"`
	Healthy       bool          `json:"healthy"`
}

func NewWatchdog(checkInterval time.Duration) *Watchdog {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	return &Watchdog{
		components:    make(map[string]*ComponentHealth),
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// RegisterComponent starts tracking name. A component is healthy until it
// misses its first threshold after registration.
func (w *Watchdog) RegisterComponent(name string, threshold time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.components[name] = &ComponentHealth{
		Name:          name,
		LastHeartbeat: w.now(),
		Threshold:     threshold,
		Healthy:       true,
	}
}

func (w *Watchdog) Heartbeat(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if comp, ok := w.components[name]; ok {
		comp.LastHeartbeat = w.now()
		if !comp.Healthy {
			logging.Info("[WATCHDOG] %s recovered", name)
		}
		comp.Healthy = true
	}
}

// Check marks components whose last heartbeat is older than their threshold.
func (w *Watchdog) Check() {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	for name, comp := range w.components {
		elapsed := now.Sub(comp.LastHeartbeat)
		if elapsed > comp.Threshold && comp.Healthy {
			comp.Healthy = false
			logging.Error("[WATCHDOG] %s unhealthy (no heartbeat for %v)", name, elapsed.Round(time.Millisecond))
		}
	}
}

func (w *Watchdog) IsHealthy(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	comp, ok := w.components[name]
	return ok && comp.Healthy
}

// Status returns every component sorted by name.
func (w *Watchdog) Status() []ComponentHealth {
	w.mu.RLock()
	out := make([]ComponentHealth, 0, len(w.components))
	for _, comp := range w.components {
		out = append(out, *comp)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *Watchdog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check()
		}
	}
}

func (w *Watchdog) String() string {
	return "watchdog"
}

type Report struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentHealth `json:"components"`
	Host       HostStats         `json:"host"`
}

// Report matches metrics.HealthFunc.
func (w *Watchdog) Report() (interface{}, bool) {
	r := Report{Healthy: true, Components: w.Status(), Host: CollectHostStats()}
	for _, c := range r.Components {
		if !c.Healthy {
			r.Healthy = false
		}
	}
	return r, r.Healthy
}

type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heap_alloc"`
}

// CollectHostStats samples host usage without blocking; unavailable values
// are left zero.
func CollectHostStats() HostStats {
	var s HostStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsed = vm.Used
	}
	if up, err := host.Uptime(); err == nil {
		s.UptimeSeconds = up
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.Goroutines = runtime.NumGoroutine()
	s.HeapAlloc = m.HeapAlloc
	return s
}
