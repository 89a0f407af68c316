package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

// Scheduler captures snapshots periodically, one goroutine per tenant.
type Scheduler struct {
	engine *Engine

	mu      sync.Mutex
	tenants map[string]context.CancelFunc
	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(engine *Engine) *Scheduler {
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		engine:  engine,
		tenants: make(map[string]context.CancelFunc),
		base:    base,
		stop:    stop,
	}
}

// Schedule starts periodic capture for a tenant. Scheduling a tenant again
// replaces its previous timer.
func (s *Scheduler) Schedule(tenantID string, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() != nil {
		return
	}
	if cancel, ok := s.tenants[tenantID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.tenants[tenantID] = cancel

	s.wg.Add(1)
	go s.run(ctx, tenantID, interval)
}

func (s *Scheduler) run(ctx context.Context, tenantID string, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.engine.Suspended(tenantID) {
				logging.Debug("[SNAPSHOT] %s suspended, capture skipped", tenantID)
				continue
			}
			captureCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := s.engine.CaptureSnapshot(captureCtx, tenantID); err != nil {
				logging.Warn("[SNAPSHOT] Scheduled capture of %s failed: %v", tenantID, err)
			}
			cancel()
		}
	}
}

// Unschedule stops periodic capture for one tenant.
func (s *Scheduler) Unschedule(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tenants[tenantID]; ok {
		cancel()
		delete(s.tenants, tenantID)
	}
}

func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tenants)
}

// Stop cancels every tenant and waits for in-flight captures.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.tenants = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	s.wg.Wait()
}

// Serve blocks until ctx ends, then stops every tenant.
func (s *Scheduler) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "snapshot-scheduler"
}
