package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

type PollerConfig struct {
	Interval        time.Duration
	Limit           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Poller is the poll producer: on a fixed interval it reads the most recent
// audit-log entries of every known tenant and submits unseen ones.
type Poller struct {
	source    platform.AuditSource
	pipeline  *Pipeline
	cfg       PollerConfig
	breaker   *gobreaker.CircuitBreaker[[]platform.AuditRecord]
	heartbeat func()
}

func NewPoller(source platform.AuditSource, pipeline *Pipeline, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]platform.AuditRecord](gobreaker.Settings{
		Name:        "audit-poll",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("[POLL] Circuit %s: %s -> %s", name, from, to)
		},
	})

	return &Poller{
		source:   source,
		pipeline: pipeline,
		cfg:      cfg,
		breaker:  breaker,
	}
}

// SetHeartbeat registers a callback run after every poll cycle.
func (p *Poller) SetHeartbeat(fn func()) {
	p.heartbeat = fn
}

// Serve polls until ctx is cancelled. A failed poll never stops the loop.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
			if p.heartbeat != nil {
				p.heartbeat()
			}
		}
	}
}

func (p *Poller) String() string {
	return "audit-poller"
}

// PollOnce runs one cycle over every tenant and returns how many events were
// forwarded.
func (p *Poller) PollOnce(ctx context.Context) int {
	forwarded := 0
	for _, tenantID := range p.source.Tenants() {
		if ctx.Err() != nil {
			return forwarded
		}

		recs, err := p.fetch(ctx, tenantID)
		if err != nil {
			metrics.PollFailures.Inc()
			logging.Warn("[POLL] Skipping tenant %s this cycle: %v", tenantID, err)
			continue
		}

		// The log is newest first; replay oldest first so history stays ordered.
		for i := len(recs) - 1; i >= 0; i-- {
			ev, ok := p.pipeline.Normalizer().FromAuditRecord(tenantID, recs[i])
			if !ok {
				continue
			}
			if p.pipeline.Submit(ev, SourcePoll) {
				forwarded++
			}
		}
	}
	return forwarded
}

func (p *Poller) fetch(ctx context.Context, tenantID string) ([]platform.AuditRecord, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	recs, err := p.breaker.Execute(func() ([]platform.AuditRecord, error) {
		return p.source.PollPrivilegedActions(pollCtx, tenantID, p.cfg.Limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("audit poll circuit open: %w", models.ErrTransientNetwork)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}
	return recs, nil
}

// BreakerState exposes the circuit state for health reporting.
func (p *Poller) BreakerState() string {
	return p.breaker.State().String()
}
