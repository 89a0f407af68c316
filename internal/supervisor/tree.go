// Package supervisor runs the background services under a suture tree so a
// crashed loop is restarted instead of silently stopping protection.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: detection (ingest, detection loop, sweeper) and
// support (store autosave, snapshots, watchdog, metrics). A failing support
// service never restarts the detection layer.
type Tree struct {
	root      *suture.Supervisor
	detection *suture.Supervisor
	support   *suture.Supervisor
}

func NewTree(cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = LogEvent

	t := &Tree{
		root:      suture.New("antinuke", rootSpec),
		detection: suture.New("detection", spec),
		support:   suture.New("support", spec),
	}
	t.root.Add(t.detection)
	t.root.Add(t.support)
	return t
}

func (t *Tree) AddDetection(svc suture.Service) suture.ServiceToken {
	return t.detection.Add(svc)
}

func (t *Tree) AddSupport(svc suture.Service) suture.ServiceToken {
	return t.support.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// LogEvent routes suture lifecycle events through the process logger.
func LogEvent(e suture.Event) {
	switch e.(type) {
	case suture.EventServicePanic:
		logging.Critical("[SUPERVISOR] %s", e)
	case suture.EventServiceTerminate, suture.EventStopTimeout:
		logging.Error("[SUPERVISOR] %s", e)
	case suture.EventBackoff:
		logging.Warn("[SUPERVISOR] %s", e)
	default:
		logging.Info("[SUPERVISOR] %s", e)
	}
}
