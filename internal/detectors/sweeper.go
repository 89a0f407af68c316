package detectors

import (
	"context"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

// Sweeper runs Detector.Sweep on a fixed interval.
type Sweeper struct {
	detector *Detector
	interval time.Duration
}

func NewSweeper(d *Detector, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{detector: d, interval: interval}
}

func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.detector.Sweep(s.detector.opts.Clock()); n > 0 {
				logging.Debug("[DETECT] Swept %d idle trackers, %d remain", n, s.detector.Tracked())
			}
		}
	}
}

func (s *Sweeper) String() string {
	return "detector-sweeper"
}
