package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

const drainTimeout = 15 * time.Second

// Shutdown stops the process in dependency order: the supervisor first, so
// nothing new is ingested, then in-flight work, then the store and outputs.
func (a *App) Shutdown() error {
	c := a.Components
	if c == nil {
		logging.Sync()
		return nil
	}
	logging.Info("[BOOT] Starting graceful shutdown...")

	var errs []error

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.stopped:
			if err := a.serveErr; err != nil && !isContextErr(err) {
				errs = append(errs, err)
			}
		case <-time.After(drainTimeout):
			logging.Warn("[BOOT] Supervisor did not stop within %s", drainTimeout)
		}
		if unstopped, err := c.Tree.UnstoppedServiceReport(); err == nil {
			for _, u := range unstopped {
				logging.Warn("[BOOT] Service did not stop: %s", u.Name)
			}
		}
	}

	logging.Info("[BOOT] Stopping snapshot scheduler...")
	c.Scheduler.Stop()

	waited := make(chan struct{})
	go func() {
		c.Core.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(drainTimeout):
		logging.Warn("[BOOT] In-flight remediation still running after %s", drainTimeout)
	}

	logging.Info("[BOOT] Flushing tenant store...")
	if err := c.Store.Shutdown(); err != nil {
		errs = append(errs, err)
	}

	if c.Session != nil {
		if err := c.Session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Incidents.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.Deduper != nil {
		if err := c.Deduper.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logging.Error("[BOOT] Shutdown finished with errors: %v", err)
	} else {
		logging.Info("[BOOT] Graceful shutdown complete")
	}
	logging.Sync()
	return err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
