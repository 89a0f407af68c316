package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogMarksStaleComponents(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	w := NewWatchdog(time.Second)
	w.now = func() time.Time { return now }

	w.RegisterComponent("poller", 5*time.Second)
	w.RegisterComponent("sweeper", time.Minute)

	now = now.Add(10 * time.Second)
	w.Check()
	assert.False(t, w.IsHealthy("poller"))
	assert.True(t, w.IsHealthy("sweeper"))

	report, healthy := w.Report()
	assert.False(t, healthy)
	require.IsType(t, Report{}, report)
	assert.Len(t, report.(Report).Components, 2)

	w.Heartbeat("poller")
	assert.True(t, w.IsHealthy("poller"))
	_, healthy = w.Report()
	assert.True(t, healthy)
}

func TestWatchdogStatusSortedAndUnknownComponent(t *testing.T) {
	w := NewWatchdog(0)
	w.RegisterComponent("b", time.Second)
	w.RegisterComponent("a", time.Second)

	status := w.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].Name)
	assert.False(t, w.IsHealthy("missing"))

	w.Heartbeat("missing")
	assert.Len(t, w.Status(), 2)
}
