package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPackageFunctionsUseGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := SetGlobalLogger(NewWithCore(core))
	defer SetGlobalLogger(prev)

	Info("[POLL] tenant %s fetched %d entries", "g1", 3)
	Debug("[DETECT] debug %d", 1)
	Critical("[RECOVERY] failed")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "[POLL] tenant g1 fetched 3 entries", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, true, entries[2].ContextMap()["critical"])
}

func TestNilGlobalLoggerIsNoop(t *testing.T) {
	prev := SetGlobalLogger(nil)
	defer SetGlobalLogger(prev)

	assert.NotPanics(t, func() {
		Info("nothing")
		Error("nothing %d", 1)
		Sync()
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

type bufferSyncer struct{ bytes.Buffer }

func (b *bufferSyncer) Sync() error { return nil }

func TestIncidentLoggerWritesJSONLines(t *testing.T) {
	buf := &bufferSyncer{}
	il := newIncidentLogger(buf)

	il.Log(&IncidentLogEntry{TenantID: "g1", ActorID: "u1", Verb: "channel_delete", ActionCount: 2, Action: "ban", Outcome: "ok"})
	il.Log(&IncidentLogEntry{TenantID: "g1", ActorID: "u2", Verb: "ban", ActionCount: 3, Action: "kick", Outcome: "failed"})
	require.NoError(t, il.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"tenant_id":"g1"`)
	assert.Contains(t, lines[0], `"verb":"channel_delete"`)
	assert.Contains(t, lines[1], `"outcome":"failed"`)

	var nilLogger *IncidentLogger
	assert.NotPanics(t, func() { nilLogger.Log(&IncidentLogEntry{}) })
}
