package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// IncidentLogEntry is one confirmed threat and what was done about it.
type IncidentLogEntry struct {
	TenantID    string
	ActorID     string
	Verb        string
	ActionCount int
	Action      string
	Reason      string
	Outcome     string
}

// IncidentLogger appends incidents as JSON lines, separate from the main log
// so they can be shipped or grepped on their own.
type IncidentLogger struct {
	log  *zap.Logger
	sink zapcore.WriteSyncer
}

func NewIncidentLogger(path string) (*IncidentLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return newIncidentLogger(zapcore.AddSync(file)), nil
}

func newIncidentLogger(sink zapcore.WriteSyncer) *IncidentLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "event"
	encCfg.LevelKey = ""
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(sink), zapcore.InfoLevel)
	return &IncidentLogger{log: zap.New(core), sink: sink}
}

func (il *IncidentLogger) Log(entry *IncidentLogEntry) {
	if il == nil {
		return
	}
	il.log.Info("incident",
		zap.String("tenant_id", entry.TenantID),
		zap.String("actor_id", entry.ActorID),
		zap.String("verb", entry.Verb),
		zap.Int("action_count", entry.ActionCount),
		zap.String("action", entry.Action),
		zap.String("reason", entry.Reason),
		zap.String("outcome", entry.Outcome),
		zap.Time("logged_at", time.Now()),
	)
}

func (il *IncidentLogger) Close() error {
	if il == nil {
		return nil
	}
	return il.sink.Sync()
}
