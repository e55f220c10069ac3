package emit

import "go.uber.org/zap"

// LogEmitter writes events as structured log lines through zap.
//
// Example output (with zap's production encoder):
//
//	{"level":"info","msg":"node completed","run_id":"run-001","step":3,"node_id":"generate-code"}
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to zap.NewNop
// so the emitter is always safe to call.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.Int("step", event.Step),
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}

	if _, failed := event.Meta["error"]; failed {
		l.logger.Warn(event.Msg, fields...)
		return
	}
	l.logger.Info(event.Msg, fields...)
}
