// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/progress"
)

// Log writes progress events to a zap logger at debug level, with run
// lifecycle milestones promoted to info.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a logging sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Consume logs each event in the batch.
func (s *Log) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.Time("ts", evt.TS),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone,
			progress.StagePassStart, progress.StagePassDone:
			s.logger.Info(string(evt.Stage), fields...)
		default:
			s.logger.Debug(string(evt.Stage), fields...)
		}
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *Log) Close(context.Context) error { return nil }
