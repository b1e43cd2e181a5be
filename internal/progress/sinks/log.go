package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/progress"
)

// LogSink writes events to a zap logger. Task events log at debug level and
// session events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink. A nil logger discards everything.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session", evt.SessionID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage != progress.StageTaskDone {
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("crawl session", fields...)
			continue
		}
		fields = append(fields,
			zap.Int64("task_id", evt.TaskID),
			zap.String("domain", evt.Domain),
			zap.String("url", evt.URL),
			zap.String("outcome", evt.Outcome),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Int64("bytes", evt.Bytes),
		)
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("task finished", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
