package render

import (
	"context"
	"log/slog"
)

// LogSink mirrors operator-facing events into the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "render_log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, env Envelope) error {
	switch ev := env.Data.(type) {
	case LogEvent:
		level := slog.LevelInfo
		if ev.Severity == SeverityError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, ev.Message, "severity", ev.Severity)
	case StatusEvent:
		s.logger.Info("status", "text", ev.Text)
	case PhaseEvent:
		s.logger.Debug("phase", "phase", ev.Phase, "mode", ev.Mode, "halo", ev.Halo, "halted", ev.Halted)
	}
	return nil
}
