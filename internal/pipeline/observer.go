package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// StageEvent describes one finished backend call.
type StageEvent struct {
	Stage    Stage
	Backend  string
	Duration time.Duration
	Err      error
}

// Observer receives run lifecycle callbacks. Callbacks run synchronously on
// the request path and must not block.
type Observer interface {
	RunStarted(ctx context.Context, run *Run)
	StageFinished(ctx context.Context, run *Run, ev StageEvent)
	RunFinished(ctx context.Context, run *Run)
}

type observers []Observer

func (o observers) runStarted(ctx context.Context, run *Run) {
	for _, obs := range o {
		obs.RunStarted(ctx, run)
	}
}

func (o observers) stageFinished(ctx context.Context, run *Run, ev StageEvent) {
	for _, obs := range o {
		obs.StageFinished(ctx, run, ev)
	}
}

func (o observers) runFinished(ctx context.Context, run *Run) {
	for _, obs := range o {
		obs.RunFinished(ctx, run)
	}
}

// LogObserver writes one structured line per stage and per finished run.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With(slog.String("component", "pipeline"))}
}

func (l *LogObserver) RunStarted(ctx context.Context, run *Run) {
	l.logger.DebugContext(ctx, "run started",
		slog.String("job_id", run.ID),
		slog.String("kind", string(run.Kind)),
	)
}

func (l *LogObserver) StageFinished(ctx context.Context, run *Run, ev StageEvent) {
	attrs := []any{
		slog.String("job_id", run.ID),
		slog.String("stage", string(ev.Stage)),
		slog.String("backend", ev.Backend),
		slog.Int64("duration_ms", ev.Duration.Milliseconds()),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
		l.logger.WarnContext(ctx, "stage failed", attrs...)
		return
	}
	l.logger.InfoContext(ctx, "stage finished", attrs...)
}

func (l *LogObserver) RunFinished(ctx context.Context, run *Run) {
	attrs := []any{
		slog.String("job_id", run.ID),
		slog.String("kind", string(run.Kind)),
		slog.String("status", string(run.Status)),
		slog.Int64("duration_ms", run.Duration().Milliseconds()),
	}
	if run.Err != nil {
		attrs = append(attrs,
			slog.String("failed_stage", string(run.FailedStage)),
			slog.String("error_kind", string(run.Err.Kind)),
			slog.String("error", run.Err.Error()),
		)
		l.logger.WarnContext(ctx, "run failed", attrs...)
		return
	}
	l.logger.InfoContext(ctx, "run completed", attrs...)
}
