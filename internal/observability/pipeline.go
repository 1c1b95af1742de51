package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/pipeline"
)

// PipelineObserver turns run lifecycle callbacks into metrics and, when
// tracing is enabled, one span per stage.
type PipelineObserver struct {
	provider *Provider
	tracer   trace.Tracer
}

func NewPipelineObserver(p *Provider) *PipelineObserver {
	obs := &PipelineObserver{provider: p}
	if p.TracerProvider() != nil {
		obs.tracer = otel.Tracer("voice-gateway/pipeline")
	}
	return obs
}

func (o *PipelineObserver) RunStarted(context.Context, *pipeline.Run) {}

func (o *PipelineObserver) StageFinished(ctx context.Context, run *pipeline.Run, ev pipeline.StageEvent) {
	o.provider.RecordStage(string(ev.Stage), ev.Backend, ev.Err == nil, ev.Duration)
	if apiErr, ok := apierr.As(ev.Err); ok && apiErr.Kind == apierr.KindBusy {
		o.provider.RecordAdmissionRejection(ev.Backend)
	}

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "pipeline."+string(ev.Stage),
		trace.WithTimestamp(end.Add(-ev.Duration)),
		trace.WithAttributes(
			attribute.String("job.id", run.ID),
			attribute.String("pipeline.kind", string(run.Kind)),
			attribute.String("pipeline.backend", ev.Backend),
		),
	)
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	span.End(trace.WithTimestamp(end))
}

func (o *PipelineObserver) RunFinished(_ context.Context, run *pipeline.Run) {
	o.provider.RecordRun(string(run.Kind), string(run.Status))
	if run.Generation != nil {
		o.provider.RecordTokens(int64(run.Generation.PromptTokens), int64(run.Generation.CompletionTokens))
	}
}
