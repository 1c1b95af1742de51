package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

// TextStream is a streamed generation bound to its run. Closing it closes
// the backend stream and frees the admission slot.
type TextStream struct {
	*streamutil.Stream[models.GenerationChunk]
	Run *Run
}

// AudioStream is a streamed synthesis bound to its run.
type AudioStream struct {
	*streamutil.Stream[models.AudioChunk]
	Run *Run
	// Format and ContentType describe the bytes on the wire.
	Format      string
	ContentType string
}

// GenerateStream opens a streaming generation. Errors before the first
// chunk are returned directly so callers can still send an error status.
func (o *Orchestrator) GenerateStream(ctx context.Context, req models.GenerateRequest) (*TextStream, error) {
	run := o.start(ctx, KindGenerate)
	req = o.withGenerateDefaults(req)

	var text strings.Builder
	var prompt, completion int
	stream, err := openStream(ctx, o, run, StageGenerate, providers.RoleGenerator,
		func(ctx context.Context) (*streamutil.Stream[models.GenerationChunk], error) {
			return o.backends.Generator.GenerateStream(ctx, req)
		},
		func(chunk models.GenerationChunk) {
			text.WriteString(chunk.Text)
			if chunk.PromptTokens > 0 {
				prompt = chunk.PromptTokens
			}
			if chunk.CompletionTokens > 0 {
				completion = chunk.CompletionTokens
			}
		},
		func(elapsed time.Duration) {
			run.Generation = &models.GenerationResult{
				Text:             text.String(),
				Model:            o.backends.Info[providers.RoleGenerator].Model,
				PromptTokens:     prompt,
				CompletionTokens: completion,
				Duration:         elapsed,
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return &TextStream{Stream: stream, Run: run}, nil
}

// SynthesizeStream opens a streaming synthesis.
func (o *Orchestrator) SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*AudioStream, error) {
	run := o.start(ctx, KindSynthesize)
	req = o.withSynthesisDefaults(req)
	if err := o.checkFormat(req.Format); err != nil {
		return nil, o.abort(ctx, run, "", err)
	}

	stream, err := openStream(ctx, o, run, StageSynthesize, providers.RoleSynthesizer,
		func(ctx context.Context) (*streamutil.Stream[models.AudioChunk], error) {
			return o.backends.Synthesizer.SynthesizeStream(ctx, req)
		},
		nil,
		func(elapsed time.Duration) {
			run.Synthesis = &models.SynthesisResult{
				Format:      req.Format,
				ContentType: models.AudioContentType(req.Format),
				Duration:    elapsed,
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return &AudioStream{
		Stream:      stream,
		Run:         run,
		Format:      req.Format,
		ContentType: models.AudioContentType(req.Format),
	}, nil
}

// openStream runs a single streaming stage. The admission slot is taken
// before the backend is opened and released together with the backend
// stream, whichever way the consumer finishes.
func openStream[T any](
	ctx context.Context,
	o *Orchestrator,
	run *Run,
	stage Stage,
	role providers.Role,
	open func(ctx context.Context) (*streamutil.Stream[T], error),
	observe func(T),
	complete func(elapsed time.Duration),
) (*streamutil.Stream[T], error) {
	backend := o.backends.Mode(role)
	if err := run.transition(stage.status()); err != nil {
		return nil, o.abort(ctx, run, stage, err)
	}
	run.Backends[stage] = backend

	release, err := o.admit(ctx, role)
	if err != nil {
		o.observers.stageFinished(ctx, run, StageEvent{Stage: stage, Backend: backend, Err: err})
		return nil, o.abort(ctx, run, stage, err)
	}

	start := time.Now()
	inner, err := open(ctx)
	if err != nil {
		release()
		err = apierr.Classify(backend, err)
		o.observers.stageFinished(ctx, run, StageEvent{Stage: stage, Backend: backend, Duration: time.Since(start), Err: err})
		return nil, o.abort(ctx, run, stage, err)
	}

	var closeOnce sync.Once
	var closeErr error
	closer := func() error {
		closeOnce.Do(func() {
			closeErr = inner.Close()
			release()
		})
		return closeErr
	}

	forward := func(fctx context.Context, yield streamutil.YieldFunc[T]) (err error) {
		stopped := false
		defer func() {
			elapsed := time.Since(start)
			run.Timings[stage] = elapsed
			// The consumer may have stopped reading: the slot must still go.
			_ = closer()

			switch {
			case err != nil:
				err = apierr.Classify(backend, err)
			case stopped:
				cause := fctx.Err()
				if cause == nil {
					cause = context.Canceled
				}
				err = apierr.Classify(backend, cause)
			}
			o.observers.stageFinished(ctx, run, StageEvent{Stage: stage, Backend: backend, Duration: elapsed, Err: err})
			if err != nil {
				err = o.abort(ctx, run, stage, err)
				return
			}
			complete(elapsed)
			if finishErr := o.finish(ctx, run); finishErr != nil {
				err = finishErr
			}
		}()

		for chunk := range inner.Chunks() {
			if observe != nil {
				observe(chunk)
			}
			if !yield(chunk) {
				stopped = true
				return nil
			}
		}
		if innerErr := inner.Err(); innerErr != nil {
			return innerErr
		}
		if fctx.Err() != nil {
			stopped = true
		}
		return nil
	}

	return streamutil.Forward(ctx, closer, forward), nil
}
