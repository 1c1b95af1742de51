// Package pipeline sequences transcription, generation and synthesis for a
// single request and enforces per-backend admission around each stage.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/limits"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers"
)

// Defaults fill request fields the caller left unset.
type Defaults struct {
	Temperature float64
	MaxTokens   int
	Speaker     string
	Format      string
}

// Options wire an Orchestrator.
type Options struct {
	Backends providers.Set
	// Admission gates calls per role. A missing entry means unlimited.
	Admission map[providers.Role]*limits.Admission
	Observers []Observer
	Defaults  Defaults
	Logger    *slog.Logger
}

// Orchestrator drives pipeline runs. It is safe for concurrent use; each
// call owns its Run exclusively.
type Orchestrator struct {
	backends  providers.Set
	admission map[providers.Role]*limits.Admission
	observers observers
	defaults  Defaults
	logger    *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Backends.Transcriber == nil || opts.Backends.Generator == nil || opts.Backends.Synthesizer == nil {
		return nil, errors.New("pipeline: transcriber, generator and synthesizer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaults := opts.Defaults
	if defaults.Format == "" {
		defaults.Format = "wav"
	}
	return &Orchestrator{
		backends:  opts.Backends,
		admission: opts.Admission,
		observers: observers(opts.Observers),
		defaults:  defaults,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// Generate runs a single buffered generation.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerateRequest) (*Run, error) {
	run := o.start(ctx, KindGenerate)
	if err := o.generate(ctx, run, o.withGenerateDefaults(req)); err != nil {
		return run, err
	}
	return run, o.finish(ctx, run)
}

// Synthesize runs a single buffered synthesis.
func (o *Orchestrator) Synthesize(ctx context.Context, req models.SynthesisRequest) (*Run, error) {
	run := o.start(ctx, KindSynthesize)
	req = o.withSynthesisDefaults(req)
	if err := o.checkFormat(req.Format); err != nil {
		return run, o.abort(ctx, run, "", err)
	}
	if err := o.synthesize(ctx, run, req); err != nil {
		return run, err
	}
	return run, o.finish(ctx, run)
}

// Transcribe runs a single transcription.
func (o *Orchestrator) Transcribe(ctx context.Context, req models.TranscriptionRequest) (*Run, error) {
	run := o.start(ctx, KindTranscribe)
	if err := o.transcribe(ctx, run, req); err != nil {
		return run, err
	}
	return run, o.finish(ctx, run)
}

// Process runs the full pipeline. Audio input is transcribed first; the
// generated text is synthesized when ReturnAudio is set. The first failing
// stage ends the run and later stages are never called.
func (o *Orchestrator) Process(ctx context.Context, req models.ProcessRequest) (*Run, error) {
	run := o.start(ctx, KindProcess)
	if req.ReturnAudio {
		if err := o.checkFormat(o.withSynthesisDefaults(models.SynthesisRequest{Format: req.Format}).Format); err != nil {
			return run, o.abort(ctx, run, "", err)
		}
	}

	input := req.Text
	if req.HasAudio() {
		err := o.transcribe(ctx, run, models.TranscriptionRequest{
			Audio:    req.Audio,
			Filename: req.Filename,
			Language: req.Language,
		})
		if err != nil {
			return run, err
		}
		input = run.Transcription.Text
		if strings.TrimSpace(input) == "" {
			return run, o.abort(ctx, run, StageTranscribe, apierr.Rejected(o.backends.Mode(providers.RoleTranscriber), "transcription produced no text"))
		}
	}
	run.InputText = input

	genReq := o.withGenerateDefaults(models.GenerateRequest{
		Prompt:      input,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err := o.generate(ctx, run, genReq); err != nil {
		return run, err
	}

	if req.ReturnAudio {
		text := run.Generation.Text
		if strings.TrimSpace(text) == "" {
			return run, o.abort(ctx, run, StageGenerate, apierr.Rejected(o.backends.Mode(providers.RoleGenerator), "generation produced no text to synthesize"))
		}
		synthReq := o.withSynthesisDefaults(models.SynthesisRequest{
			Text:    text,
			Speaker: req.Speaker,
			Format:  req.Format,
		})
		if err := o.synthesize(ctx, run, synthReq); err != nil {
			return run, err
		}
	}
	return run, o.finish(ctx, run)
}

func (o *Orchestrator) transcribe(ctx context.Context, run *Run, req models.TranscriptionRequest) error {
	return o.stage(ctx, run, StageTranscribe, providers.RoleTranscriber, func(ctx context.Context) error {
		res, err := o.backends.Transcriber.Transcribe(ctx, req)
		if err != nil {
			return err
		}
		if res.Language == "" {
			res.Language = "auto"
		}
		run.Transcription = &res
		return nil
	})
}

func (o *Orchestrator) generate(ctx context.Context, run *Run, req models.GenerateRequest) error {
	return o.stage(ctx, run, StageGenerate, providers.RoleGenerator, func(ctx context.Context) error {
		res, err := o.backends.Generator.Generate(ctx, req)
		if err != nil {
			return err
		}
		run.Generation = &res
		return nil
	})
}

func (o *Orchestrator) synthesize(ctx context.Context, run *Run, req models.SynthesisRequest) error {
	return o.stage(ctx, run, StageSynthesize, providers.RoleSynthesizer, func(ctx context.Context) error {
		res, err := o.backends.Synthesizer.Synthesize(ctx, req)
		if err != nil {
			return err
		}
		if res.Format == "" {
			res.Format = req.Format
		}
		if res.ContentType == "" {
			res.ContentType = models.AudioContentType(res.Format)
		}
		run.Synthesis = &res
		return nil
	})
}

// stage advances the run, holds an admission slot for the duration of call
// and records the outcome.
func (o *Orchestrator) stage(ctx context.Context, run *Run, stage Stage, role providers.Role, call func(ctx context.Context) error) error {
	backend := o.backends.Mode(role)
	if err := run.transition(stage.status()); err != nil {
		return o.abort(ctx, run, stage, err)
	}
	run.Backends[stage] = backend

	release, err := o.admit(ctx, role)
	if err != nil {
		o.observers.stageFinished(ctx, run, StageEvent{Stage: stage, Backend: backend, Err: err})
		return o.abort(ctx, run, stage, err)
	}

	start := time.Now()
	err = call(ctx)
	release()
	elapsed := time.Since(start)
	run.Timings[stage] = elapsed

	if err != nil {
		err = apierr.Classify(backend, err)
	}
	o.observers.stageFinished(ctx, run, StageEvent{Stage: stage, Backend: backend, Duration: elapsed, Err: err})
	if err != nil {
		return o.abort(ctx, run, stage, err)
	}
	return nil
}

func (o *Orchestrator) admit(ctx context.Context, role providers.Role) (func(), error) {
	gate, ok := o.admission[role]
	if !ok || gate == nil {
		return func() {}, nil
	}
	return gate.Acquire(ctx)
}

func (o *Orchestrator) start(ctx context.Context, kind Kind) *Run {
	run := newRun(kind)
	o.observers.runStarted(ctx, run)
	return run
}

func (o *Orchestrator) finish(ctx context.Context, run *Run) error {
	if err := run.complete(); err != nil {
		return o.abort(ctx, run, "", err)
	}
	o.observers.runFinished(ctx, run)
	return nil
}

// abort fails the run and notifies observers. It returns the annotated error.
func (o *Orchestrator) abort(ctx context.Context, run *Run, stage Stage, err error) error {
	backend := ""
	if stage != "" {
		backend = run.Backends[stage]
	}
	apiErr := run.fail(stage, backend, err)
	o.observers.runFinished(ctx, run)
	return apiErr
}

func (o *Orchestrator) withGenerateDefaults(req models.GenerateRequest) models.GenerateRequest {
	if req.Temperature == nil {
		t := o.defaults.Temperature
		req.Temperature = &t
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = o.defaults.MaxTokens
	}
	return req
}

// checkFormat rejects formats the synthesizer cannot produce before any
// stage runs.
func (o *Orchestrator) checkFormat(format string) error {
	info := o.backends.Info[providers.RoleSynthesizer]
	if info.SupportsFormat(format) {
		return nil
	}
	return apierr.Validation("output_format %q is not supported by the %s synthesizer (supported: %s)",
		format, info.Mode, strings.Join(info.Formats, ", "))
}

func (o *Orchestrator) withSynthesisDefaults(req models.SynthesisRequest) models.SynthesisRequest {
	if strings.TrimSpace(req.Speaker) == "" {
		req.Speaker = o.defaults.Speaker
	}
	if strings.TrimSpace(req.Format) == "" {
		req.Format = o.defaults.Format
	}
	req.Format = strings.ToLower(req.Format)
	return req
}
