package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
)

// Kind is the operation a run was created for.
type Kind string

const (
	KindGenerate   Kind = "generate"
	KindSynthesize Kind = "synthesize"
	KindProcess    Kind = "process"
	KindTranscribe Kind = "transcribe"
)

// Status is the run's position in the state machine.
type Status string

const (
	StatusReceived     Status = "received"
	StatusTranscribing Status = "transcribing"
	StatusGenerating   Status = "generating"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names a backend step.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
)

func (s Stage) status() Status {
	switch s {
	case StageTranscribe:
		return StatusTranscribing
	case StageGenerate:
		return StatusGenerating
	default:
		return StatusSynthesizing
	}
}

// transitions lists the forward moves each kind allows. Any non-terminal
// status may additionally move to StatusFailed.
var transitions = map[Kind]map[Status][]Status{
	KindGenerate: {
		StatusReceived:   {StatusGenerating},
		StatusGenerating: {StatusCompleted},
	},
	KindSynthesize: {
		StatusReceived:     {StatusSynthesizing},
		StatusSynthesizing: {StatusCompleted},
	},
	KindTranscribe: {
		StatusReceived:     {StatusTranscribing},
		StatusTranscribing: {StatusCompleted},
	},
	KindProcess: {
		StatusReceived:     {StatusTranscribing, StatusGenerating},
		StatusTranscribing: {StatusGenerating},
		StatusGenerating:   {StatusSynthesizing, StatusCompleted},
		StatusSynthesizing: {StatusCompleted},
	},
}

// Run is one pipeline execution. It is owned by the orchestrator call that
// created it; for streams, fields other than ID and Kind may only be read
// after the stream's Chunks channel has closed.
type Run struct {
	ID          string
	Kind        Kind
	Status      Status
	FailedStage Stage
	Err         *apierr.Error
	CreatedAt   time.Time
	FinishedAt  time.Time

	// InputText is the text handed to the generator: the caller's text or
	// the transcript.
	InputText     string
	Transcription *models.TranscriptionResult
	Generation    *models.GenerationResult
	Synthesis     *models.SynthesisResult

	Timings map[Stage]time.Duration
	// Backends records which backend mode served each stage.
	Backends map[Stage]string
}

func newRun(kind Kind) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusReceived,
		CreatedAt: time.Now().UTC(),
		Timings:   make(map[Stage]time.Duration, 3),
		Backends:  make(map[Stage]string, 3),
	}
}

// Duration is the wall time from creation to the terminal status.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.CreatedAt)
	}
	return r.FinishedAt.Sub(r.CreatedAt)
}

func (r *Run) transition(to Status) error {
	if r.Status.Terminal() {
		return apierr.Internal(fmt.Errorf("run %s: transition %s -> %s after terminal status", r.ID, r.Status, to))
	}
	if to == StatusFailed {
		r.Status = to
		return nil
	}
	for _, next := range transitions[r.Kind][r.Status] {
		if next == to {
			r.Status = to
			return nil
		}
	}
	return apierr.Internal(fmt.Errorf("run %s: illegal %s transition %s -> %s", r.ID, r.Kind, r.Status, to))
}

func (r *Run) complete() error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.FinishedAt = time.Now().UTC()
	return nil
}

// fail moves the run to StatusFailed and drops every intermediate result.
// The returned error carries the stage and run ID.
func (r *Run) fail(stage Stage, backend string, err error) *apierr.Error {
	apiErr := apierr.Classify(backend, err)
	if apiErr.Stage == "" && stage != "" {
		apiErr = apiErr.WithStage(string(stage))
	}
	apiErr = apiErr.WithJob(r.ID)

	if !r.Status.Terminal() {
		r.Status = StatusFailed
	}
	r.FailedStage = stage
	r.Err = apiErr
	r.FinishedAt = time.Now().UTC()
	r.InputText = ""
	r.Transcription = nil
	r.Generation = nil
	r.Synthesis = nil
	return apiErr
}
