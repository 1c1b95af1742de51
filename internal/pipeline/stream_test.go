package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/limits"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers"
)

func drainText(stream *TextStream) string {
	var b strings.Builder
	for chunk := range stream.Chunks() {
		b.WriteString(chunk.Text)
	}
	return b.String()
}

func TestGenerateStreamDrain(t *testing.T) {
	t.Parallel()

	f := newFakes()
	gate := limits.NewAdmission("fake-llm", limits.AdmissionConfig{MaxConcurrency: 1})
	orch := newTestOrchestrator(t, f, func(o *Options) {
		o.Admission = map[providers.Role]*limits.Admission{providers.RoleGenerator: gate}
	})

	stream, err := orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "weather"})
	require.NoError(t, err)
	require.Equal(t, int64(1), gate.Stats().InFlight)

	require.Equal(t, "It is sunny.", drainText(stream))
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	run := stream.Run
	require.Equal(t, StatusCompleted, run.Status)
	require.Equal(t, "It is sunny.", run.Generation.Text)
	require.Equal(t, "fake-model", run.Generation.Model)
	require.Equal(t, 3, run.Generation.CompletionTokens)
	require.Contains(t, run.Timings, StageGenerate)

	require.Equal(t, int64(1), f.generator.opened.Load())
	require.Equal(t, int64(1), f.generator.closed.Load())
	require.Zero(t, gate.Stats().InFlight)
}

func TestGenerateStreamEarlyClose(t *testing.T) {
	t.Parallel()

	f := newFakes()
	obs := &recordingObserver{}
	gate := limits.NewAdmission("fake-llm", limits.AdmissionConfig{MaxConcurrency: 1})
	orch := newTestOrchestrator(t, f, func(o *Options) {
		o.Observers = []Observer{obs}
		o.Admission = map[providers.Role]*limits.Admission{providers.RoleGenerator: gate}
	})

	stream, err := orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "weather"})
	require.NoError(t, err)

	first := <-stream.Chunks()
	require.Equal(t, "It ", first.Text)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	for range stream.Chunks() {
	}

	require.Equal(t, int64(1), f.generator.opened.Load())
	require.Equal(t, int64(1), f.generator.closed.Load())
	require.Zero(t, gate.Stats().InFlight)

	run := stream.Run
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, apierr.KindCanceled, run.Err.Kind)
	require.Nil(t, run.Generation)
	require.Equal(t, []Status{StatusFailed}, obs.finishedStatuses())
}

func TestGenerateStreamContextCancel(t *testing.T) {
	t.Parallel()

	f := newFakes()
	gate := limits.NewAdmission("fake-llm", limits.AdmissionConfig{MaxConcurrency: 1})
	orch := newTestOrchestrator(t, f, func(o *Options) {
		o.Admission = map[providers.Role]*limits.Admission{providers.RoleGenerator: gate}
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := orch.GenerateStream(ctx, models.GenerateRequest{Prompt: "weather"})
	require.NoError(t, err)
	<-stream.Chunks()
	cancel()
	for range stream.Chunks() {
	}

	apiErr, ok := apierr.As(stream.Err())
	require.True(t, ok)
	require.Equal(t, apierr.KindCanceled, apiErr.Kind)
	require.Equal(t, string(StageGenerate), apiErr.Stage)
	require.Equal(t, stream.Run.ID, apiErr.JobID)
	require.Equal(t, StatusFailed, stream.Run.Status)

	require.Equal(t, f.generator.opened.Load(), f.generator.closed.Load())
	require.Zero(t, gate.Stats().InFlight)
	require.NoError(t, stream.Close())
}

func TestGenerateStreamOpenFailure(t *testing.T) {
	t.Parallel()

	f := newFakes()
	f.generator.err = errors.New("dial tcp: connection refused")
	gate := limits.NewAdmission("fake-llm", limits.AdmissionConfig{MaxConcurrency: 1})
	orch := newTestOrchestrator(t, f, func(o *Options) {
		o.Admission = map[providers.Role]*limits.Admission{providers.RoleGenerator: gate}
	})

	stream, err := orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "weather"})
	require.Nil(t, stream)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindUnavailable, apiErr.Kind)
	require.Equal(t, "fake-llm", apiErr.Backend)
	require.NotEmpty(t, apiErr.JobID)
	require.Zero(t, f.generator.opened.Load())
	require.Zero(t, gate.Stats().InFlight)
}

func TestStreamHoldsAdmissionUntilClosed(t *testing.T) {
	t.Parallel()

	f := newFakes()
	gate := limits.NewAdmission("fake-llm", limits.AdmissionConfig{MaxConcurrency: 1})
	orch := newTestOrchestrator(t, f, func(o *Options) {
		o.Admission = map[providers.Role]*limits.Admission{providers.RoleGenerator: gate}
	})

	held, err := orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "one"})
	require.NoError(t, err)

	_, err = orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "two"})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindBusy, apiErr.Kind)

	_, err = orch.Generate(context.Background(), models.GenerateRequest{Prompt: "three"})
	apiErr, ok = apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindBusy, apiErr.Kind)

	require.NoError(t, held.Close())
	for range held.Chunks() {
	}

	next, err := orch.GenerateStream(context.Background(), models.GenerateRequest{Prompt: "four"})
	require.NoError(t, err)
	require.Equal(t, "It is sunny.", drainText(next))
	require.Equal(t, f.generator.opened.Load(), f.generator.closed.Load())
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	f := newFakes()
	orch := newTestOrchestrator(t, f, nil)

	stream, err := orch.SynthesizeStream(context.Background(), models.SynthesisRequest{Text: "hello", Speaker: "default"})
	require.NoError(t, err)
	require.Equal(t, "wav", stream.Format)
	require.Equal(t, "audio/wav", stream.ContentType)
	require.Equal(t, "amy", f.synthesizer.got.Speaker)

	var audio []byte
	for chunk := range stream.Chunks() {
		audio = append(audio, chunk.Data...)
	}
	require.NoError(t, stream.Err())
	require.Equal(t, f.synthesizer.audio, audio)
	require.Equal(t, StatusCompleted, stream.Run.Status)
	require.Equal(t, "wav", stream.Run.Synthesis.Format)
	require.Equal(t, int64(1), f.synthesizer.opened.Load())
	require.Equal(t, int64(1), f.synthesizer.closed.Load())
}
