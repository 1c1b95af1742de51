package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

// callLog records backend calls in order across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeTranscriber struct {
	log  *callLog
	text string
	err  error
	got  models.TranscriptionRequest
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error) {
	f.log.add("transcribe")
	f.got = req
	if f.err != nil {
		return models.TranscriptionResult{}, f.err
	}
	return models.TranscriptionResult{Text: f.text, Language: req.Language}, nil
}

func (f *fakeTranscriber) Health(context.Context) error { return nil }

type fakeGenerator struct {
	log    *callLog
	text   string
	err    error
	chunks []string
	// block, when set, holds Generate until it is closed or ctx ends.
	block chan struct{}

	mu  sync.Mutex
	got []models.GenerateRequest

	opened atomic.Int64
	closed atomic.Int64
}

func (f *fakeGenerator) record(req models.GenerateRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
}

func (f *fakeGenerator) lastRequest() models.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func (f *fakeGenerator) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerationResult, error) {
	f.log.add("generate")
	f.record(req)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.GenerationResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.GenerationResult{}, f.err
	}
	return models.GenerationResult{Text: f.text, Model: "fake-llm", PromptTokens: 3, CompletionTokens: 5}, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, req models.GenerateRequest) (*streamutil.Stream[models.GenerationChunk], error) {
	f.log.add("generate_stream")
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	f.opened.Add(1)
	closer := func() error {
		f.closed.Add(1)
		return nil
	}
	return streamutil.Forward(ctx, closer, func(ctx context.Context, yield streamutil.YieldFunc[models.GenerationChunk]) error {
		for i, piece := range f.chunks {
			chunk := models.GenerationChunk{Text: piece}
			if i == len(f.chunks)-1 {
				chunk.Done = true
				chunk.CompletionTokens = len(f.chunks)
			}
			if !yield(chunk) {
				return nil
			}
		}
		return nil
	}), nil
}

func (f *fakeGenerator) Health(context.Context) error { return nil }

type fakeSynthesizer struct {
	log   *callLog
	audio []byte
	err   error
	got   models.SynthesisRequest

	opened atomic.Int64
	closed atomic.Int64
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req models.SynthesisRequest) (models.SynthesisResult, error) {
	f.log.add("synthesize")
	f.got = req
	if f.err != nil {
		return models.SynthesisResult{}, f.err
	}
	return models.SynthesisResult{Audio: f.audio, Format: req.Format}, nil
}

func (f *fakeSynthesizer) SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*streamutil.Stream[models.AudioChunk], error) {
	f.log.add("synthesize_stream")
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	f.opened.Add(1)
	chunks := []models.AudioChunk{{Data: f.audio[:len(f.audio)/2]}, {Data: f.audio[len(f.audio)/2:]}}
	return streamutil.FromSlice(ctx, chunks, func() error {
		f.closed.Add(1)
		return nil
	}), nil
}

func (f *fakeSynthesizer) Health(context.Context) error { return nil }

type fakes struct {
	log         *callLog
	transcriber *fakeTranscriber
	generator   *fakeGenerator
	synthesizer *fakeSynthesizer
}

func newFakes() *fakes {
	log := &callLog{}
	return &fakes{
		log:         log,
		transcriber: &fakeTranscriber{log: log, text: "what is the weather"},
		generator:   &fakeGenerator{log: log, text: "It is sunny.", chunks: []string{"It ", "is ", "sunny."}},
		synthesizer: &fakeSynthesizer{log: log, audio: []byte("RIFF....WAVEdata")},
	}
}

func (f *fakes) set() providers.Set {
	return providers.Set{
		Transcriber: f.transcriber,
		Generator:   f.generator,
		Synthesizer: f.synthesizer,
		Info: map[providers.Role]providers.Info{
			providers.RoleTranscriber: {Mode: "fake-stt"},
			providers.RoleGenerator:   {Mode: "fake-llm", Model: "fake-model"},
			providers.RoleSynthesizer: {Mode: "fake-tts"},
		},
	}
}

// recordingObserver captures lifecycle callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	started  int
	stages   []StageEvent
	finished []Status
}

func (r *recordingObserver) RunStarted(context.Context, *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingObserver) StageFinished(_ context.Context, _ *Run, ev StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, ev)
}

func (r *recordingObserver) RunFinished(_ context.Context, run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run.Status)
}

func (r *recordingObserver) finishedStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.finished...)
}
