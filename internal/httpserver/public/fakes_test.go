package public

import (
	"context"
	"sync/atomic"

	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

var wavBytes = []byte("RIFF....WAVEdata")

type stubTranscriber struct {
	text      string
	err       error
	healthErr error
	got       models.TranscriptionRequest
}

func (s *stubTranscriber) Transcribe(_ context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error) {
	s.got = req
	if s.err != nil {
		return models.TranscriptionResult{}, s.err
	}
	return models.TranscriptionResult{Text: s.text, Language: "en"}, nil
}

func (s *stubTranscriber) Health(context.Context) error { return s.healthErr }

type stubGenerator struct {
	text   string
	chunks []string
	err    error
	// streamErr fails the stream after every chunk has been sent.
	streamErr error
	calls     atomic.Int64
	healthErr error
}

func (s *stubGenerator) Generate(_ context.Context, req models.GenerateRequest) (models.GenerationResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return models.GenerationResult{}, s.err
	}
	return models.GenerationResult{Text: s.text, Model: "stub-model", PromptTokens: 2, CompletionTokens: 4}, nil
}

func (s *stubGenerator) GenerateStream(ctx context.Context, req models.GenerateRequest) (*streamutil.Stream[models.GenerationChunk], error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return streamutil.Forward(ctx, nil, func(ctx context.Context, yield streamutil.YieldFunc[models.GenerationChunk]) error {
		for _, piece := range s.chunks {
			if !yield(models.GenerationChunk{Text: piece}) {
				return nil
			}
		}
		return s.streamErr
	}), nil
}

func (s *stubGenerator) Health(context.Context) error { return s.healthErr }

type stubSynthesizer struct {
	audio     []byte
	err       error
	healthErr error
	got       models.SynthesisRequest
}

func (s *stubSynthesizer) Synthesize(_ context.Context, req models.SynthesisRequest) (models.SynthesisResult, error) {
	s.got = req
	if s.err != nil {
		return models.SynthesisResult{}, s.err
	}
	return models.SynthesisResult{Audio: s.audio, Format: req.Format}, nil
}

func (s *stubSynthesizer) SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*streamutil.Stream[models.AudioChunk], error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	half := len(s.audio) / 2
	return streamutil.FromSlice(ctx, []models.AudioChunk{{Data: s.audio[:half]}, {Data: s.audio[half:]}}, nil), nil
}

func (s *stubSynthesizer) Health(context.Context) error { return s.healthErr }

type stubs struct {
	transcriber *stubTranscriber
	generator   *stubGenerator
	synthesizer *stubSynthesizer
	// formats restricts the synthesizer's advertised output formats.
	formats []string
}

func newStubs() *stubs {
	return &stubs{
		transcriber: &stubTranscriber{text: "hello there"},
		generator:   &stubGenerator{text: "General Kenobi.", chunks: []string{"General ", "Kenobi."}},
		synthesizer: &stubSynthesizer{audio: wavBytes},
	}
}

func (s *stubs) set() *providers.Set {
	return &providers.Set{
		Transcriber: s.transcriber,
		Generator:   s.generator,
		Synthesizer: s.synthesizer,
		Info: map[providers.Role]providers.Info{
			providers.RoleTranscriber: {Mode: "stub-stt"},
			providers.RoleGenerator:   {Mode: "stub-llm", Model: "stub-model"},
			providers.RoleSynthesizer: {Mode: "stub-tts", Formats: s.formats},
		},
	}
}
