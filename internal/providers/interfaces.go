package providers

import (
	"context"

	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error)
	Health(ctx context.Context) error
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (models.GenerationResult, error)
	GenerateStream(ctx context.Context, req models.GenerateRequest) (*streamutil.Stream[models.GenerationChunk], error)
	Health(ctx context.Context) error
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req models.SynthesisRequest) (models.SynthesisResult, error)
	SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*streamutil.Stream[models.AudioChunk], error)
	Health(ctx context.Context) error
}
