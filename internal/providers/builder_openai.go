package providers

import (
	"context"
	"strings"

	native "github.com/ncecere/voice_gateway/internal/adapters/openai"
	"github.com/ncecere/voice_gateway/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Mode:        config.ModeOpenAI,
		Description: "OpenAI API-compatible endpoint (chat, transcription, speech)",
		Transcriber: func(ctx context.Context, cfg config.BackendConfig) (Transcriber, error) {
			return buildOpenAIAdapter(cfg)
		},
		Generator: func(ctx context.Context, cfg config.BackendConfig) (Generator, error) {
			return buildOpenAIAdapter(cfg)
		},
		Synthesizer: func(ctx context.Context, cfg config.BackendConfig) (Synthesizer, error) {
			return buildOpenAIAdapter(cfg)
		},
	})
}

func buildOpenAIAdapter(cfg config.BackendConfig) (*native.Adapter, error) {
	return native.New(native.Options{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		BaseURL: strings.TrimSpace(cfg.Endpoint),
		Model:   strings.TrimSpace(cfg.Model),
		Voice:   strings.TrimSpace(cfg.DefaultSpeaker),
		Timeout: cfg.Timeout,
	})
}
