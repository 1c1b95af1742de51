package providers

import (
	"context"

	"github.com/ncecere/voice_gateway/internal/adapters/ollama"
	"github.com/ncecere/voice_gateway/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Mode:        config.ModeOllama,
		Description: "Ollama native API (generate, streaming NDJSON)",
		Generator:   buildOllamaGenerator,
	})
}

func buildOllamaGenerator(ctx context.Context, cfg config.BackendConfig) (Generator, error) {
	return ollama.New(ollama.Options{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
	})
}
