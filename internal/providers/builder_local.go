package providers

import (
	"context"

	"github.com/ncecere/voice_gateway/internal/adapters/piper"
	"github.com/ncecere/voice_gateway/internal/adapters/whispercpp"
	"github.com/ncecere/voice_gateway/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Mode:        config.ModeWhisperCPP,
		Description: "Local whisper.cpp executable",
		Transcriber: buildWhisperTranscriber,
	})
	RegisterDefinition(Definition{
		Mode:        config.ModePiper,
		Description: "Local piper executable",
		Synthesizer: buildPiperSynthesizer,
	})
}

func buildWhisperTranscriber(ctx context.Context, cfg config.BackendConfig) (Transcriber, error) {
	return whispercpp.New(whispercpp.Options{
		Command:   cfg.Command,
		ModelPath: cfg.ModelPath,
		Threads:   cfg.Threads,
		Language:  cfg.Language,
		TempDir:   cfg.TempDir,
		Timeout:   cfg.Timeout,
	})
}

func buildPiperSynthesizer(ctx context.Context, cfg config.BackendConfig) (Synthesizer, error) {
	return piper.New(piper.Options{
		Command:    cfg.Command,
		ModelPath:  cfg.ModelPath,
		Speaker:    cfg.DefaultSpeaker,
		SampleRate: cfg.SampleRate,
		TempDir:    cfg.TempDir,
		Timeout:    cfg.Timeout,
	})
}
