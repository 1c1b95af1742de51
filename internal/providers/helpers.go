package providers

import (
	"path/filepath"

	"github.com/ncecere/voice_gateway/internal/adapters/piper"
	"github.com/ncecere/voice_gateway/internal/config"
)

// ConfigFor returns the backend section of cfg that configures role.
func ConfigFor(cfg *config.Config, role Role) config.BackendConfig {
	switch role {
	case RoleTranscriber:
		return cfg.Transcriber
	case RoleGenerator:
		return cfg.Generator
	default:
		return cfg.Synthesizer
	}
}

func describe(cfg config.BackendConfig) Info {
	info := Info{Mode: cfg.Mode, Model: cfg.Model, Endpoint: cfg.Endpoint}
	if cfg.Mode == config.ModeWhisperCPP || cfg.Mode == config.ModePiper {
		info.Model = filepath.Base(cfg.ModelPath)
		info.Endpoint = cfg.Command
	}
	if cfg.Mode == config.ModePiper {
		info.Formats = piper.Formats
	}
	return info
}
