package providers

import (
	"context"
	"fmt"

	"github.com/ncecere/voice_gateway/internal/config"
)

// Factory builds the backend set from configuration using a registry of mode definitions.
type Factory struct {
	cfg  *config.Config
	defs map[string]Definition
}

// NewFactory creates a factory with the default mode registry.
func NewFactory(cfg *config.Config) *Factory {
	if cfg == nil {
		panic("providers: config is required")
	}
	return &Factory{cfg: cfg, defs: cloneDefaultDefinitions()}
}

// Register allows tests or callers to override mode definitions.
func (f *Factory) Register(def Definition) {
	if f.defs == nil {
		f.defs = make(map[string]Definition)
	}
	f.defs[def.Mode] = def
}

// Build instantiates one adapter per role.
func (f *Factory) Build(ctx context.Context) (Set, error) {
	set := Set{Info: make(map[Role]Info, len(Roles))}
	for _, role := range Roles {
		cfg := ConfigFor(f.cfg, role)
		def, ok := f.defs[cfg.Mode]
		if !ok {
			return Set{}, fmt.Errorf("%s: mode %q unsupported", role, cfg.Mode)
		}

		var err error
		switch role {
		case RoleTranscriber:
			if def.Transcriber == nil {
				return Set{}, fmt.Errorf("%s: mode %q cannot transcribe", role, cfg.Mode)
			}
			set.Transcriber, err = def.Transcriber(ctx, cfg)
		case RoleGenerator:
			if def.Generator == nil {
				return Set{}, fmt.Errorf("%s: mode %q cannot generate", role, cfg.Mode)
			}
			set.Generator, err = def.Generator(ctx, cfg)
		case RoleSynthesizer:
			if def.Synthesizer == nil {
				return Set{}, fmt.Errorf("%s: mode %q cannot synthesize", role, cfg.Mode)
			}
			set.Synthesizer, err = def.Synthesizer(ctx, cfg)
		}
		if err != nil {
			return Set{}, fmt.Errorf("%s: %w", role, err)
		}
		set.Info[role] = describe(cfg)
	}
	return set, nil
}
