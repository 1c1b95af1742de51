package providers

import (
	"context"
	"sort"

	"github.com/ncecere/voice_gateway/internal/config"
)

// TranscriberBuilder constructs a transcriber from its backend configuration.
type TranscriberBuilder func(ctx context.Context, cfg config.BackendConfig) (Transcriber, error)

// GeneratorBuilder constructs a generator from its backend configuration.
type GeneratorBuilder func(ctx context.Context, cfg config.BackendConfig) (Generator, error)

// SynthesizerBuilder constructs a synthesizer from its backend configuration.
type SynthesizerBuilder func(ctx context.Context, cfg config.BackendConfig) (Synthesizer, error)

// Definition captures the builders a backend mode offers. A mode may serve
// any subset of the roles.
type Definition struct {
	Mode        string
	Description string
	Transcriber TranscriberBuilder
	Generator   GeneratorBuilder
	Synthesizer SynthesizerBuilder
}

// Roles reports which roles the definition can build, in pipeline order.
func (d Definition) Roles() []Role {
	var roles []Role
	if d.Transcriber != nil {
		roles = append(roles, RoleTranscriber)
	}
	if d.Generator != nil {
		roles = append(roles, RoleGenerator)
	}
	if d.Synthesizer != nil {
		roles = append(roles, RoleSynthesizer)
	}
	return roles
}

var defaultDefinitions = map[string]Definition{}

// RegisterDefinition stores a mode definition so factories can resolve builders by mode.
func RegisterDefinition(def Definition) {
	if def.Mode == "" {
		panic("providers: definition mode required")
	}
	if len(def.Roles()) == 0 {
		panic("providers: definition needs at least one builder")
	}
	if def.Description == "" {
		def.Description = def.Mode
	}
	if defaultDefinitions == nil {
		defaultDefinitions = make(map[string]Definition)
	}
	defaultDefinitions[def.Mode] = def
}

// DefaultDefinitions returns the registered definitions sorted by mode (useful for docs/tests).
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(defaultDefinitions))
	for _, def := range defaultDefinitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Mode < defs[j].Mode
	})
	return defs
}

func cloneDefaultDefinitions() map[string]Definition {
	defs := make(map[string]Definition, len(defaultDefinitions))
	for mode, def := range defaultDefinitions {
		defs[mode] = def
	}
	return defs
}
