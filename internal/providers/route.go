package providers

import (
	"context"
	"strings"
)

// Role names one of the three pipeline engines.
type Role string

const (
	RoleTranscriber Role = "transcriber"
	RoleGenerator   Role = "generator"
	RoleSynthesizer Role = "synthesizer"
)

// Roles lists every role in pipeline order.
var Roles = []Role{RoleTranscriber, RoleGenerator, RoleSynthesizer}

// Info describes the deployment behind a role for logs and health output.
type Info struct {
	Mode     string
	Model    string
	Endpoint string
	// Formats lists the output formats a synthesizer can produce. Empty
	// means the backend accepts any supported audio format.
	Formats []string
}

// SupportsFormat reports whether the backend can produce format.
func (i Info) SupportsFormat(format string) bool {
	if len(i.Formats) == 0 {
		return true
	}
	format = strings.ToLower(strings.TrimSpace(format))
	for _, f := range i.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Set is the trio of backends the orchestrator drives.
type Set struct {
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Info        map[Role]Info
}

// Probe returns the health check for role, or nil if the role is unset.
func (s Set) Probe(role Role) func(ctx context.Context) error {
	switch role {
	case RoleTranscriber:
		if s.Transcriber != nil {
			return s.Transcriber.Health
		}
	case RoleGenerator:
		if s.Generator != nil {
			return s.Generator.Health
		}
	case RoleSynthesizer:
		if s.Synthesizer != nil {
			return s.Synthesizer.Health
		}
	}
	return nil
}

// Mode reports the configured mode for role.
func (s Set) Mode(role Role) string {
	return s.Info[role].Mode
}
