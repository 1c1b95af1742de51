package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
auth:
  api_key: secret
transcriber:
  model_path: /models/ggml-base.en.bin
synthesizer:
  model_path: /models/en_US-lessac-medium.onnx
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: writeConfig(t, minimalYAML), EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	require.Equal(t, ":8000", cfg.Server.ListenAddr)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "X-API-Key", cfg.Auth.Header)

	require.Equal(t, ModeOllama, cfg.Generator.Mode)
	require.Equal(t, "http://localhost:11434", cfg.Generator.Endpoint)
	require.Equal(t, 60*time.Second, cfg.Generator.Timeout)
	require.Equal(t, 1, cfg.Generator.MaxConcurrency)
	require.InDelta(t, 0.7, cfg.Generator.DefaultTemperature, 1e-9)
	require.Equal(t, 1024, cfg.Generator.DefaultMaxTokens)

	require.Equal(t, ModeWhisperCPP, cfg.Transcriber.Mode)
	require.Equal(t, 4, cfg.Transcriber.Threads)
	require.Equal(t, ModePiper, cfg.Synthesizer.Mode)
	require.Equal(t, "wav", cfg.Synthesizer.DefaultFormat)

	require.Equal(t, 30*time.Second, cfg.Health.CheckInterval)
	require.Equal(t, "gateway.runs", cfg.Events.SubjectPrefix)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GATEWAY_GENERATOR_MODEL", "llama3.2:3b")
	t.Setenv("GATEWAY_GENERATOR_MAX_CONCURRENCY", "3")
	t.Setenv("GATEWAY_SYNTHESIZER_QUEUE_TIMEOUT", "250ms")

	cfg, err := Load(Options{ConfigFile: writeConfig(t, minimalYAML)})
	require.NoError(t, err)
	require.Equal(t, "llama3.2:3b", cfg.Generator.Model)
	require.Equal(t, 3, cfg.Generator.MaxConcurrency)
	require.Equal(t, 250*time.Millisecond, cfg.Synthesizer.QueueTimeout)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server: ServerConfig{BodyLimitMB: 10},
			Auth:   AuthConfig{Enabled: true, APIKey: "k"},
			Transcriber: BackendConfig{
				Mode: "whisper.cpp", ModelPath: "/m.bin", Timeout: time.Second,
			},
			Generator: BackendConfig{
				Mode: ModeOllama, Endpoint: "http://ollama:11434/", Model: "m",
				Timeout: time.Second, DefaultTemperature: 0.7, DefaultMaxTokens: 16,
			},
			Synthesizer: BackendConfig{Mode: ModePiper, ModelPath: "/v.onnx", Timeout: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "auth enabled without secret",
			mutate:  func(c *Config) { c.Auth.APIKey = "" },
			wantErr: "GATEWAY_AUTH_API_KEY",
		},
		{
			name:   "auth disabled without secret",
			mutate: func(c *Config) { c.Auth = AuthConfig{} },
		},
		{
			name:    "unknown generator mode",
			mutate:  func(c *Config) { c.Generator.Mode = "bedrock" },
			wantErr: "generator.mode",
		},
		{
			name: "openai transcriber needs endpoint",
			mutate: func(c *Config) {
				c.Transcriber.Mode = ModeOpenAI
			},
			wantErr: "GATEWAY_TRANSCRIBER_ENDPOINT",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Generator.DefaultTemperature = 2.5 },
			wantErr: "default_temperature",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Synthesizer.MaxConcurrency = -1 },
			wantErr: "synthesizer.max_concurrency",
		},
		{
			name:    "missing timeout",
			mutate:  func(c *Config) { c.Generator.Timeout = 0 },
			wantErr: "generator.timeout",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ModeWhisperCPP, cfg.Transcriber.Mode)
			require.Equal(t, "http://ollama:11434", cfg.Generator.Endpoint)
			require.Equal(t, "wav", cfg.Synthesizer.DefaultFormat)
			require.Equal(t, "X-API-Key", cfg.Auth.Header)
		})
	}
}
