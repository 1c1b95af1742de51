package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Backend modes understood by the provider factory.
const (
	ModeOllama     = "ollama"
	ModeOpenAI     = "openai"
	ModeWhisperCPP = "whispercpp"
	ModePiper      = "piper"
)

// Config captures the runtime configuration for the gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Transcriber   BackendConfig       `mapstructure:"transcriber"`
	Generator     BackendConfig       `mapstructure:"generator"`
	Synthesizer   BackendConfig       `mapstructure:"synthesizer"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Events        EventsConfig        `mapstructure:"events"`
	Health        HealthConfig        `mapstructure:"health"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	StreamMaxDuration     time.Duration `mapstructure:"stream_max_duration"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

// AuthConfig guards the /api routes with a static shared secret. APIKeyHash
// holds an argon2id encoding of the secret and takes precedence over APIKey.
type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Header     string `mapstructure:"header"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// BackendConfig describes one of the three external engines. Fields that do
// not apply to the selected mode are ignored.
type BackendConfig struct {
	Mode     string `mapstructure:"mode"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`

	Command   string `mapstructure:"command"`
	ModelPath string `mapstructure:"model_path"`
	Threads   int    `mapstructure:"threads"`
	Language  string `mapstructure:"language"`
	TempDir   string `mapstructure:"temp_dir"`

	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	MaxQueue       int           `mapstructure:"max_queue"`

	DefaultTemperature float64 `mapstructure:"default_temperature"`
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"`

	DefaultSpeaker string `mapstructure:"default_speaker"`
	DefaultFormat  string `mapstructure:"default_format"`
	SampleRate     int    `mapstructure:"sample_rate"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RateLimitConfig applies cluster-wide limits when Redis is configured.
type RateLimitConfig struct {
	RequestsPerMinute   int  `mapstructure:"requests_per_minute"`
	DistributedParallel bool `mapstructure:"distributed_parallel"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type ObservabilityConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	// TraceStdout prints spans to stdout when OTLP is off. Meant for local runs.
	TraceStdout bool `mapstructure:"trace_stdout"`
}

type EventsConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("GATEWAY_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and normalizes derived fields.
func (c *Config) Validate() error {
	var missing []string

	c.Auth.Header = strings.TrimSpace(c.Auth.Header)
	if c.Auth.Header == "" {
		c.Auth.Header = "X-API-Key"
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.APIKey) == "" && strings.TrimSpace(c.Auth.APIKeyHash) == "" {
		missing = append(missing, "GATEWAY_AUTH_API_KEY or GATEWAY_AUTH_API_KEY_HASH")
	}

	c.Transcriber.Mode = normalizeMode(c.Transcriber.Mode)
	c.Generator.Mode = normalizeMode(c.Generator.Mode)
	c.Synthesizer.Mode = normalizeMode(c.Synthesizer.Mode)

	switch c.Generator.Mode {
	case ModeOllama, ModeOpenAI:
		if c.Generator.Endpoint == "" {
			missing = append(missing, "GATEWAY_GENERATOR_ENDPOINT")
		}
		if c.Generator.Model == "" {
			missing = append(missing, "GATEWAY_GENERATOR_MODEL")
		}
	default:
		return fmt.Errorf("generator.mode %q unsupported (ollama or openai)", c.Generator.Mode)
	}

	switch c.Transcriber.Mode {
	case ModeWhisperCPP:
		if c.Transcriber.ModelPath == "" {
			missing = append(missing, "GATEWAY_TRANSCRIBER_MODEL_PATH")
		}
	case ModeOpenAI:
		if c.Transcriber.Endpoint == "" {
			missing = append(missing, "GATEWAY_TRANSCRIBER_ENDPOINT")
		}
	default:
		return fmt.Errorf("transcriber.mode %q unsupported (whispercpp or openai)", c.Transcriber.Mode)
	}

	switch c.Synthesizer.Mode {
	case ModePiper:
		if c.Synthesizer.ModelPath == "" {
			missing = append(missing, "GATEWAY_SYNTHESIZER_MODEL_PATH")
		}
	case ModeOpenAI:
		if c.Synthesizer.Endpoint == "" {
			missing = append(missing, "GATEWAY_SYNTHESIZER_ENDPOINT")
		}
	default:
		return fmt.Errorf("synthesizer.mode %q unsupported (piper or openai)", c.Synthesizer.Mode)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be > 0")
	}
	for name, backend := range map[string]*BackendConfig{
		"transcriber": &c.Transcriber,
		"generator":   &c.Generator,
		"synthesizer": &c.Synthesizer,
	} {
		if err := backend.validate(name); err != nil {
			return err
		}
	}
	if t := c.Generator.DefaultTemperature; t < 0 || t > 2 {
		return fmt.Errorf("generator.default_temperature must be between 0 and 2")
	}
	if c.Generator.DefaultMaxTokens <= 0 {
		return fmt.Errorf("generator.default_max_tokens must be > 0")
	}
	c.Synthesizer.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Synthesizer.DefaultFormat))
	if c.Synthesizer.DefaultFormat == "" {
		c.Synthesizer.DefaultFormat = "wav"
	}

	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.RateLimits.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limits.requests_per_minute must be >= 0")
	}
	if c.Health.CheckInterval <= 0 {
		c.Health.CheckInterval = 30 * time.Second
	}
	if c.Health.ProbeTimeout <= 0 || c.Health.ProbeTimeout > c.Health.CheckInterval {
		c.Health.ProbeTimeout = 3 * time.Second
	}
	c.Events.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "gateway.runs"
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json":
		c.Logging.Format = "json"
	case "text":
		c.Logging.Format = "text"
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}

func (b *BackendConfig) validate(name string) error {
	if b.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be > 0", name)
	}
	if b.MaxConcurrency < 0 {
		return fmt.Errorf("%s.max_concurrency must be >= 0", name)
	}
	if b.QueueTimeout < 0 {
		return fmt.Errorf("%s.queue_timeout must be >= 0", name)
	}
	if b.MaxQueue < 0 {
		return fmt.Errorf("%s.max_queue must be >= 0", name)
	}
	if b.Threads < 0 {
		return fmt.Errorf("%s.threads must be >= 0", name)
	}
	b.Endpoint = strings.TrimRight(strings.TrimSpace(b.Endpoint), "/")
	return nil
}

func normalizeMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "whisper", "whisper.cpp", "whisper-cpp":
		return ModeWhisperCPP
	case "openai-compatible", "openai_compatible":
		return ModeOpenAI
	}
	return mode
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.stream_max_duration", "300s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.header", "X-API-Key")

	v.SetDefault("transcriber.mode", ModeWhisperCPP)
	v.SetDefault("transcriber.command", "whisper-cli")
	v.SetDefault("transcriber.model", "whisper-1")
	v.SetDefault("transcriber.threads", 4)
	v.SetDefault("transcriber.timeout", "120s")
	v.SetDefault("transcriber.max_concurrency", 1)
	v.SetDefault("transcriber.queue_timeout", "30s")
	v.SetDefault("transcriber.max_queue", 16)

	v.SetDefault("generator.mode", ModeOllama)
	v.SetDefault("generator.endpoint", "http://localhost:11434")
	v.SetDefault("generator.model", "agent-model:latest")
	v.SetDefault("generator.timeout", "60s")
	v.SetDefault("generator.max_concurrency", 1)
	v.SetDefault("generator.queue_timeout", "30s")
	v.SetDefault("generator.max_queue", 16)
	v.SetDefault("generator.default_temperature", 0.7)
	v.SetDefault("generator.default_max_tokens", 1024)

	v.SetDefault("synthesizer.mode", ModePiper)
	v.SetDefault("synthesizer.command", "piper")
	v.SetDefault("synthesizer.model", "tts-1")
	v.SetDefault("synthesizer.threads", 4)
	v.SetDefault("synthesizer.timeout", "60s")
	v.SetDefault("synthesizer.max_concurrency", 1)
	v.SetDefault("synthesizer.queue_timeout", "30s")
	v.SetDefault("synthesizer.max_queue", 16)
	v.SetDefault("synthesizer.default_format", "wav")
	v.SetDefault("synthesizer.sample_rate", 22050)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("rate_limits.requests_per_minute", 0)
	v.SetDefault("rate_limits.distributed_parallel", false)

	v.SetDefault("idempotency.ttl", "30m")

	v.SetDefault("observability.service_name", "voice-gateway")
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.trace_stdout", false)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("events.subject_prefix", "gateway.runs")
	v.SetDefault("events.connect_timeout", "2s")

	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.probe_timeout", "3s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
