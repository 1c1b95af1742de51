package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/voice_gateway/internal/auth"
	"github.com/ncecere/voice_gateway/internal/cache"
	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/events"
	"github.com/ncecere/voice_gateway/internal/health"
	"github.com/ncecere/voice_gateway/internal/limits"
	"github.com/ncecere/voice_gateway/internal/observability"
	"github.com/ncecere/voice_gateway/internal/pipeline"
	"github.com/ncecere/voice_gateway/internal/providers"
)

// Version is reported by the health endpoints. Release builds override it
// with -ldflags "-X github.com/ncecere/voice_gateway/internal/app.Version=...".
var Version = "dev"

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	Redis         *redis.Client
	Backends      providers.Set
	Admission     map[providers.Role]*limits.Admission
	RateLimiter   *limits.RateLimiter
	Orchestrator  *pipeline.Orchestrator
	Auth          *auth.Verifier
	Idempotency   *cache.IdempotencyCache
	Health        *health.Reporter
	Observability *observability.Provider
	Events        *events.Publisher
}

// Options carries optional primitives for NewContainer. Zero values are
// replaced with production defaults.
type Options struct {
	Logger *slog.Logger
	// Redis enables distributed limits and idempotency replay.
	Redis *redis.Client
	// Backends skips the provider factory when set.
	Backends *providers.Set
}

// NewContainer builds a dependency container from the provided config.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var set providers.Set
	if opts.Backends != nil {
		set = *opts.Backends
	} else {
		built, err := providers.NewFactory(cfg).Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build backends: %w", err)
		}
		set = built
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	publisher, err := events.Connect(cfg.Events, logger)
	if err != nil {
		// Events are best effort; the gateway serves without them.
		logger.WarnContext(ctx, "events disabled", slog.String("error", err.Error()))
		publisher = nil
	}

	var rateLimiter *limits.RateLimiter
	if opts.Redis != nil {
		rateLimiter = limits.NewRateLimiter(opts.Redis)
	}
	admission := buildAdmission(cfg, rateLimiter, logger)

	observers := []pipeline.Observer{pipeline.NewLogObserver(logger)}
	if obsProvider != nil {
		observers = append(observers, observability.NewPipelineObserver(obsProvider))
	}
	if publisher != nil {
		observers = append(observers, publisher)
	}

	orch, err := pipeline.New(pipeline.Options{
		Backends:  set,
		Admission: admission,
		Observers: observers,
		Defaults: pipeline.Defaults{
			Temperature: cfg.Generator.DefaultTemperature,
			MaxTokens:   cfg.Generator.DefaultMaxTokens,
			Speaker:     cfg.Synthesizer.DefaultSpeaker,
			Format:      cfg.Synthesizer.DefaultFormat,
		},
		Logger: logger,
	})
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Redis:         opts.Redis,
		Backends:      set,
		Admission:     admission,
		RateLimiter:   rateLimiter,
		Orchestrator:  orch,
		Auth:          verifier,
		Idempotency:   cache.NewIdempotencyCache(opts.Redis, cfg.Idempotency.TTL),
		Health:        health.NewReporter(set, cfg.Health, logger),
		Observability: obsProvider,
		Events:        publisher,
	}, nil
}

// buildAdmission creates one gate per role, named after the role so that
// roles sharing a mode keep separate Redis counters. Distributed limits apply
// only when Redis is configured.
func buildAdmission(cfg *config.Config, limiter *limits.RateLimiter, logger *slog.Logger) map[providers.Role]*limits.Admission {
	gates := make(map[providers.Role]*limits.Admission, len(providers.Roles))
	for _, role := range providers.Roles {
		backend := providers.ConfigFor(cfg, role)
		opts := []limits.AdmissionOption{limits.WithLogger(logger)}
		if limiter != nil {
			shared := limits.LimitConfig{RequestsPerMinute: cfg.RateLimits.RequestsPerMinute}
			if cfg.RateLimits.DistributedParallel {
				shared.ParallelRequests = backend.MaxConcurrency
			}
			opts = append(opts, limits.WithDistributedLimits(limiter, shared))
		}
		gates[role] = limits.NewAdmission(string(role), limits.AdmissionConfig{
			MaxConcurrency: backend.MaxConcurrency,
			QueueTimeout:   backend.QueueTimeout,
			MaxQueue:       backend.MaxQueue,
		}, opts...)
	}
	return gates
}

// Start launches background loops until ctx is canceled.
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
}

// Close releases connections held by the container.
func (c *Container) Close(ctx context.Context) error {
	c.Events.Close()
	return c.Observability.Shutdown(ctx)
}
