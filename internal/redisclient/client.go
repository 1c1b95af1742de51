package redisclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/voice_gateway/internal/config"
)

// New constructs a Redis client. Redis is optional for the gateway: an empty
// URL returns nil and callers fall back to process-local limits.
func New(cfg config.RedisConfig) *redis.Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		// ParseURL rejects bare host:port and unix socket paths.
		opts = &redis.Options{Addr: url}
		if strings.HasPrefix(url, "/") {
			opts.Network = "unix"
		}
	}

	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(&disableMaintNotifications{})
	return client
}

// Ping verifies connectivity to Redis with a short timeout.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(timeoutCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Connect builds the client and checks it once. An unreachable server is
// logged and the client is still returned: limits and the idempotency cache
// fail open per call and pick Redis up again once it answers.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	client := New(cfg)
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := Ping(ctx, client); err != nil {
		logger.WarnContext(ctx, "redis unreachable at startup, distributed limits disabled until it answers",
			slog.String("addr", client.Options().Addr),
			slog.String("error", err.Error()),
		)
	}
	return client
}

// disableMaintNotifications drops the CLIENT MAINT_NOTIFICATIONS handshake
// that older servers and miniredis reject.
type disableMaintNotifications struct{}

func (h *disableMaintNotifications) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *disableMaintNotifications) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintNotification(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (h *disableMaintNotifications) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		filtered := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintNotification(cmd) {
				filtered = append(filtered, cmd)
			}
		}
		return next(ctx, filtered)
	}
}

func isMaintNotification(cmd redis.Cmder) bool {
	if !strings.EqualFold(cmd.FullName(), "client") || len(cmd.Args()) < 2 {
		return false
	}
	name, ok := cmd.Args()[1].(string)
	return ok && strings.EqualFold(name, "maint_notifications")
}
