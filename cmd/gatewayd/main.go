package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ncecere/voice_gateway/internal/app"
	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/httpserver"
	"github.com/ncecere/voice_gateway/internal/observability"
	"github.com/ncecere/voice_gateway/internal/providers"
	"github.com/ncecere/voice_gateway/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML config file")
	envFile := flag.String("env-file", "", "path to a .env file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	redisClient := redisclient.Connect(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	container, err := app.NewContainer(ctx, cfg, app.Options{Logger: logger, Redis: redisClient})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()
	container.Start(ctx)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("voice gateway listening",
		slog.String("addr", cfg.Server.ListenAddr),
		slog.String("version", app.Version),
		slog.String("transcriber", container.Backends.Mode(providers.RoleTranscriber)),
		slog.String("generator", container.Backends.Mode(providers.RoleGenerator)),
		slog.String("synthesizer", container.Backends.Mode(providers.RoleSynthesizer)),
	)
	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
