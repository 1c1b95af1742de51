// Command probebackends runs a single health sweep against the configured
// backends and exits non-zero when any of them is unreachable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/health"
	"github.com/ncecere/voice_gateway/internal/providers"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	set, err := providers.NewFactory(cfg).Build(ctx)
	if err != nil {
		log.Fatalf("build backends: %v", err)
	}

	snap := health.NewReporter(set, cfg.Health, nil).Check(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if !snap.Healthy() {
		os.Exit(1)
	}
}
