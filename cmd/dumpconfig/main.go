package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/voice_gateway/internal/config"
)

const redacted = "<redacted>"

func main() {
	configFile := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redact(&cfg.Auth.APIKey)
	redact(&cfg.Auth.APIKeyHash)
	redact(&cfg.Transcriber.APIKey)
	redact(&cfg.Generator.APIKey)
	redact(&cfg.Synthesizer.APIKey)
	redact(&cfg.Redis.URL)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
