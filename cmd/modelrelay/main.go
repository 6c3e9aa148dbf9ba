package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modelrelay/internal/config"
	"modelrelay/internal/credentials"
	"modelrelay/internal/llm"
	"modelrelay/internal/logger"
	"modelrelay/internal/ratelimit"
	"modelrelay/internal/relay"
	"modelrelay/internal/router"
	"modelrelay/internal/server"
	"modelrelay/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	client := llm.NewHTTPClient()
	creds := credentials.Chain{
		credentials.NewEnvStore(),
		credentials.NewFileStore(cfg.Credentials.ClaudePath, cfg.Credentials.CodexPath, client, log),
	}
	reportCredentialStatus(creds, log)

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	claudeGate := ratelimit.NewGate(cfg.BreakerCooldown)
	codexGate := ratelimit.NewGate(cfg.BreakerCooldown)

	rt := router.New(router.Endpoints{
		BackendBaseURL:    cfg.Backend.BaseURL,
		AnthropicEndpoint: cfg.Anthropic.Endpoint,
		CodexEndpoint:     cfg.Codex.Endpoint,
	}, creds, claudeGate, codexGate, client, metrics, log)

	rl := relay.New(rt, creds, client, metrics, relay.Options{
		ProfitMargin:  cfg.ProfitMargin,
		QuotaEndpoint: cfg.Anthropic.QuotaEndpoint,
	}, log)

	refresher := credentials.NewRefresher(creds, credentials.DefaultRefreshInterval,
		claudeGate.Reset, codexGate.Reset, log)
	go refresher.Run(context.Background())

	srv := server.New(log, rl, registry)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().
		Str("addr", addr).
		Str("backend", cfg.Backend.BaseURL).
		Msg("Starting gateway")
	log.Fatal().Err(http.ListenAndServe(addr, srv)).Msg("Server failed")
}

// reportCredentialStatus logs which direct paths are available at startup.
// Purely informational; missing credentials just mean every call takes the
// metered path.
func reportCredentialStatus(creds credentials.Store, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c, err := creds.GetValidClaudeCredentials(ctx); err == nil && c != nil {
		log.Info().Msg("Direct Claude path available")
	} else {
		log.Info().Msg("No Claude credentials, direct Claude path disabled")
	}
	if c, err := creds.GetValidCodexCredentials(ctx); err == nil && c != nil {
		log.Info().Msg("Direct Codex path available")
	} else {
		log.Info().Msg("No Codex credentials, direct Codex path disabled")
	}
}
