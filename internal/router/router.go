// Package router picks the provider path for each request: direct Anthropic
// OAuth, direct Codex OAuth, or the metered backend. Direct paths degrade
// silently on missing credentials, active breakers, or construction
// failures; resolution itself never fails.
package router

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"modelrelay/internal/credentials"
	"modelrelay/internal/llm"
	"modelrelay/internal/provider/anthropic"
	"modelrelay/internal/provider/backend"
	"modelrelay/internal/provider/codex"
	"modelrelay/internal/ratelimit"
	"modelrelay/internal/telemetry"
)

// Endpoints overrides the production provider URLs, used by config and tests.
type Endpoints struct {
	BackendBaseURL    string
	AnthropicEndpoint string
	CodexEndpoint     string
}

// Router resolves one request to a concrete streaming model.
type Router struct {
	endpoints Endpoints
	creds     credentials.Store
	claude    *ratelimit.Gate
	codex     *ratelimit.Gate
	client    llm.HTTPClient
	metrics   *telemetry.Metrics
	log       zerolog.Logger
}

func New(endpoints Endpoints, creds credentials.Store, claudeGate, codexGate *ratelimit.Gate, client llm.HTTPClient, metrics *telemetry.Metrics, log zerolog.Logger) *Router {
	return &Router{
		endpoints: endpoints,
		creds:     creds,
		claude:    claudeGate,
		codex:     codexGate,
		client:    client,
		metrics:   metrics,
		log:       log,
	}
}

// ClaudeGate exposes the Anthropic breaker for the orchestrator to mark.
func (r *Router) ClaudeGate() *ratelimit.Gate { return r.claude }

// CodexGate exposes the Codex breaker for the orchestrator to mark.
func (r *Router) CodexGate() *ratelimit.Gate { return r.codex }

// Resolve picks the provider for a request. The decision order is direct
// Claude, then direct Codex, then the metered backend; each direct path is
// taken only when its skip flag is unset, its breaker inactive, the model
// id belongs to its family, and valid credentials exist.
func (r *Router) Resolve(ctx context.Context, req *llm.ModelRequest) llm.ProviderResolution {
	if !req.SkipDirectClaude && !r.claude.IsActive() && IsClaudeFamily(req.ModelID) {
		if resolution, ok := r.resolveClaude(ctx, req); ok {
			return resolution
		}
	}
	if !req.SkipDirectCodex && !r.codex.IsActive() && IsCodexFamily(req.ModelID) {
		if resolution, ok := r.resolveCodex(ctx, req); ok {
			return resolution
		}
	}

	r.metrics.RecordResolution(backend.Provider)
	return llm.ProviderResolution{
		Model:    backend.NewModel(r.endpoints.BackendBaseURL, r.client, r.log),
		Provider: backend.Provider,
	}
}

func (r *Router) resolveClaude(ctx context.Context, req *llm.ModelRequest) (llm.ProviderResolution, bool) {
	creds, err := r.creds.GetValidClaudeCredentials(ctx)
	if err != nil || creds == nil {
		if err != nil {
			r.log.Debug().Err(err).Msg("Claude credentials unavailable")
		}
		return llm.ProviderResolution{}, false
	}
	r.metrics.RecordResolution(anthropic.Provider)
	return llm.ProviderResolution{
		Model:          anthropic.NewModel(r.endpoints.AnthropicEndpoint, creds.AccessToken, r.client, r.log),
		Provider:       anthropic.Provider,
		IsDirectClaude: true,
	}, true
}

func (r *Router) resolveCodex(ctx context.Context, req *llm.ModelRequest) (llm.ProviderResolution, bool) {
	creds, err := r.creds.GetValidCodexCredentials(ctx)
	if err != nil || creds == nil {
		if err != nil {
			r.log.Debug().Err(err).Msg("Codex credentials unavailable")
		}
		return llm.ProviderResolution{}, false
	}
	model, err := codex.NewModel(r.endpoints.CodexEndpoint, creds.AccessToken, r.client, r.log)
	if err != nil {
		// Usually a token without an embedded account id. Not an error for
		// the caller; the metered path still serves the request.
		r.log.Debug().Err(err).Msg("Codex adapter construction failed")
		return llm.ProviderResolution{}, false
	}
	r.metrics.RecordResolution(codex.Provider)
	return llm.ProviderResolution{
		Model:         model,
		Provider:      codex.Provider,
		IsDirectCodex: true,
	}, true
}

// IsClaudeFamily reports whether a model id names a Claude model, with or
// without a marketplace vendor prefix.
func IsClaudeFamily(modelID string) bool {
	return strings.Contains(strings.ToLower(stripVendor(modelID)), "claude")
}

// IsCodexFamily reports whether a model id names an OpenAI GPT or Codex
// model servable through the Codex backend.
func IsCodexFamily(modelID string) bool {
	name := strings.ToLower(stripVendor(modelID))
	return strings.HasPrefix(name, "gpt") || strings.Contains(name, "codex")
}

func stripVendor(modelID string) string {
	if idx := strings.IndexByte(modelID, '/'); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}
