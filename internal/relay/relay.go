// Package relay is the streaming orchestrator: resolve a provider, pump
// its events through the stop-sequence filter and tool-call repair, and on
// a direct-path rate-limit or auth failure trip the breaker and rerun the
// call once against the next provider, invisibly to the caller.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"modelrelay/internal/credentials"
	"modelrelay/internal/llm"
	"modelrelay/internal/provider/anthropic"
	"modelrelay/internal/ratelimit"
	"modelrelay/internal/telemetry"
)

// Resolver picks the provider path for a request and exposes the breakers
// the orchestrator marks on failure. Satisfied by router.Router.
type Resolver interface {
	Resolve(ctx context.Context, req *llm.ModelRequest) llm.ProviderResolution
	ClaudeGate() *ratelimit.Gate
	CodexGate() *ratelimit.Gate
}

const quotaFetchTimeout = 5 * time.Second

// Options tunes orchestration behavior.
type Options struct {
	// ProfitMargin is added on top of provider cost when converting to
	// credits, e.g. 0.3 for 30 percent.
	ProfitMargin float64

	// QuotaEndpoint overrides the Anthropic usage endpoint, tests only.
	QuotaEndpoint string
}

// Relay orchestrates one streamed call end to end.
type Relay struct {
	router  Resolver
	creds   credentials.Store
	client  llm.HTTPClient
	metrics *telemetry.Metrics
	opts    Options
	log     zerolog.Logger
}

func New(rt Resolver, creds credentials.Store, client llm.HTTPClient, metrics *telemetry.Metrics, opts Options, log zerolog.Logger) *Relay {
	return &Relay{
		router:  rt,
		creds:   creds,
		client:  client,
		metrics: metrics,
		opts:    opts,
		log:     log,
	}
}

// Stream runs one call, forwarding normalized events to emit in order. A
// nil return means the stream ended in a clean finish; any error is fatal
// and ends the call. The sink receives credit cost at most once, and only
// for metered-path calls that reported positive cost.
func (r *Relay) Stream(ctx context.Context, req *llm.ModelRequest, emit func(llm.StreamEvent), sink CostSink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resolution := r.router.Resolve(ctx, req)
	r.log.Debug().
		Str("provider", resolution.Provider).
		Str("model", req.ModelID).
		Msg("Resolved provider")

	events, err := resolution.Model.Stream(ctx, req)
	if err != nil {
		// The call failed before producing anything, so fallback is always
		// safe here if the error classifies for it.
		return r.handleStreamError(ctx, req, resolution, err, false, emit, sink)
	}

	filter := newStopFilter(req.StopSequences)
	contentYielded := false
	stopHit := false
	var metadata *llm.ResponseMetadata

	emitText := func(id, text string) {
		if text == "" {
			return
		}
		emit(llm.StreamEvent{Type: llm.EventTextDelta, ID: id, Delta: text})
		contentYielded = true
	}
	flushText := func(id string) {
		emitText(id, filter.Flush())
	}

	var textBlockID string
	for ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch ev.Type {
		case llm.EventTextDelta:
			textBlockID = ev.ID
			safe, hit := filter.Feed(ev.Delta)
			emitText(ev.ID, safe)
			if hit && !stopHit {
				stopHit = true
				r.log.Debug().Str("model", req.ModelID).Msg("Stop sequence hit, discarding remaining text")
			}

		case llm.EventError:
			flushText(textBlockID)
			streamErr := ev.Err
			if streamErr == nil {
				streamErr = &llm.StreamError{Kind: llm.ErrKindInternal, Message: "stream error event without error"}
			}
			r.metrics.RecordStreamError(string(streamErr.Kind))
			if streamErr.Recoverable() {
				emit(ev)
				continue
			}
			return r.handleStreamError(ctx, req, resolution, streamErr, contentYielded, emit, sink)

		case llm.EventToolCall:
			flushText(textBlockID)
			if ev.ToolCall != nil && !hasTool(req.Tools, ev.ToolCall.Name) {
				if repaired, ok := RepairToolCall(ev.ToolCall, req, r.log); ok {
					ev.ToolCall = repaired
				}
			}
			emit(ev)
			contentYielded = true

		case llm.EventResponseMetadata:
			flushText(textBlockID)
			metadata = ev.Metadata
			emit(ev)

		case llm.EventFinish:
			flushText(textBlockID)
			reason := ev.FinishReason
			if stopHit {
				reason = llm.FinishStop
			}
			ev.FinishReason = reason
			emit(ev)
			r.reportCost(resolution, metadata, sink)
			return nil

		case llm.EventReasoningDelta, llm.EventToolInputDelta:
			flushText(textBlockID)
			emit(ev)
			contentYielded = true

		default:
			flushText(textBlockID)
			emit(ev)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	// The provider closed without a finish event; surface the truncation.
	return &llm.StreamError{Kind: llm.ErrKindUpstream, Message: "stream ended without finish"}
}

// handleStreamError decides between fallback and failure for a
// non-recoverable error.
func (r *Relay) handleStreamError(ctx context.Context, req *llm.ModelRequest, resolution llm.ProviderResolution, err error, contentYielded bool, emit func(llm.StreamEvent), sink CostSink) error {
	details := llm.ExtractErrorDetails(err)
	eligible := resolution.DirectOAuth() && (details.IsRateLimit() || details.IsAuthExpired())
	if !eligible {
		return asStreamError(err)
	}
	if contentYielded {
		// Partial output is already with the caller; re-running would send
		// it twice. Fail loudly instead.
		r.log.Warn().
			Str("provider", resolution.Provider).
			Msg("Direct path failed after partial output, not falling back")
		return asStreamError(err)
	}

	r.markBreaker(ctx, resolution)
	r.metrics.RecordFallback(resolution.Provider)

	fallback := req.Clone()
	if resolution.IsDirectClaude {
		fallback.SkipDirectClaude = true
	}
	if resolution.IsDirectCodex {
		fallback.SkipDirectCodex = true
	}
	r.log.Info().
		Str("provider", resolution.Provider).
		Int("status", details.StatusCode).
		Msg("Direct path unavailable, falling back")
	return r.Stream(ctx, fallback, emit, sink)
}

// markBreaker trips the failed path's breaker. For Claude a precise reset
// time is fetched from the quota endpoint when possible; everything else
// uses the default cooldown.
func (r *Relay) markBreaker(ctx context.Context, resolution llm.ProviderResolution) {
	var gate *ratelimit.Gate
	var family string
	switch {
	case resolution.IsDirectClaude:
		gate, family = r.router.ClaudeGate(), "claude"
	case resolution.IsDirectCodex:
		gate, family = r.router.CodexGate(), "codex"
	default:
		return
	}
	r.metrics.RecordBreakerTrip(family)

	if resolution.IsDirectClaude {
		if resetAt, ok := r.fetchClaudeReset(ctx); ok {
			gate.MarkUntil(resetAt)
			r.log.Info().Time("reset_at", resetAt).Msg("Claude breaker marked with quota reset time")
			return
		}
	}
	gate.Mark()
	r.log.Info().Str("family", family).Msg("Breaker marked with default cooldown")
}

func (r *Relay) fetchClaudeReset(ctx context.Context) (time.Time, bool) {
	creds, err := r.creds.GetValidClaudeCredentials(ctx)
	if err != nil || creds == nil {
		return time.Time{}, false
	}
	quotaCtx, cancel := context.WithTimeout(ctx, quotaFetchTimeout)
	defer cancel()
	resetAt, err := anthropic.FetchQuotaResetTime(quotaCtx, r.client, r.opts.QuotaEndpoint, creds.AccessToken)
	if err != nil {
		r.log.Debug().Err(err).Msg("Quota reset fetch failed, using default cooldown")
		return time.Time{}, false
	}
	return resetAt, true
}

func (r *Relay) reportCost(resolution llm.ProviderResolution, metadata *llm.ResponseMetadata, sink CostSink) {
	if resolution.DirectOAuth() {
		// The user's own subscription absorbed the cost.
		return
	}
	credits := Credits(metadata, r.opts.ProfitMargin)
	if credits <= 0 || sink == nil {
		return
	}
	r.metrics.RecordCredits(credits)
	sink(credits)
}

func asStreamError(err error) error {
	var se *llm.StreamError
	if errors.As(err, &se) {
		return se
	}
	details := llm.ExtractErrorDetails(err)
	return &llm.StreamError{
		Kind:         llm.ErrKindUpstream,
		Message:      details.Message,
		StatusCode:   details.StatusCode,
		ResponseBody: details.ResponseBody,
	}
}
