// Package backend implements the metered path: an OpenAI-compatible
// chat-completions endpoint fronting a model marketplace, authenticated
// with the caller's own credential key. It is the path every request can
// fall back to, so it stays rate-limit agnostic.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
	"modelrelay/internal/stream"
)

// Provider is the routing label for this path.
const Provider = "backend"

const completionsPath = "/v1/chat/completions"

// Model streams one request through the metered backend.
type Model struct {
	baseURL string
	client  llm.HTTPClient
	log     zerolog.Logger
}

func NewModel(baseURL string, client llm.HTTPClient, log zerolog.Logger) *Model {
	return &Model{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// Stream implements llm.StreamingModel. The bearer token is the caller's
// credential key, charged per request by the backend.
func (m *Model) Stream(ctx context.Context, req *llm.ModelRequest) (<-chan llm.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(BuildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backend request: %w", err)
	}

	url := m.baseURL + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.CredentialKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	m.log.Debug().
		Str("url", url).
		Str("model", req.ModelID).
		Int("message_count", len(req.Messages)).
		Msg("Starting backend stream")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &llm.HTTPError{StatusCode: resp.StatusCode, Body: string(errBody), URL: url}
	}

	out := make(chan llm.StreamEvent, 16)
	go m.consume(ctx, req, resp.Body, out)
	return out, nil
}

func (m *Model) consume(ctx context.Context, req *llm.ModelRequest, body io.ReadCloser, out chan<- llm.StreamEvent) {
	defer close(out)
	defer body.Close()

	emit := func(ev llm.StreamEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	decoder := NewDecoder()
	reducer := stream.NewReducer(emit, m.log)

	err := stream.ReadSSE(body, func(data []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chunk, err := decoder.Decode(data)
		if err != nil {
			m.log.Warn().Err(err).Msg("Dropping undecodable backend chunk")
			emit(llm.StreamEvent{Type: llm.EventRaw, Raw: append(json.RawMessage(nil), data...)})
			return nil
		}
		if chunk == nil {
			return nil
		}
		return reducer.Feed(chunk)
	})

	if err != nil && ctx.Err() == nil {
		emit(llm.StreamEvent{Type: llm.EventError, Err: &llm.StreamError{
			Kind:    llm.ErrKindUpstream,
			Message: err.Error(),
		}})
		return
	}
	if ctx.Err() != nil {
		return
	}

	usage, reason := reducer.Close()
	costUSD, upstreamCostUSD := decoder.Costs()
	model := decoder.Model()
	if model == "" {
		model = req.ModelID
	}
	emit(llm.StreamEvent{Type: llm.EventResponseMetadata, Metadata: &llm.ResponseMetadata{
		Provider:                 Provider,
		ResponseID:               decoder.ResponseID(),
		Model:                    model,
		CostUSD:                  costUSD,
		UpstreamInferenceCostUSD: upstreamCostUSD,
	}})
	emit(llm.StreamEvent{Type: llm.EventFinish, FinishReason: reason, Usage: &usage})
}
