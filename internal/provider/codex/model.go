// Package codex implements the direct-OAuth path to the ChatGPT Codex
// responses backend: chat messages are transcoded into input items on the
// way out and Codex SSE events into normalized stream events on the way in.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
	"modelrelay/internal/stream"
)

// DefaultEndpoint is the production Codex responses endpoint.
const DefaultEndpoint = "https://chatgpt.com/backend-api/codex/responses"

// Provider is the routing label for this path.
const Provider = "codex-oauth"

// Model streams one request through the Codex backend using the end user's
// own subscription token.
type Model struct {
	endpoint  string
	token     string
	accountID string
	client    llm.HTTPClient
	log       zerolog.Logger
}

// NewModel builds the Codex direct model. Construction fails when the
// account id cannot be extracted from the token; the router degrades to the
// metered backend in that case.
func NewModel(endpoint, token string, client llm.HTTPClient, log zerolog.Logger) (*Model, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	accountID, err := AccountIDFromToken(token)
	if err != nil {
		return nil, err
	}
	return &Model{
		endpoint:  endpoint,
		token:     token,
		accountID: accountID,
		client:    client,
		log:       log,
	}, nil
}

// Stream implements llm.StreamingModel.
func (m *Model) Stream(ctx context.Context, req *llm.ModelRequest) (<-chan llm.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(BuildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal codex request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create codex request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.token)
	httpReq.Header.Set("chatgpt-account-id", m.accountID)
	httpReq.Header.Set("OpenAI-Beta", "responses=experimental")
	httpReq.Header.Set("originator", "codex_cli_rs")
	httpReq.Header.Set("accept", "text/event-stream")
	httpReq.Header.Set("content-type", "application/json")

	m.log.Debug().
		Str("endpoint", m.endpoint).
		Str("model", req.ModelID).
		Int("message_count", len(req.Messages)).
		Msg("Starting codex stream")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("codex request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &llm.HTTPError{StatusCode: resp.StatusCode, Body: string(errBody), URL: m.endpoint}
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
			// One malformed frame does not abort the stream; surface it for
			// debugging and carry on.
			m.log.Warn().Err(err).Msg("Dropping undecodable codex event")
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
	emit(llm.StreamEvent{Type: llm.EventResponseMetadata, Metadata: &llm.ResponseMetadata{
		Provider:   Provider,
		ResponseID: decoder.ResponseID(),
		Model:      req.ModelID,
	}})
	emit(llm.StreamEvent{Type: llm.EventFinish, FinishReason: reason, Usage: &usage})
}
