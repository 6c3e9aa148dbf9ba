package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
	"modelrelay/internal/stream"
)

// DefaultEndpoint is the production messages endpoint.
const DefaultEndpoint = "https://api.anthropic.com/v1/messages"

// Provider is the routing label for this path.
const Provider = "anthropic-oauth"

const apiVersion = "2023-06-01"

// Model streams one request through the Anthropic messages API using the
// end user's own subscription token.
type Model struct {
	endpoint string
	token    string
	client   llm.HTTPClient
	log      zerolog.Logger
}

func NewModel(endpoint, token string, client llm.HTTPClient, log zerolog.Logger) *Model {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Model{
		endpoint: endpoint,
		token:    token,
		client:   client,
		log:      log,
	}
}

// Stream implements llm.StreamingModel.
func (m *Model) Stream(ctx context.Context, req *llm.ModelRequest) (<-chan llm.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(BuildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	body = RewriteSystemField(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic request: %w", err)
	}
	// OAuth access forbids the API-key header the regular client would set.
	httpReq.Header.Del("x-api-key")
	httpReq.Header.Set("Authorization", "Bearer "+m.token)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("anthropic-beta", MergeBetaHeader(httpReq.Header.Get("anthropic-beta")))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	m.log.Debug().
		Str("endpoint", m.endpoint).
		Str("model", req.ModelID).
		Int("message_count", len(req.Messages)).
		Msg("Starting anthropic stream")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
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

	decoder := NewDecoder(emit, m.log)
	err := stream.ReadSSE(body, func(data []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return decoder.Decode(data)
	})

	if err != nil && ctx.Err() == nil {
		var streamErr *llm.StreamError
		if !errors.As(err, &streamErr) {
			streamErr = &llm.StreamError{Kind: llm.ErrKindUpstream, Message: err.Error()}
		}
		emit(llm.StreamEvent{Type: llm.EventError, Err: streamErr})
		return
	}
	if ctx.Err() != nil {
		return
	}

	usage, reason := decoder.Finish()
	model := decoder.Model()
	if model == "" {
		model = req.ModelID
	}
	emit(llm.StreamEvent{Type: llm.EventResponseMetadata, Metadata: &llm.ResponseMetadata{
		Provider:   Provider,
		ResponseID: decoder.ResponseID(),
		Model:      model,
	}})
	emit(llm.StreamEvent{Type: llm.EventFinish, FinishReason: reason, Usage: &usage})
}
