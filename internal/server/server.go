// Package server is the HTTP front: an OpenAI-compatible chat-completions
// surface over the relay, plus health and metrics endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"modelrelay/internal/llm"
	"modelrelay/internal/relay"
)

type Server struct {
	relay *relay.Relay
	mux   *http.ServeMux
	log   zerolog.Logger
}

func New(log zerolog.Logger, rl *relay.Relay, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		relay: rl,
		mux:   http.NewServeMux(),
		log:   log,
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/v1/chat/completions", s.chatCompletionsHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("/", s.notFoundHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.loggingMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.log.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "Failed to parse request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	modelReq, err := req.ToModelRequest(bearerToken(r))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if req.IsStream() {
		s.streamCompletion(w, r, &req, modelReq)
		return
	}
	s.bufferedCompletion(w, r, &req, modelReq)
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, modelReq *llm.ModelRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "Streaming not supported by this connection")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	encoder := newChunkEncoder(sseFlushWriter{w: w, f: flusher}, req.Model)
	err := s.relay.Stream(r.Context(), modelReq, func(ev llm.StreamEvent) {
		if err := encoder.Encode(ev); err != nil {
			s.log.Warn().Err(err).Msg("Failed to write stream chunk")
		}
	}, s.costSink(modelReq.ModelID))
	if err != nil && r.Context().Err() == nil {
		// Headers are gone; the best we can do is a terminal error frame.
		s.log.Error().Err(err).Msg("Stream ended with fatal error")
		details := llm.ExtractErrorDetails(err)
		encoder.Encode(llm.StreamEvent{Type: llm.EventError, Err: &llm.StreamError{
			Kind:       llm.ErrKindUpstream,
			Message:    details.Message,
			StatusCode: details.StatusCode,
		}})
	}
}

// bufferedCompletion runs the stream to completion and answers with one
// chat.completion object.
func (s *Server) bufferedCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, modelReq *llm.ModelRequest) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		toolCalls []ToolCall
		usage     *llm.Usage
		reason    llm.FinishReason
		metadata  *llm.ResponseMetadata
	)

	err := s.relay.Stream(r.Context(), modelReq, func(ev llm.StreamEvent) {
		switch ev.Type {
		case llm.EventTextDelta:
			content.WriteString(ev.Delta)
		case llm.EventReasoningDelta:
			reasoning.WriteString(ev.Delta)
		case llm.EventToolCall:
			if ev.ToolCall != nil {
				call := ToolCall{ID: ev.ToolCall.ID, Type: "function"}
				call.Function.Name = ev.ToolCall.Name
				call.Function.Arguments = ev.ToolCall.Arguments
				toolCalls = append(toolCalls, call)
			}
		case llm.EventResponseMetadata:
			metadata = ev.Metadata
		case llm.EventFinish:
			usage = ev.Usage
			reason = ev.FinishReason
		}
	}, s.costSink(modelReq.ModelID))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	id := "chatcmpl-" + strings.ReplaceAll(time.Now().Format("20060102150405.000000000"), ".", "")
	model := req.Model
	if metadata != nil {
		if metadata.ResponseID != "" {
			id = metadata.ResponseID
		}
		if metadata.Model != "" {
			model = metadata.Model
		}
	}

	resp := ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	choice := ChatCompletionChoice{FinishReason: string(reason)}
	choice.Message.Role = "assistant"
	choice.Message.Content = content.String()
	choice.Message.Reasoning = reasoning.String()
	choice.Message.ToolCalls = toolCalls
	resp.Choices = []ChatCompletionChoice{choice}
	if usage != nil {
		resp.Usage = &chunkUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode completion response")
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	details := llm.ExtractErrorDetails(err)
	status := details.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	var streamErr *llm.StreamError
	kind := "upstream_error"
	if errors.As(err, &streamErr) {
		kind = string(streamErr.Kind)
	}
	s.writeError(w, status, kind, details.Message)
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

func (s *Server) costSink(modelID string) relay.CostSink {
	return func(credits int) {
		s.log.Info().
			Str("model", modelID).
			Int("credits", credits).
			Msg("Metered call cost recorded")
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
