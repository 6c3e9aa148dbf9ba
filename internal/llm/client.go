package llm

import (
	"net/http"
	"time"
)

// HTTPClient is the minimal client surface the provider adapters need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient creates the default client for provider calls. No overall
// timeout: streamed responses stay open as long as the model generates, and
// cancellation is caller-driven through the request context.
func NewHTTPClient() HTTPClient {
	return &http.Client{
		Transport: &http.Transport{
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
