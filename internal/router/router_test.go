package router

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/credentials"
	"modelrelay/internal/llm"
	"modelrelay/internal/provider/anthropic"
	"modelrelay/internal/provider/backend"
	"modelrelay/internal/provider/codex"
	"modelrelay/internal/ratelimit"
)

type stubStore struct {
	claude *credentials.OAuthCredentials
	codex  *credentials.OAuthCredentials
}

func (s stubStore) GetValidClaudeCredentials(context.Context) (*credentials.OAuthCredentials, error) {
	return s.claude, nil
}

func (s stubStore) GetValidCodexCredentials(context.Context) (*credentials.OAuthCredentials, error) {
	return s.codex, nil
}

func codexToken(t *testing.T) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"https://api.openai.com/auth":{"chatgpt_account_id":"acct_1"}}`))
	return header + "." + payload + "." + base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func newRouter(store credentials.Store, claudeGate, codexGate *ratelimit.Gate) *Router {
	return New(Endpoints{BackendBaseURL: "http://backend.test"}, store, claudeGate, codexGate, llm.NewHTTPClient(), nil, zerolog.Nop())
}

func TestResolveClaudeDirect(t *testing.T) {
	store := stubStore{claude: &credentials.OAuthCredentials{AccessToken: "tok"}}
	r := newRouter(store, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "anthropic/claude-x"})
	assert.Equal(t, anthropic.Provider, res.Provider)
	assert.True(t, res.IsDirectClaude)
	assert.True(t, res.DirectOAuth())
	require.IsType(t, &anthropic.Model{}, res.Model)
}

func TestResolveClaudeActiveBreakerFallsToBackend(t *testing.T) {
	store := stubStore{claude: &credentials.OAuthCredentials{AccessToken: "tok"}}
	claudeGate := ratelimit.NewGate(time.Minute)
	claudeGate.Mark()
	r := newRouter(store, claudeGate, ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "anthropic/claude-x"})
	assert.Equal(t, backend.Provider, res.Provider)
	assert.False(t, res.DirectOAuth())
}

func TestResolveClaudeSkipFlag(t *testing.T) {
	store := stubStore{claude: &credentials.OAuthCredentials{AccessToken: "tok"}}
	r := newRouter(store, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "claude-x", SkipDirectClaude: true})
	assert.Equal(t, backend.Provider, res.Provider)
}

func TestResolveNoCredentialsDegrades(t *testing.T) {
	r := newRouter(stubStore{}, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "claude-x"})
	assert.Equal(t, backend.Provider, res.Provider)
}

func TestResolveCodexDirect(t *testing.T) {
	store := stubStore{codex: &credentials.OAuthCredentials{AccessToken: codexToken(t)}}
	r := newRouter(store, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "openai/gpt-5"})
	assert.Equal(t, codex.Provider, res.Provider)
	assert.True(t, res.IsDirectCodex)
}

func TestResolveCodexBadTokenDegrades(t *testing.T) {
	// A token without the account-id claim fails adapter construction, which
	// must degrade rather than error.
	store := stubStore{codex: &credentials.OAuthCredentials{AccessToken: "not-a-jwt"}}
	r := newRouter(store, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "gpt-5"})
	assert.Equal(t, backend.Provider, res.Provider)
}

func TestResolveFamilyMismatchGoesToBackend(t *testing.T) {
	store := stubStore{
		claude: &credentials.OAuthCredentials{AccessToken: "tok"},
		codex:  &credentials.OAuthCredentials{AccessToken: codexToken(t)},
	}
	r := newRouter(store, ratelimit.NewGate(0), ratelimit.NewGate(0))

	res := r.Resolve(context.Background(), &llm.ModelRequest{ModelID: "meta-llama/llama-4"})
	assert.Equal(t, backend.Provider, res.Provider)
}

func TestFamilyPredicates(t *testing.T) {
	assert.True(t, IsClaudeFamily("anthropic/claude-sonnet-4"))
	assert.True(t, IsClaudeFamily("claude-3-haiku"))
	assert.False(t, IsClaudeFamily("openai/gpt-5"))

	assert.True(t, IsCodexFamily("openai/gpt-5"))
	assert.True(t, IsCodexFamily("gpt-4o"))
	assert.True(t, IsCodexFamily("openai/codex-mini"))
	assert.False(t, IsCodexFamily("anthropic/claude-x"))
}
