package credentials

import (
	"context"
	"os"
)

// Env var names for token overrides. Tokens supplied this way are assumed
// managed externally and are never refreshed.
const (
	ClaudeTokenEnv = "CLAUDE_OAUTH_TOKEN"
	CodexTokenEnv  = "CODEX_OAUTH_TOKEN"
)

// EnvStore reads tokens from the environment.
type EnvStore struct{}

func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (e *EnvStore) GetValidClaudeCredentials(ctx context.Context) (*OAuthCredentials, error) {
	return envCredentials(ClaudeTokenEnv), nil
}

func (e *EnvStore) GetValidCodexCredentials(ctx context.Context) (*OAuthCredentials, error) {
	return envCredentials(CodexTokenEnv), nil
}

func envCredentials(name string) *OAuthCredentials {
	token := os.Getenv(name)
	if token == "" {
		return nil
	}
	return &OAuthCredentials{AccessToken: token}
}
