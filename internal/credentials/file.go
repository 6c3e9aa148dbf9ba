package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"modelrelay/internal/auth"
	"modelrelay/internal/llm"
)

// claudeAuthFile is the shape of the Claude CLI credentials file.
type claudeAuthFile struct {
	ClaudeAiOauth struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    int64  `json:"expiresAt"`
	} `json:"claudeAiOauth"`
}

// codexAuthFile is the shape of the Codex CLI auth file. The OAuth access
// token is preferred; the ID token is a fallback some logins leave behind.
type codexAuthFile struct {
	Tokens struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
		ExpiresAt    int64  `json:"expiresAt,omitempty"`
	} `json:"tokens"`
}

// FileStore reads both vendors' CLI credential files, refreshing tokens
// before expiry and persisting the refreshed set back to disk.
type FileStore struct {
	claudePath string
	codexPath  string
	client     llm.HTTPClient
	log        zerolog.Logger

	mu sync.Mutex
}

func NewFileStore(claudePath, codexPath string, client llm.HTTPClient, log zerolog.Logger) *FileStore {
	if claudePath == "" {
		claudePath = DefaultClaudePath()
	}
	if codexPath == "" {
		codexPath = DefaultCodexPath()
	}
	return &FileStore{
		claudePath: claudePath,
		codexPath:  codexPath,
		client:     client,
		log:        log,
	}
}

func (s *FileStore) GetValidClaudeCredentials(ctx context.Context) (*OAuthCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.claudePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read claude credentials: %w", err)
	}
	var file claudeAuthFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse claude credentials: %w", err)
	}
	tokens := file.ClaudeAiOauth
	if tokens.AccessToken == "" {
		return nil, nil
	}

	creds := &OAuthCredentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if creds.ExpiresAt == 0 || !auth.TokenExpired(creds.ExpiresAt) || creds.RefreshToken == "" {
		return creds, nil
	}

	refreshed, err := auth.RefreshToken(ctx, s.client, auth.VendorAnthropic, creds.RefreshToken)
	if err != nil {
		// Hand back the stale token; the upstream 401 will trip the breaker
		// and the call falls back.
		s.log.Warn().Err(err).Msg("Failed to refresh claude token, using existing")
		return creds, nil
	}

	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	creds.ExpiresAt = auth.CalculateExpiresAt(refreshed.ExpiresIn)

	file.ClaudeAiOauth.AccessToken = creds.AccessToken
	file.ClaudeAiOauth.RefreshToken = creds.RefreshToken
	file.ClaudeAiOauth.ExpiresAt = creds.ExpiresAt
	if err := writeJSONFile(s.claudePath, file); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist refreshed claude token")
	}
	s.log.Info().Msg("Refreshed claude OAuth token")
	return creds, nil
}

func (s *FileStore) GetValidCodexCredentials(ctx context.Context) (*OAuthCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.codexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read codex credentials: %w", err)
	}
	var file codexAuthFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse codex credentials: %w", err)
	}
	token := file.Tokens.AccessToken
	if token == "" {
		token = file.Tokens.IDToken
	}
	if token == "" {
		return nil, nil
	}

	creds := &OAuthCredentials{
		AccessToken:  token,
		RefreshToken: file.Tokens.RefreshToken,
		ExpiresAt:    file.Tokens.ExpiresAt,
	}
	if creds.ExpiresAt == 0 || !auth.TokenExpired(creds.ExpiresAt) || creds.RefreshToken == "" {
		return creds, nil
	}

	refreshed, err := auth.RefreshToken(ctx, s.client, auth.VendorOpenAI, creds.RefreshToken)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to refresh codex token, using existing")
		return creds, nil
	}

	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	creds.ExpiresAt = auth.CalculateExpiresAt(refreshed.ExpiresIn)

	file.Tokens.AccessToken = creds.AccessToken
	file.Tokens.RefreshToken = creds.RefreshToken
	file.Tokens.ExpiresAt = creds.ExpiresAt
	if err := writeJSONFile(s.codexPath, file); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist refreshed codex token")
	}
	s.log.Info().Msg("Refreshed codex OAuth token")
	return creds, nil
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := EnsureParentDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}
