// Package auth refreshes the OAuth tokens backing the direct provider
// paths. Both vendors use the standard refresh_token grant against their
// own token endpoint; expiry timestamps are unix milliseconds throughout.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelrelay/internal/llm"
)

// Vendor selects which token endpoint a refresh goes to.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
)

const (
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	openaiTokenURL    = "https://auth.openai.com/oauth/token"

	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	openaiClientID    = "app_EMoamEEZ73f0CkXaXp7hrann"
)

// TokenExpiryBuffer triggers a refresh this long before the real expiry.
const TokenExpiryBuffer = 60 * time.Minute

// TokenExpired reports whether the token is expired or expiring soon.
func TokenExpired(expiresAtMs int64) bool {
	return time.Now().UnixMilli() >= expiresAtMs-TokenExpiryBuffer.Milliseconds()
}

// CalculateExpiresAt converts an expires_in duration in seconds to an
// absolute unix-millisecond timestamp.
func CalculateExpiresAt(expiresIn int) int64 {
	return time.Now().Add(time.Duration(expiresIn) * time.Second).UnixMilli()
}

func endpointFor(vendor Vendor) (url, clientID string, err error) {
	switch vendor {
	case VendorAnthropic:
		return anthropicTokenURL, anthropicClientID, nil
	case VendorOpenAI:
		return openaiTokenURL, openaiClientID, nil
	default:
		return "", "", fmt.Errorf("unknown oauth vendor %q", vendor)
	}
}

// RefreshToken exchanges a refresh token for fresh credentials.
func RefreshToken(ctx context.Context, client llm.HTTPClient, vendor Vendor, refreshToken string) (*TokenRefreshResponse, error) {
	url, clientID, err := endpointFor(vendor)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(TokenRefreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	return &tokenResp, nil
}
