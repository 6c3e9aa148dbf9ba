package codex

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authClaimKey is the namespaced claim the ChatGPT backend embeds account
// metadata under.
const authClaimKey = "https://api.openai.com/auth"

// AccountIDFromToken extracts the chatgpt account id from the bearer
// token's claims. The token is parsed unverified: we only need routing
// metadata, the upstream verifies the signature itself.
func AccountIDFromToken(token string) (string, error) {
	bare := strings.TrimSpace(token)
	if len(bare) >= 7 && strings.EqualFold(bare[:7], "Bearer ") {
		bare = strings.TrimSpace(bare[7:])
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(bare, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}

	authClaim, ok := claims[authClaimKey].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("access token carries no %q claim", authClaimKey)
	}
	accountID, _ := authClaim["chatgpt_account_id"].(string)
	if accountID == "" {
		return "", fmt.Errorf("access token carries no chatgpt_account_id")
	}
	return accountID, nil
}
