// Package credentials supplies valid OAuth tokens for the direct provider
// paths. A store is responsible for its own refresh-before-expiry logic; a
// nil return with no error means "direct path unavailable now" and is how
// the router degrades to the metered backend.
package credentials

import "context"

// OAuthCredentials is one vendor's token set. ExpiresAt is unix
// milliseconds, zero when unknown.
type OAuthCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// Store hands out valid tokens per vendor.
type Store interface {
	GetValidClaudeCredentials(ctx context.Context) (*OAuthCredentials, error)
	GetValidCodexCredentials(ctx context.Context) (*OAuthCredentials, error)
}

// Chain queries stores in order and returns the first hit. Errors are
// swallowed so a broken store degrades instead of blocking the chain.
type Chain []Store

func (c Chain) GetValidClaudeCredentials(ctx context.Context) (*OAuthCredentials, error) {
	for _, store := range c {
		if creds, err := store.GetValidClaudeCredentials(ctx); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, nil
}

func (c Chain) GetValidCodexCredentials(ctx context.Context) (*OAuthCredentials, error) {
	for _, store := range c {
		if creds, err := store.GetValidCodexCredentials(ctx); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, nil
}
