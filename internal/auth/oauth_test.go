package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	assert.True(t, TokenExpired(now.Add(-time.Hour).UnixMilli()), "past expiry")
	assert.True(t, TokenExpired(now.Add(30*time.Minute).UnixMilli()), "inside the refresh buffer")
	assert.False(t, TokenExpired(now.Add(2*time.Hour).UnixMilli()), "well before expiry")
}

func TestCalculateExpiresAt(t *testing.T) {
	got := CalculateExpiresAt(3600)
	want := time.Now().Add(time.Hour).UnixMilli()
	assert.InDelta(t, want, got, 2000)
}

// redirectClient rewrites the vendor token endpoint to a local test server.
type redirectClient struct {
	target string
}

func (c redirectClient) Do(req *http.Request) (*http.Response, error) {
	redirected := *req
	redirected.URL, _ = req.URL.Parse(c.target)
	redirected.Host = redirected.URL.Host
	return http.DefaultClient.Do(&redirected)
}

func TestRefreshToken(t *testing.T) {
	var gotReq TokenRefreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(TokenRefreshResponse{
			AccessToken:  "fresh-token",
			RefreshToken: "fresh-refresh",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	resp, err := RefreshToken(context.Background(), redirectClient{target: srv.URL}, VendorAnthropic, "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotReq.GrantType)
	assert.Equal(t, "old-refresh", gotReq.RefreshToken)
	assert.Equal(t, anthropicClientID, gotReq.ClientID)
	assert.Equal(t, "fresh-token", resp.AccessToken)
	assert.Equal(t, 3600, resp.ExpiresIn)
}

func TestRefreshTokenUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := RefreshToken(context.Background(), redirectClient{target: srv.URL}, VendorOpenAI, "revoked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestRefreshTokenUnknownVendor(t *testing.T) {
	_, err := RefreshToken(context.Background(), redirectClient{}, Vendor("google"), "x")
	require.Error(t, err)
}
