package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelrelay/internal/llm"
)

// DefaultUsageEndpoint reports subscription quota windows.
const DefaultUsageEndpoint = "https://api.anthropic.com/api/oauth/usage"

type quotaWindow struct {
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at"`
}

type quotaResponse struct {
	FiveHour *quotaWindow `json:"five_hour"`
	SevenDay *quotaWindow `json:"seven_day"`
}

// FetchQuotaResetTime asks the usage endpoint when the more constrained
// quota window resets. Best effort only; callers fall back to the default
// cooldown on any error.
func FetchQuotaResetTime(ctx context.Context, client llm.HTTPClient, endpoint, token string) (time.Time, error) {
	if endpoint == "" {
		endpoint = DefaultUsageEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("anthropic-beta", MergeBetaHeader(""))

	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("usage endpoint returned status %d", resp.StatusCode)
	}

	var quota quotaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&quota); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode usage response: %w", err)
	}

	constrained := quota.FiveHour
	if constrained == nil || (quota.SevenDay != nil && quota.SevenDay.Utilization > constrained.Utilization) {
		constrained = quota.SevenDay
	}
	if constrained == nil || constrained.ResetsAt.IsZero() {
		return time.Time{}, fmt.Errorf("usage response carried no reset time")
	}
	return constrained.ResetsAt, nil
}
