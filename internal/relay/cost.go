package relay

import (
	"math"

	"modelrelay/internal/llm"
)

// CostSink receives the credit amount for one completed call. Invoked at
// most once per call, only with positive amounts, and never on direct
// OAuth paths.
type CostSink func(credits int)

// Credits converts provider-reported dollar cost into credit units with
// the profit margin applied. Returns zero when the provider reported no
// cost, which suppresses the sink entirely.
func Credits(metadata *llm.ResponseMetadata, profitMargin float64) int {
	if metadata == nil {
		return 0
	}
	total := metadata.CostUSD + metadata.UpstreamInferenceCostUSD
	if total <= 0 {
		return 0
	}
	return int(math.Round(total * (1 + profitMargin) * 100))
}
