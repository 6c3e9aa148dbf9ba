package credentials

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often the refresher polls the store.
const DefaultRefreshInterval = 10 * time.Minute

// Refresher periodically pulls credentials through the store so tokens are
// refreshed before a request hits an expiring one. When a vendor's
// credentials reappear after being unavailable, the matching reconnect hook
// fires; the gateway uses that to clear the vendor's rate-limit gate.
type Refresher struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger

	onClaudeReconnect func()
	onCodexReconnect  func()

	hadClaude bool
	hadCodex  bool
}

// NewRefresher creates a refresher over store. The reconnect hooks may be
// nil. A non-positive interval falls back to DefaultRefreshInterval.
func NewRefresher(store Store, interval time.Duration, onClaudeReconnect, onCodexReconnect func(), log zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		store:             store,
		interval:          interval,
		log:               log,
		onClaudeReconnect: onClaudeReconnect,
		onCodexReconnect:  onCodexReconnect,
	}
}

// Run polls until ctx is canceled. It primes the availability state with an
// immediate check so the first tick only fires hooks on a real transition.
func (r *Refresher) Run(ctx context.Context) {
	r.check(ctx, false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.check(ctx, true)
		case <-ctx.Done():
			r.log.Debug().Msg("Background token refresh stopped")
			return
		}
	}
}

func (r *Refresher) check(ctx context.Context, fireHooks bool) {
	claude, err := r.store.GetValidClaudeCredentials(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Background refresh: failed to get Claude credentials")
	}
	hasClaude := err == nil && claude != nil
	if fireHooks && hasClaude && !r.hadClaude {
		r.log.Info().Msg("Claude credentials available again")
		if r.onClaudeReconnect != nil {
			r.onClaudeReconnect()
		}
	}
	r.hadClaude = hasClaude

	codex, err := r.store.GetValidCodexCredentials(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Background refresh: failed to get Codex credentials")
	}
	hasCodex := err == nil && codex != nil
	if fireHooks && hasCodex && !r.hadCodex {
		r.log.Info().Msg("Codex credentials available again")
		if r.onCodexReconnect != nil {
			r.onCodexReconnect()
		}
	}
	r.hadCodex = hasCodex
}
