package api

import (
	"time"

	"deribit-http/internal/config"
	"deribit-http/internal/exchange"
)

// StatusProvider gives the monitor read access to client state.
// *exchange.Client satisfies it.
type StatusProvider interface {
	RateLimiter() *exchange.RateLimiter
	Session() *exchange.Session
}

// SubscriptionLister reports the active websocket channels.
// *exchange.WSFeed satisfies it.
type SubscriptionLister interface {
	Subscribed() []string
}

// BuildSnapshot aggregates limiter, session and feed state into one snapshot.
// feed may be nil.
func BuildSnapshot(provider StatusProvider, feed SubscriptionLister, cfg config.Config) StatusSnapshot {
	rl := provider.RateLimiter()
	limits := make([]LimitStatus, 0, len(exchange.Categories))
	for _, cat := range exchange.Categories {
		lim := rl.Limit(cat)
		tokens := rl.Tokens(cat)
		var pct float64
		if lim.Capacity > 0 {
			pct = float64(tokens) / float64(lim.Capacity) * 100
		}
		limits = append(limits, LimitStatus{
			Category:   cat.String(),
			Tokens:     tokens,
			Capacity:   lim.Capacity,
			RefillRate: lim.RefillRate,
			Available:  pct,
		})
	}

	subs := []string{}
	if feed != nil {
		subs = feed.Subscribed()
	}

	return StatusSnapshot{
		Timestamp:     time.Now(),
		Config:        NewConfigSummary(cfg),
		Session:       sessionStatus(provider.Session()),
		Limits:        limits,
		Subscriptions: subs,
	}
}

func sessionStatus(s *exchange.Session) SessionStatus {
	st := SessionStatus{
		Authenticated: s.IsAuthenticated(),
		Valid:         s.Valid(),
	}
	if tok, ok := s.AuthToken(); ok {
		st.Scope = tok.Scope
	}
	if at, ok := s.ExpiresAt(); ok {
		st.ExpiresAt = &at
	}
	return st
}

// NewConfigSummary strips secrets from cfg.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		APIURL:         cfg.APIURL(),
		Testnet:        cfg.Testnet,
		DryRun:         cfg.DryRun,
		AuthMode:       cfg.Auth.Mode,
		Grant:          cfg.Auth.Grant,
		HasCredentials: cfg.HasCredentials(),
		ExpiryMargin:   cfg.Auth.ExpiryMargin.String(),
		WSEnabled:      cfg.WS.Enabled,
	}
}
