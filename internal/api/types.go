package api

import "time"

// StatusSnapshot is the full monitor state served at /api/status and pushed
// to websocket viewers.
type StatusSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Client configuration
	Config ConfigSummary `json:"config"`

	// Authentication state
	Session SessionStatus `json:"session"`

	// One entry per rate limit category, in category order
	Limits []LimitStatus `json:"limits"`

	// Websocket channels the feed is subscribed to (empty when the feed is off)
	Subscriptions []string `json:"subscriptions"`
}

// ConfigSummary is the non-secret part of the client configuration.
type ConfigSummary struct {
	APIURL         string `json:"api_url"`
	Testnet        bool   `json:"testnet"`
	DryRun         bool   `json:"dry_run"`
	AuthMode       string `json:"auth_mode"`
	Grant          string `json:"grant"`
	HasCredentials bool   `json:"has_credentials"`
	ExpiryMargin   string `json:"expiry_margin"`
	WSEnabled      bool   `json:"ws_enabled"`
}

// SessionStatus describes the shared auth session.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	Valid         bool       `json:"valid"`
	Scope         string     `json:"scope,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// LimitStatus is one rate limit bucket.
type LimitStatus struct {
	Category   string  `json:"category"`
	Tokens     int     `json:"tokens"`
	Capacity   int     `json:"capacity"`
	RefillRate int     `json:"refill_rate"`
	Available  float64 `json:"available_pct"` // tokens / capacity * 100
}
