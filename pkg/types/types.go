// Package types defines the Deribit API data structures shared across packages.
//
// These are plain records decoded from the JSON-RPC "result" field of REST
// responses (and websocket notifications). Monetary fields that feed order
// placement or balances use decimal.Decimal; analytics fields (greeks,
// implied volatility, funding) stay float64. The package has no dependencies
// on internal packages so any layer can import it.
package types

import (
	"encoding/json"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Direction is the side of an order, trade or position.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Zero Direction = "zero" // flat position
)

// OrderType enumerates the order types accepted by private/buy and private/sell.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeTakeLimit  OrderType = "take_limit"
	OrderTypeTakeMarket OrderType = "take_market"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	GoodTilCancelled  TimeInForce = "good_til_cancelled"
	GoodTilDay        TimeInForce = "good_til_day"
	FillOrKill        TimeInForce = "fill_or_kill"
	ImmediateOrCancel TimeInForce = "immediate_or_cancel"
)

// InstrumentKind filters instrument and order queries.
type InstrumentKind string

const (
	KindFuture      InstrumentKind = "future"
	KindOption      InstrumentKind = "option"
	KindSpot        InstrumentKind = "spot"
	KindFutureCombo InstrumentKind = "future_combo"
	KindOptionCombo InstrumentKind = "option_combo"
)

// ————————————————————————————————————————————————————————————————————————
// Authentication
// ————————————————————————————————————————————————————————————————————————

// GrantType selects how public/auth issues a token.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantClientSignature   GrantType = "client_signature"
	GrantRefreshToken      GrantType = "refresh_token"
)

// AuthToken is the result of public/auth. ExpiresIn is relative to the
// moment the token was issued; the session records that moment.
type AuthToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// HasRefreshToken reports whether the token can be renewed without credentials.
func (t AuthToken) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Lifetime returns ExpiresIn as a duration.
func (t AuthToken) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

// StoredToken is an AuthToken together with the time it was issued, as
// persisted by the token cache.
type StoredToken struct {
	Token    AuthToken `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// ExpiresAt returns when the stored token stops being valid.
func (s StoredToken) ExpiresAt() time.Time {
	return s.IssuedAt.Add(s.Token.Lifetime())
}

// ————————————————————————————————————————————————————————————————————————
// System
// ————————————————————————————————————————————————————————————————————————

// TestResult is returned by public/test.
type TestResult struct {
	Version string `json:"version"`
}

// Status is returned by public/status.
type Status struct {
	Locked        string   `json:"locked"` // "true", "false" or "partial"
	LockedIndices []string `json:"locked_indices"`
}

// IsLocked reports whether the platform is fully locked.
func (s Status) IsLocked() bool {
	return s.Locked == "true"
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket
// ————————————————————————————————————————————————————————————————————————

// Notification is a "subscription" message pushed over the websocket.
// Data is left raw; decode it with the struct matching Channel.
type Notification struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}
