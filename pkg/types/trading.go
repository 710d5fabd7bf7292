package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is returned when an order request is missing required fields.
var ErrInvalidOrder = errors.New("invalid order")

// ————————————————————————————————————————————————————————————————————————
// Order requests
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the parameter set for private/buy and private/sell.
// Exactly one of Amount or Contracts must be set (non-zero). Price is
// required for limit-style orders and ignored for market orders.
type OrderRequest struct {
	InstrumentName string
	Amount         decimal.Decimal
	Contracts      decimal.Decimal
	Type           OrderType // default limit
	Price          decimal.Decimal
	Label          string
	TimeInForce    TimeInForce // default good_til_cancelled
	PostOnly       bool
	ReduceOnly     bool
	TriggerPrice   decimal.Decimal
	Trigger        string // "index_price", "mark_price" or "last_price"
}

// Validate checks the request is complete enough to send.
func (r OrderRequest) Validate() error {
	if r.InstrumentName == "" {
		return fmt.Errorf("%w: instrument_name is required", ErrInvalidOrder)
	}
	if r.Amount.IsZero() && r.Contracts.IsZero() {
		return fmt.Errorf("%w: either amount or contracts must be specified", ErrInvalidOrder)
	}
	if r.Amount.IsNegative() || r.Contracts.IsNegative() {
		return fmt.Errorf("%w: amount and contracts must be positive", ErrInvalidOrder)
	}
	switch r.EffectiveType() {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeTakeLimit:
		if !r.Price.IsPositive() {
			return fmt.Errorf("%w: %s order requires a positive price", ErrInvalidOrder, r.EffectiveType())
		}
	}
	switch r.EffectiveType() {
	case OrderTypeStopLimit, OrderTypeStopMarket, OrderTypeTakeLimit, OrderTypeTakeMarket:
		if !r.TriggerPrice.IsPositive() || r.Trigger == "" {
			return fmt.Errorf("%w: %s order requires trigger and trigger_price", ErrInvalidOrder, r.EffectiveType())
		}
	}
	return nil
}

// EffectiveType returns the order type, defaulting to limit.
func (r OrderRequest) EffectiveType() OrderType {
	if r.Type == "" {
		return OrderTypeLimit
	}
	return r.Type
}

// EffectiveTimeInForce returns the time in force, defaulting to good_til_cancelled.
func (r OrderRequest) EffectiveTimeInForce() TimeInForce {
	if r.TimeInForce == "" {
		return GoodTilCancelled
	}
	return r.TimeInForce
}

// EditOrderRequest is the parameter set for private/edit.
type EditOrderRequest struct {
	OrderID    string
	Amount     decimal.Decimal
	Contracts  decimal.Decimal
	Price      decimal.Decimal
	PostOnly   bool
	ReduceOnly bool
}

// Validate checks the edit is complete enough to send.
func (r EditOrderRequest) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidOrder)
	}
	if r.Amount.IsZero() && r.Contracts.IsZero() {
		return fmt.Errorf("%w: either amount or contracts must be specified", ErrInvalidOrder)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders and executions
// ————————————————————————————————————————————————————————————————————————

// OrderPrice is an order's limit price. Market orders report the literal
// string "market_price" instead of a number.
type OrderPrice struct {
	Value  decimal.Decimal
	Market bool
}

// UnmarshalJSON accepts either a number or "market_price".
func (p *OrderPrice) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`"market_price"`)) {
		*p = OrderPrice{Market: true}
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*p = OrderPrice{}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("order price: %w", err)
	}
	*p = OrderPrice{Value: d}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (p OrderPrice) MarshalJSON() ([]byte, error) {
	if p.Market {
		return []byte(`"market_price"`), nil
	}
	return p.Value.MarshalJSON()
}

func (p OrderPrice) String() string {
	if p.Market {
		return "market_price"
	}
	return p.Value.String()
}

// Order is the order object returned by trading and order query endpoints.
type Order struct {
	OrderID             string           `json:"order_id"`
	InstrumentName      string           `json:"instrument_name"`
	Direction           Direction        `json:"direction"`
	OrderType           OrderType        `json:"order_type"`
	OrderState          string           `json:"order_state"` // open, filled, rejected, cancelled, untriggered
	TimeInForce         TimeInForce      `json:"time_in_force"`
	Price               OrderPrice       `json:"price"`
	Amount              decimal.Decimal  `json:"amount"`
	FilledAmount        decimal.Decimal  `json:"filled_amount"`
	AveragePrice        decimal.Decimal  `json:"average_price"`
	Contracts           decimal.Decimal  `json:"contracts,omitempty"`
	Label               string           `json:"label"`
	PostOnly            bool             `json:"post_only"`
	ReduceOnly          bool             `json:"reduce_only"`
	API                 bool             `json:"api"`
	Web                 bool             `json:"web"`
	Replaced            bool             `json:"replaced"`
	IsLiquidation       bool             `json:"is_liquidation"`
	MaxShow             decimal.Decimal  `json:"max_show"`
	ProfitLoss          *float64         `json:"profit_loss,omitempty"`
	Commission          *float64         `json:"commission,omitempty"`
	TriggerPrice        *decimal.Decimal `json:"trigger_price,omitempty"`
	Trigger             string           `json:"trigger,omitempty"`
	CreationTimestamp   int64            `json:"creation_timestamp"`
	LastUpdateTimestamp int64            `json:"last_update_timestamp"`
}

// IsOpen reports whether the order still rests on the book.
func (o Order) IsOpen() bool {
	return o.OrderState == "open" || o.OrderState == "untriggered"
}

// RemainingAmount returns the unfilled amount.
func (o Order) RemainingAmount() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// Execution is a fill belonging to one of our orders.
type Execution struct {
	TradeID        string          `json:"trade_id"`
	TradeSeq       int64           `json:"trade_seq"`
	OrderID        string          `json:"order_id"`
	InstrumentName string          `json:"instrument_name"`
	Direction      Direction       `json:"direction"`
	OrderType      OrderType       `json:"order_type"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	FeeCurrency    string          `json:"fee_currency"`
	IndexPrice     decimal.Decimal `json:"index_price"`
	MarkPrice      decimal.Decimal `json:"mark_price"`
	Liquidity      string          `json:"liquidity"` // "M" maker, "T" taker
	Label          string          `json:"label,omitempty"`
	State          string          `json:"state"`
	TickDirection  int             `json:"tick_direction"`
	SelfTrade      bool            `json:"self_trade"`
	IV             *float64        `json:"iv,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

// IsMaker reports whether we provided liquidity.
func (e Execution) IsMaker() bool {
	return e.Liquidity == "M"
}

// OrderResult is returned by private/buy, private/sell and private/edit.
type OrderResult struct {
	Order  Order       `json:"order"`
	Trades []Execution `json:"trades"`
}

// UserTradesPage is a page of our own fills.
type UserTradesPage struct {
	Trades  []Execution `json:"trades"`
	HasMore bool        `json:"has_more"`
}
