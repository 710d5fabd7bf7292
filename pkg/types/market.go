package types

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Reference data
// ————————————————————————————————————————————————————————————————————————

// Currency is one entry of public/get_currencies.
type Currency struct {
	Currency             string  `json:"currency"`
	CurrencyLong         string  `json:"currency_long"`
	FeePrecision         int     `json:"fee_precision"`
	MinConfirmations     int     `json:"min_confirmations"`
	MinWithdrawalFee     float64 `json:"min_withdrawal_fee"`
	WithdrawalFee        float64 `json:"withdrawal_fee"`
	CoinType             string  `json:"coin_type"`
	InCryptoCurrencyList bool    `json:"in_crypto_currency_list,omitempty"`
}

// Instrument is returned by public/get_instrument(s).
type Instrument struct {
	InstrumentName       string          `json:"instrument_name"`
	InstrumentID         int64           `json:"instrument_id"`
	Kind                 InstrumentKind  `json:"kind"`
	BaseCurrency         string          `json:"base_currency"`
	QuoteCurrency        string          `json:"quote_currency"`
	CounterCurrency      string          `json:"counter_currency"`
	SettlementCurrency   string          `json:"settlement_currency"`
	SettlementPeriod     string          `json:"settlement_period"`
	ContractSize         decimal.Decimal `json:"contract_size"`
	TickSize             decimal.Decimal `json:"tick_size"`
	MinTradeAmount       decimal.Decimal `json:"min_trade_amount"`
	MakerCommission      float64         `json:"maker_commission"`
	TakerCommission      float64         `json:"taker_commission"`
	Strike               *float64        `json:"strike,omitempty"`
	OptionType           string          `json:"option_type,omitempty"` // "call" or "put"
	IsActive             bool            `json:"is_active"`
	CreationTimestamp    int64           `json:"creation_timestamp"`
	ExpirationTimestamp  int64           `json:"expiration_timestamp"`
	MaxLeverage          int             `json:"max_leverage,omitempty"`
	BlockTradeCommission float64         `json:"block_trade_commission,omitempty"`
}

// IsOption reports whether the instrument is an option.
func (i Instrument) IsOption() bool {
	return i.Kind == KindOption
}

// IsPerpetual reports whether the instrument is a perpetual future.
func (i Instrument) IsPerpetual() bool {
	return i.Kind == KindFuture && i.SettlementPeriod == "perpetual"
}

// ContractSizeResult is returned by public/get_contract_size.
type ContractSizeResult struct {
	ContractSize decimal.Decimal `json:"contract_size"`
}

// IndexPrice is returned by public/get_index_price.
type IndexPrice struct {
	IndexPrice             decimal.Decimal `json:"index_price"`
	EstimatedDeliveryPrice decimal.Decimal `json:"estimated_delivery_price"`
}

// ————————————————————————————————————————————————————————————————————————
// Tickers and order books
// ————————————————————————————————————————————————————————————————————————

// Greeks are the option sensitivities included in option tickers.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// TickerStats holds 24h statistics.
type TickerStats struct {
	High        *float64 `json:"high"`
	Low         *float64 `json:"low"`
	PriceChange *float64 `json:"price_change"`
	Volume      float64  `json:"volume"`
	VolumeUSD   float64  `json:"volume_usd,omitempty"`
}

// Ticker is returned by public/ticker and the ticker.* websocket channel.
type Ticker struct {
	InstrumentName         string           `json:"instrument_name"`
	Timestamp              int64            `json:"timestamp"`
	State                  string           `json:"state"`
	BestBidPrice           *decimal.Decimal `json:"best_bid_price"`
	BestBidAmount          decimal.Decimal  `json:"best_bid_amount"`
	BestAskPrice           *decimal.Decimal `json:"best_ask_price"`
	BestAskAmount          decimal.Decimal  `json:"best_ask_amount"`
	LastPrice              *decimal.Decimal `json:"last_price"`
	MarkPrice              decimal.Decimal  `json:"mark_price"`
	IndexPrice             decimal.Decimal  `json:"index_price"`
	SettlementPrice        *decimal.Decimal `json:"settlement_price,omitempty"`
	OpenInterest           float64          `json:"open_interest"`
	MaxPrice               decimal.Decimal  `json:"max_price"`
	MinPrice               decimal.Decimal  `json:"min_price"`
	CurrentFunding         *float64         `json:"current_funding,omitempty"`
	Funding8h              *float64         `json:"funding_8h,omitempty"`
	EstimatedDeliveryPrice *decimal.Decimal `json:"estimated_delivery_price,omitempty"`
	MarkIV                 *float64         `json:"mark_iv,omitempty"`
	BidIV                  *float64         `json:"bid_iv,omitempty"`
	AskIV                  *float64         `json:"ask_iv,omitempty"`
	UnderlyingPrice        *decimal.Decimal `json:"underlying_price,omitempty"`
	UnderlyingIndex        string           `json:"underlying_index,omitempty"`
	Greeks                 *Greeks          `json:"greeks,omitempty"`
	Stats                  TickerStats      `json:"stats"`
}

// Spread returns best ask minus best bid, or false if either side is empty.
func (t Ticker) Spread() (decimal.Decimal, bool) {
	if t.BestBidPrice == nil || t.BestAskPrice == nil {
		return decimal.Zero, false
	}
	return t.BestAskPrice.Sub(*t.BestBidPrice), true
}

// MidPrice returns the midpoint of the best bid and ask, or false if either
// side is empty.
func (t Ticker) MidPrice() (decimal.Decimal, bool) {
	if t.BestBidPrice == nil || t.BestAskPrice == nil {
		return decimal.Zero, false
	}
	return t.BestBidPrice.Add(*t.BestAskPrice).Div(decimal.NewFromInt(2)), true
}

// PriceLevel is one [price, amount] row of an order book.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// UnmarshalJSON decodes the [price, amount] array form used by Deribit.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw []decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("price level: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("price level: want [price, amount], got %d elements", len(raw))
	}
	l.Price, l.Amount = raw[0], raw[1]
	return nil
}

// MarshalJSON encodes the level back to [price, amount].
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Amount})
}

// OrderBook is returned by public/get_order_book.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBook struct {
	InstrumentName string           `json:"instrument_name"`
	Timestamp      int64            `json:"timestamp"`
	ChangeID       int64            `json:"change_id"`
	State          string           `json:"state"`
	Bids           []PriceLevel     `json:"bids"`
	Asks           []PriceLevel     `json:"asks"`
	MarkPrice      decimal.Decimal  `json:"mark_price"`
	IndexPrice     decimal.Decimal  `json:"index_price"`
	LastPrice      *decimal.Decimal `json:"last_price"`
	OpenInterest   float64          `json:"open_interest"`
	Stats          TickerStats      `json:"stats"`
}

// BestBid returns the top bid level, if any.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BookSummary is one entry of public/get_book_summary_by_currency.
type BookSummary struct {
	InstrumentName    string           `json:"instrument_name"`
	BaseCurrency      string           `json:"base_currency"`
	QuoteCurrency     string           `json:"quote_currency"`
	BidPrice          *decimal.Decimal `json:"bid_price"`
	AskPrice          *decimal.Decimal `json:"ask_price"`
	MidPrice          *decimal.Decimal `json:"mid_price"`
	MarkPrice         decimal.Decimal  `json:"mark_price"`
	Last              *decimal.Decimal `json:"last"`
	High              *decimal.Decimal `json:"high"`
	Low               *decimal.Decimal `json:"low"`
	Volume            float64          `json:"volume"`
	VolumeUSD         float64          `json:"volume_usd"`
	OpenInterest      float64          `json:"open_interest"`
	CreationTimestamp int64            `json:"creation_timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Public trades
// ————————————————————————————————————————————————————————————————————————

// PublicTrade is one trade from public/get_last_trades_by_*.
type PublicTrade struct {
	TradeID        string          `json:"trade_id"`
	TradeSeq       int64           `json:"trade_seq"`
	InstrumentName string          `json:"instrument_name"`
	Timestamp      int64           `json:"timestamp"`
	Direction      Direction       `json:"direction"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	IndexPrice     decimal.Decimal `json:"index_price"`
	MarkPrice      decimal.Decimal `json:"mark_price"`
	TickDirection  int             `json:"tick_direction"`
	IV             *float64        `json:"iv,omitempty"`
	Liquidation    string          `json:"liquidation,omitempty"`
}

// TradesPage is a page of trades with a has_more continuation flag.
type TradesPage struct {
	Trades  []PublicTrade `json:"trades"`
	HasMore bool          `json:"has_more"`
}
