package types

import "github.com/shopspring/decimal"

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// AccountSummary is returned by private/get_account_summary.
type AccountSummary struct {
	Currency                 string          `json:"currency"`
	Balance                  decimal.Decimal `json:"balance"`
	Equity                   decimal.Decimal `json:"equity"`
	AvailableFunds           decimal.Decimal `json:"available_funds"`
	AvailableWithdrawalFunds decimal.Decimal `json:"available_withdrawal_funds"`
	MarginBalance            decimal.Decimal `json:"margin_balance"`
	InitialMargin            decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin        decimal.Decimal `json:"maintenance_margin"`
	SessionRPL               decimal.Decimal `json:"session_rpl"`
	SessionUPL               decimal.Decimal `json:"session_upl"`
	TotalPL                  decimal.Decimal `json:"total_pl"`
	DeltaTotal               float64         `json:"delta_total"`
	FuturesPL                decimal.Decimal `json:"futures_pl"`
	OptionsPL                decimal.Decimal `json:"options_pl"`
	MarginModel              string          `json:"margin_model,omitempty"`
	PortfolioMarginEnabled   bool            `json:"portfolio_margining_enabled"`
	Username                 string          `json:"username,omitempty"`
	Email                    string          `json:"email,omitempty"`
	ID                       int64           `json:"id,omitempty"`
	Type                     string          `json:"type,omitempty"`
}

// MarginUsage returns maintenance margin as a fraction of equity, or zero when
// equity is zero.
func (a AccountSummary) MarginUsage() decimal.Decimal {
	if a.Equity.IsZero() {
		return decimal.Zero
	}
	return a.MaintenanceMargin.Div(a.Equity)
}

// Position is returned by private/get_position(s).
type Position struct {
	InstrumentName            string           `json:"instrument_name"`
	Kind                      InstrumentKind   `json:"kind"`
	Direction                 Direction        `json:"direction"`
	Size                      decimal.Decimal  `json:"size"`
	SizeCurrency              decimal.Decimal  `json:"size_currency"`
	AveragePrice              decimal.Decimal  `json:"average_price"`
	MarkPrice                 decimal.Decimal  `json:"mark_price"`
	IndexPrice                decimal.Decimal  `json:"index_price"`
	EstimatedLiquidationPrice *decimal.Decimal `json:"estimated_liquidation_price"`
	FloatingProfitLoss        decimal.Decimal  `json:"floating_profit_loss"`
	RealizedProfitLoss        decimal.Decimal  `json:"realized_profit_loss"`
	TotalProfitLoss           decimal.Decimal  `json:"total_profit_loss"`
	InitialMargin             decimal.Decimal  `json:"initial_margin"`
	MaintenanceMargin         decimal.Decimal  `json:"maintenance_margin"`
	Leverage                  int              `json:"leverage,omitempty"`
	Delta                     float64          `json:"delta"`
	Gamma                     float64          `json:"gamma,omitempty"`
	Vega                      float64          `json:"vega,omitempty"`
	Theta                     float64          `json:"theta,omitempty"`
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool {
	return p.Direction == Buy && p.Size.IsPositive()
}

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool {
	return p.Direction == Sell && !p.Size.IsZero()
}

// IsFlat reports whether there is no open exposure.
func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}

// Portfolio is the per-currency portfolio block of a subaccount.
type Portfolio struct {
	Currency                 string          `json:"currency"`
	Balance                  decimal.Decimal `json:"balance"`
	Equity                   decimal.Decimal `json:"equity"`
	AvailableFunds           decimal.Decimal `json:"available_funds"`
	AvailableWithdrawalFunds decimal.Decimal `json:"available_withdrawal_funds"`
	InitialMargin            decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin        decimal.Decimal `json:"maintenance_margin"`
	MarginBalance            decimal.Decimal `json:"margin_balance"`
}

// Subaccount is returned by private/get_subaccounts.
type Subaccount struct {
	ID                   int64                `json:"id"`
	Username             string               `json:"username"`
	Email                string               `json:"email"`
	Type                 string               `json:"type"` // "main" or "subaccount"
	SystemName           string               `json:"system_name"`
	LoginEnabled         bool                 `json:"login_enabled"`
	ReceiveNotifications bool                 `json:"receive_notifications"`
	Portfolio            map[string]Portfolio `json:"portfolio,omitempty"`
}

// IsMain reports whether this is the main account.
func (s Subaccount) IsMain() bool {
	return s.Type == "main"
}
