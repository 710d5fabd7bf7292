package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"deribit-http/pkg/types"
)

// Buy places a buy order.
func (c *Client) Buy(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return c.placeOrder(ctx, types.Buy, req)
}

// Sell places a sell order.
func (c *Client) Sell(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return c.placeOrder(ctx, types.Sell, req)
}

func (c *Client) placeOrder(ctx context.Context, dir types.Direction, req types.OrderRequest) (*types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s order: %w", dir, err)
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"direction", dir,
			"instrument", req.InstrumentName,
			"type", req.EffectiveType(),
			"price", req.Price,
		)
		return &types.OrderResult{Order: types.Order{
			OrderID:        "dry-run-" + string(dir),
			InstrumentName: req.InstrumentName,
			Direction:      dir,
			OrderType:      req.EffectiveType(),
			OrderState:     "open",
			TimeInForce:    req.EffectiveTimeInForce(),
			Price:          types.OrderPrice{Value: req.Price, Market: req.EffectiveType() == types.OrderTypeMarket},
			Amount:         req.Amount,
			Contracts:      req.Contracts,
			Label:          req.Label,
			PostOnly:       req.PostOnly,
			ReduceOnly:     req.ReduceOnly,
		}}, nil
	}

	var res types.OrderResult
	if err := c.call(ctx, "private/"+string(dir), orderParams(req), &res); err != nil {
		return nil, err
	}
	c.logger.Info("order placed",
		"direction", dir,
		"instrument", req.InstrumentName,
		"order_id", res.Order.OrderID,
		"state", res.Order.OrderState,
		"fills", len(res.Trades),
	)
	return &res, nil
}

// orderParams converts an order request into private/buy|sell parameters.
func orderParams(req types.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("instrument_name", req.InstrumentName)
	if !req.Amount.IsZero() {
		params.Set("amount", req.Amount.String())
	}
	if !req.Contracts.IsZero() {
		params.Set("contracts", req.Contracts.String())
	}
	params.Set("type", string(req.EffectiveType()))
	if !req.Price.IsZero() && req.EffectiveType() != types.OrderTypeMarket {
		params.Set("price", req.Price.String())
	}
	if req.Label != "" {
		params.Set("label", req.Label)
	}
	params.Set("time_in_force", string(req.EffectiveTimeInForce()))
	if req.PostOnly {
		params.Set("post_only", "true")
	}
	if req.ReduceOnly {
		params.Set("reduce_only", "true")
	}
	if !req.TriggerPrice.IsZero() {
		params.Set("trigger_price", req.TriggerPrice.String())
		params.Set("trigger", req.Trigger)
	}
	return params
}

// Edit changes the amount and/or price of an open order.
func (c *Client) Edit(ctx context.Context, req types.EditOrderRequest) (*types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("edit order: %w", err)
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would edit order", "order_id", req.OrderID)
		return &types.OrderResult{Order: types.Order{
			OrderID:    req.OrderID,
			OrderState: "open",
			Price:      types.OrderPrice{Value: req.Price},
			Amount:     req.Amount,
			Contracts:  req.Contracts,
			Replaced:   true,
		}}, nil
	}

	params := url.Values{}
	params.Set("order_id", req.OrderID)
	if !req.Amount.IsZero() {
		params.Set("amount", req.Amount.String())
	}
	if !req.Contracts.IsZero() {
		params.Set("contracts", req.Contracts.String())
	}
	if !req.Price.IsZero() {
		params.Set("price", req.Price.String())
	}
	if req.PostOnly {
		params.Set("post_only", "true")
	}
	if req.ReduceOnly {
		params.Set("reduce_only", "true")
	}

	var res types.OrderResult
	if err := c.call(ctx, "private/edit", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel cancels one order by id.
func (c *Client) Cancel(ctx context.Context, orderID string) (*types.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("cancel: %w: order_id is required", types.ErrInvalidOrder)
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return &types.Order{OrderID: orderID, OrderState: "cancelled"}, nil
	}

	params := url.Values{}
	params.Set("order_id", orderID)

	var res types.Order
	if err := c.call(ctx, "private/cancel", params, &res); err != nil {
		return nil, err
	}
	c.logger.Info("order cancelled", "order_id", orderID)
	return &res, nil
}

// CancelAll cancels every open order and returns how many were cancelled.
func (c *Client) CancelAll(ctx context.Context) (int, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return 0, nil
	}

	var n int
	if err := c.call(ctx, "private/cancel_all", nil, &n); err != nil {
		return 0, err
	}
	c.logger.Warn("all orders cancelled", "count", n)
	return n, nil
}

// CancelAllByInstrument cancels every open order on one instrument.
func (c *Client) CancelAllByInstrument(ctx context.Context, instrument string) (int, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel instrument orders", "instrument", instrument)
		return 0, nil
	}

	params := url.Values{}
	params.Set("instrument_name", instrument)

	var n int
	if err := c.call(ctx, "private/cancel_all_by_instrument", params, &n); err != nil {
		return 0, err
	}
	c.logger.Info("instrument orders cancelled", "instrument", instrument, "count", n)
	return n, nil
}

// GetOrderState fetches one order by id.
func (c *Client) GetOrderState(ctx context.Context, orderID string) (*types.Order, error) {
	params := url.Values{}
	params.Set("order_id", orderID)

	var res types.Order
	if err := c.call(ctx, "private/get_order_state", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetOpenOrdersByCurrency lists open orders. An empty kind returns all kinds.
func (c *Client) GetOpenOrdersByCurrency(ctx context.Context, currency string, kind types.InstrumentKind) ([]types.Order, error) {
	params := url.Values{}
	params.Set("currency", currency)
	if kind != "" {
		params.Set("kind", string(kind))
	}

	var res []types.Order
	if err := c.call(ctx, "private/get_open_orders_by_currency", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetAccountSummary returns balances and margins for one currency.
func (c *Client) GetAccountSummary(ctx context.Context, currency string, extended bool) (*types.AccountSummary, error) {
	params := url.Values{}
	params.Set("currency", currency)
	if extended {
		params.Set("extended", "true")
	}

	var res types.AccountSummary
	if err := c.call(ctx, "private/get_account_summary", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPositions lists positions for a currency. An empty kind returns all kinds.
func (c *Client) GetPositions(ctx context.Context, currency string, kind types.InstrumentKind) ([]types.Position, error) {
	params := url.Values{}
	params.Set("currency", currency)
	if kind != "" {
		params.Set("kind", string(kind))
	}

	var res []types.Position
	if err := c.call(ctx, "private/get_positions", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetPosition returns the position in one instrument.
func (c *Client) GetPosition(ctx context.Context, instrument string) (*types.Position, error) {
	params := url.Values{}
	params.Set("instrument_name", instrument)

	var res types.Position
	if err := c.call(ctx, "private/get_position", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSubaccounts lists the main account and its subaccounts.
func (c *Client) GetSubaccounts(ctx context.Context, withPortfolio bool) ([]types.Subaccount, error) {
	params := url.Values{}
	if withPortfolio {
		params.Set("with_portfolio", "true")
	}

	var res []types.Subaccount
	if err := c.call(ctx, "private/get_subaccounts", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetUserTradesByInstrument returns our most recent fills on an instrument.
// A count of zero uses the server default.
func (c *Client) GetUserTradesByInstrument(ctx context.Context, instrument string, count int) (*types.UserTradesPage, error) {
	params := url.Values{}
	params.Set("instrument_name", instrument)
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var res types.UserTradesPage
	if err := c.call(ctx, "private/get_user_trades_by_instrument", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
