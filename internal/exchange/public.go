package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"deribit-http/pkg/types"
)

// GetServerTime returns the exchange clock.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	var ms int64
	if err := c.call(ctx, "public/get_time", nil, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// TestConnection checks connectivity and returns the API version.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var res types.TestResult
	if err := c.call(ctx, "public/test", nil, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// GetStatus returns whether the platform is locked.
func (c *Client) GetStatus(ctx context.Context) (*types.Status, error) {
	var res types.Status
	if err := c.call(ctx, "public/status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetCurrencies lists all supported currencies.
func (c *Client) GetCurrencies(ctx context.Context) ([]types.Currency, error) {
	var res []types.Currency
	if err := c.call(ctx, "public/get_currencies", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetIndexPrice returns the current value of an index such as "btc_usd".
func (c *Client) GetIndexPrice(ctx context.Context, indexName string) (*types.IndexPrice, error) {
	if indexName == "" {
		return nil, fmt.Errorf("get index price: index name is required")
	}
	params := url.Values{}
	params.Set("index_name", indexName)

	var res types.IndexPrice
	if err := c.call(ctx, "public/get_index_price", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTicker fetches the ticker for a single instrument.
func (c *Client) GetTicker(ctx context.Context, instrument string) (*types.Ticker, error) {
	if instrument == "" {
		return nil, fmt.Errorf("get ticker: instrument name is required")
	}
	params := url.Values{}
	params.Set("instrument_name", instrument)

	var res types.Ticker
	if err := c.call(ctx, "public/ticker", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetOrderBook fetches the order book for an instrument. A depth of zero
// uses the server default.
func (c *Client) GetOrderBook(ctx context.Context, instrument string, depth int) (*types.OrderBook, error) {
	if instrument == "" {
		return nil, fmt.Errorf("get order book: instrument name is required")
	}
	params := url.Values{}
	params.Set("instrument_name", instrument)
	if depth > 0 {
		params.Set("depth", strconv.Itoa(depth))
	}

	var res types.OrderBook
	if err := c.call(ctx, "public/get_order_book", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetInstruments lists instruments for a currency. An empty kind returns all kinds.
func (c *Client) GetInstruments(ctx context.Context, currency string, kind types.InstrumentKind, expired bool) ([]types.Instrument, error) {
	params := url.Values{}
	params.Set("currency", currency)
	if kind != "" {
		params.Set("kind", string(kind))
	}
	if expired {
		params.Set("expired", "true")
	}

	var res []types.Instrument
	if err := c.call(ctx, "public/get_instruments", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetInstrument fetches a single instrument's contract details.
func (c *Client) GetInstrument(ctx context.Context, name string) (*types.Instrument, error) {
	params := url.Values{}
	params.Set("instrument_name", name)

	var res types.Instrument
	if err := c.call(ctx, "public/get_instrument", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetContractSize returns the contract multiplier of an instrument.
func (c *Client) GetContractSize(ctx context.Context, name string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("instrument_name", name)

	var res types.ContractSizeResult
	if err := c.call(ctx, "public/get_contract_size", params, &res); err != nil {
		return decimal.Zero, err
	}
	return res.ContractSize, nil
}

// GetLastTradesByInstrument returns the most recent public trades. A count
// of zero uses the server default.
func (c *Client) GetLastTradesByInstrument(ctx context.Context, name string, count int) (*types.TradesPage, error) {
	params := url.Values{}
	params.Set("instrument_name", name)
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var res types.TradesPage
	if err := c.call(ctx, "public/get_last_trades_by_instrument", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBookSummaryByCurrency returns top-of-book summaries for every instrument
// of a currency.
func (c *Client) GetBookSummaryByCurrency(ctx context.Context, currency string, kind types.InstrumentKind) ([]types.BookSummary, error) {
	params := url.Values{}
	params.Set("currency", currency)
	if kind != "" {
		params.Set("kind", string(kind))
	}

	var res []types.BookSummary
	if err := c.call(ctx, "public/get_book_summary_by_currency", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}
