package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deribit-http/internal/config"
	"deribit-http/internal/store"
	"deribit-http/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeRPC(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"result":  result,
		"usIn":    1,
		"usOut":   2,
		"usDiff":  1,
		"testnet": true,
	})
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": code, "message": message},
	})
}

func tokenResult(access string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    900,
		"refresh_token": "refresh-" + access,
		"scope":         "connection",
	}
}

func newTestClient(t *testing.T, baseURL string, mutate func(*config.Config), opts ...Option) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.MaxRetries = 0
	cfg.Timeout = 5 * time.Second
	cfg.Credentials = config.CredentialsConfig{ClientID: "id1", ClientSecret: "s3cret"}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg, testLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestPublicCallDecodesResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/get_time", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "public calls carry no auth")
		assert.Equal(t, "deribit-http/1.0", r.Header.Get("User-Agent"))
		writeRPC(w, 1700000000000)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	ts, err := c.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts.UnixMilli())
	assert.False(t, c.Session().IsAuthenticated())
}

func TestGetTickerSendsParamsAndDecodesDecimals(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/ticker", r.URL.Path)
		assert.Equal(t, "BTC-PERPETUAL", r.URL.Query().Get("instrument_name"))
		writeRPC(w, map[string]any{
			"instrument_name": "BTC-PERPETUAL",
			"best_bid_price":  65000.5,
			"best_ask_price":  65001.0,
			"mark_price":      65000.75,
			"index_price":     64990.1,
			"stats":           map[string]any{"volume": 1234.5},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	ticker, err := c.GetTicker(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)
	require.NotNil(t, ticker.BestBidPrice)
	assert.True(t, decimal.RequireFromString("65000.5").Equal(*ticker.BestBidPrice))

	spread, ok := ticker.Spread()
	require.True(t, ok)
	assert.Equal(t, "0.5", spread.String())
}

func TestAPIErrorSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(w, http.StatusBadRequest, 10009, "not_enough_funds")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.GetStatus(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10009, apiErr.Code)
	assert.Equal(t, "not_enough_funds", apiErr.Message)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Contains(t, err.Error(), "public/status")
}

func TestNonJSONErrorBecomesStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.TestConnection(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestMissingResultIsAnError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","usIn":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.GetCurrencies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither result nor error")
}

func TestPrivateCallAuthenticatesOnce(t *testing.T) {
	t.Parallel()
	var authCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			authCalls.Add(1)
			q := r.URL.Query()
			assert.Equal(t, "client_credentials", q.Get("grant_type"))
			assert.Equal(t, "id1", q.Get("client_id"))
			assert.Equal(t, "s3cret", q.Get("client_secret"))
			writeRPC(w, tokenResult("tok1"))
		case "/private/get_account_summary":
			assert.Equal(t, "bearer tok1", r.Header.Get("Authorization"))
			assert.Equal(t, "BTC", r.URL.Query().Get("currency"))
			writeRPC(w, map[string]any{"currency": "BTC", "equity": 2.5, "maintenance_margin": 0.5})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	for i := 0; i < 3; i++ {
		sum, err := c.GetAccountSummary(context.Background(), "BTC", false)
		require.NoError(t, err)
		assert.Equal(t, "0.2", sum.MarginUsage().String())
	}
	assert.Equal(t, int32(1), authCalls.Load())

	tok, ok := c.Session().AuthToken()
	require.True(t, ok)
	assert.Equal(t, "tok1", tok.AccessToken)
}

func TestConcurrentPrivateCallsShareOneExchange(t *testing.T) {
	t.Parallel()
	var authCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			authCalls.Add(1)
			time.Sleep(50 * time.Millisecond)
			writeRPC(w, tokenResult("tok1"))
		default:
			writeRPC(w, []any{})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		handle := c.Clone()
		go func() {
			defer wg.Done()
			_, err := handle.GetPositions(context.Background(), "BTC", types.KindFuture)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), authCalls.Load())
}

func TestUnauthorizedTriggersReauthAndRetry(t *testing.T) {
	t.Parallel()
	var authCalls, privateCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			n := authCalls.Add(1)
			if n == 1 {
				writeRPC(w, tokenResult("tok1"))
				return
			}
			writeRPC(w, tokenResult("tok2"))
		case "/private/get_subaccounts":
			privateCalls.Add(1)
			if r.Header.Get("Authorization") == "bearer tok1" {
				writeRPCError(w, http.StatusBadRequest, 13009, "unauthorized")
				return
			}
			writeRPC(w, []any{map[string]any{"id": 1, "username": "main", "type": "main"}})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	subs, err := c.GetSubaccounts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsMain())

	assert.Equal(t, int32(2), authCalls.Load())
	assert.Equal(t, int32(2), privateCalls.Load())
	tok, _ := c.Session().AuthToken()
	assert.Equal(t, "tok2", tok.AccessToken)
}

func TestRejectedStatusWithRPCBodyTriggersReauth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		code    int
		message string
	}{
		{"401 with rpc code 401", http.StatusUnauthorized, 401, "Unauthorized"},
		{"403 with rpc code 403", http.StatusForbidden, 403, "Forbidden"},
		{"403 with unrelated rpc code", http.StatusForbidden, 10000, "forbidden"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var authCalls, privateCalls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/public/auth":
					if authCalls.Add(1) == 1 {
						writeRPC(w, tokenResult("tok1"))
						return
					}
					writeRPC(w, tokenResult("tok2"))
				case "/private/get_subaccounts":
					privateCalls.Add(1)
					if r.Header.Get("Authorization") == "bearer tok1" {
						writeRPCError(w, tt.status, tt.code, tt.message)
						return
					}
					writeRPC(w, []any{map[string]any{"id": 1, "username": "main", "type": "main"}})
				}
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, nil)
			subs, err := c.GetSubaccounts(context.Background(), false)
			require.NoError(t, err)
			require.Len(t, subs, 1)

			assert.Equal(t, int32(2), authCalls.Load())
			assert.Equal(t, int32(2), privateCalls.Load())
			tok, _ := c.Session().AuthToken()
			assert.Equal(t, "tok2", tok.AccessToken)
		})
	}
}

func TestPersistentRejectionReturnsAuthError(t *testing.T) {
	t.Parallel()
	var privateCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			writeRPC(w, tokenResult("tok1"))
		default:
			privateCalls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.GetOrderState(context.Background(), "ETH-1")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "after re-authentication")
	assert.Equal(t, int32(2), privateCalls.Load(), "retried exactly once")
}

func TestFailedTokenExchangeReturnsAuthError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/auth" {
			writeRPCError(w, http.StatusBadRequest, 13004, "invalid_credentials")
			return
		}
		t.Errorf("private endpoint reached without a token")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.GetPositions(context.Background(), "BTC", "")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 13004, apiErr.Code)
	assert.False(t, c.Session().IsAuthenticated())
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *config.Config) {
		cfg.Credentials = config.CredentialsConfig{}
	})
	_, err := c.GetAccountSummary(context.Background(), "BTC", false)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestRefreshGrantUsedForExpiredToken(t *testing.T) {
	t.Parallel()
	var grants []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			q := r.URL.Query()
			mu.Lock()
			grants = append(grants, q.Get("grant_type"))
			mu.Unlock()
			assert.Equal(t, "r-old", q.Get("refresh_token"))
			writeRPC(w, tokenResult("tok-new"))
		default:
			assert.Equal(t, "bearer tok-new", r.Header.Get("Authorization"))
			writeRPC(w, map[string]any{"order_id": "o1", "order_state": "open", "price": "market_price"})
		}
	}))
	defer srv.Close()

	clock := newFakeClock()
	sess := newTestSession(DefaultExpiryMargin, clock)
	sess.SetAuthToken(types.AuthToken{AccessToken: "tok-old", TokenType: "bearer", ExpiresIn: 900, RefreshToken: "r-old"})
	clock.Advance(time.Hour)

	c := newTestClient(t, srv.URL, nil, WithSession(sess))
	order, err := c.GetOrderState(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, order.Price.Market)
	assert.True(t, order.IsOpen())

	assert.Equal(t, []string{"refresh_token"}, grants)
}

func TestTokenCacheRestoresValidToken(t *testing.T) {
	t.Parallel()
	var authCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			authCalls.Add(1)
			writeRPC(w, tokenResult("fresh"))
		default:
			assert.Equal(t, "bearer cached", r.Header.Get("Authorization"))
			writeRPC(w, 3)
		}
	}))
	defer srv.Close()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.SaveToken("id1", types.StoredToken{
		Token:    types.AuthToken{AccessToken: "cached", TokenType: "bearer", ExpiresIn: 3600},
		IssuedAt: time.Now(),
	}))

	c := newTestClient(t, srv.URL, nil, WithTokenStore(st))
	n, err := c.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(0), authCalls.Load())
}

func TestSuccessfulExchangePersistsToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRPC(w, tokenResult("tok1"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, func(cfg *config.Config) {
		cfg.Auth.TokenCacheDir = dir
	})
	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok.AccessToken)

	st, err := store.Open(dir)
	require.NoError(t, err)
	saved, err := st.LoadToken("id1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "tok1", saved.Token.AccessToken)
}

func TestLogoutClearsSessionAndCache(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			writeRPC(w, tokenResult("tok1"))
		case "/private/logout":
			assert.Equal(t, "true", r.URL.Query().Get("invalidate_token"))
			writeRPC(w, "ok")
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, func(cfg *config.Config) {
		cfg.Auth.TokenCacheDir = dir
	})
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.Session().IsAuthenticated())

	st, _ := store.Open(dir)
	saved, err := st.LoadToken("id1")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestExchangeTokenReplacesSessionToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			writeRPC(w, tokenResult("main"))
		case "/public/exchange_token":
			q := r.URL.Query()
			assert.Equal(t, "refresh-main", q.Get("refresh_token"))
			assert.Equal(t, "7", q.Get("subject_id"))
			writeRPC(w, tokenResult("sub7"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	tok, err := c.ExchangeToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "sub7", tok.AccessToken)
	held, _ := c.Session().AuthToken()
	assert.Equal(t, "sub7", held.AccessToken)
}

func TestForkTokenNeedsRefreshToken(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:1", nil)

	_, err := c.ForkToken(context.Background(), "bot")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	_, err = c.ForkToken(context.Background(), "")
	require.Error(t, err)
}

func TestSignatureModeSignsEachRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/auth" {
			t.Errorf("signature mode must not call public/auth")
			return
		}
		header := r.Header.Get("Authorization")
		if !assert.True(t, strings.HasPrefix(header, "deri-hmac-sha256 "), header) {
			return
		}

		fields := map[string]string{}
		for _, kv := range strings.Split(strings.TrimPrefix(header, "deri-hmac-sha256 "), ",") {
			k, v, _ := strings.Cut(kv, "=")
			fields[k] = v
		}
		assert.Equal(t, "id1", fields["id"])
		want := expectedHMAC("s3cret",
			fields["ts"]+"\n"+fields["nonce"]+"\nGET\n"+r.URL.RequestURI()+"\n\n")
		assert.Equal(t, want, fields["sig"])
		writeRPC(w, []any{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *config.Config) {
		cfg.Auth.Mode = config.AuthModeSignature
	})
	_, err := c.GetOpenOrdersByCurrency(context.Background(), "ETH", types.KindOption)
	require.NoError(t, err)
	assert.False(t, c.Session().IsAuthenticated())
}

func TestBuyValidatesBeforeSending(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("invalid order must not be sent")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Buy(context.Background(), types.OrderRequest{
		InstrumentName: "BTC-PERPETUAL",
		Price:          decimal.NewFromInt(65000),
	})
	assert.ErrorIs(t, err, types.ErrInvalidOrder)
}

func TestBuySendsOrderParams(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			writeRPC(w, tokenResult("tok1"))
		case "/private/buy":
			q := r.URL.Query()
			assert.Equal(t, "BTC-PERPETUAL", q.Get("instrument_name"))
			assert.Equal(t, "10", q.Get("amount"))
			assert.Equal(t, "limit", q.Get("type"))
			assert.Equal(t, "65000.5", q.Get("price"))
			assert.Equal(t, "good_til_cancelled", q.Get("time_in_force"))
			assert.Equal(t, "true", q.Get("post_only"))
			assert.False(t, q.Has("contracts"))
			writeRPC(w, map[string]any{
				"order": map[string]any{
					"order_id":      "ETH-123",
					"direction":     "buy",
					"order_state":   "open",
					"price":         65000.5,
					"amount":        10,
					"filled_amount": 4,
				},
				"trades": []any{},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	res, err := c.Buy(context.Background(), types.OrderRequest{
		InstrumentName: "BTC-PERPETUAL",
		Amount:         decimal.NewFromInt(10),
		Price:          decimal.RequireFromString("65000.5"),
		PostOnly:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ETH-123", res.Order.OrderID)
	assert.Equal(t, "6", res.Order.RemainingAmount().String())
}

func TestDryRunMutatingCalls(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:1", func(cfg *config.Config) {
		cfg.DryRun = true
	})
	ctx := context.Background()

	res, err := c.Sell(ctx, types.OrderRequest{
		InstrumentName: "ETH-PERPETUAL",
		Amount:         decimal.NewFromInt(1),
		Type:           types.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, types.Sell, res.Order.Direction)
	assert.True(t, res.Order.Price.Market)
	assert.NotEmpty(t, res.Order.OrderID)

	edited, err := c.Edit(ctx, types.EditOrderRequest{OrderID: "o1", Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.True(t, edited.Order.Replaced)

	cancelled, err := c.Cancel(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.OrderState)

	n, err := c.CancelAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.CancelAllByInstrument(ctx, "ETH-PERPETUAL")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRateLimitContextCancelledBeforeSend(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeRPC(w, map[string]any{"version": "1.2.26"})
	}))
	defer srv.Close()

	rl, err := NewRateLimiterWithLimits(map[Category]Limit{CategoryGeneral: {1, 1}})
	require.NoError(t, err)
	c := newTestClient(t, srv.URL, nil, WithRateLimiter(rl))

	v, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.26", v)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.TestConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCloneSharesLimiterAndSession(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	clone := c.Clone()

	assert.Same(t, c.RateLimiter(), clone.RateLimiter())
	assert.Same(t, c.Session(), clone.Session())
}

func TestRateLimitsFromConfig(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:1", func(cfg *config.Config) {
		cfg.RateLimits = map[string]config.LimitConfig{"trading": {Capacity: 5, RefillRate: 2}}
	})
	assert.Equal(t, Limit{Capacity: 5, RefillRate: 2}, c.RateLimiter().Limit(CategoryTrading))
	assert.Equal(t, Limit{Capacity: 500, RefillRate: 400}, c.RateLimiter().Limit(CategoryMarketData))

	cfg := config.Default()
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.RateLimits = map[string]config.LimitConfig{"wallet": {Capacity: 1, RefillRate: 1}}
	_, err := NewClient(cfg, testLogger())
	assert.Error(t, err)
}

func TestMetricsRecordPipelineOutcomes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/auth":
			writeRPC(w, tokenResult("tok1"))
		case "/public/get_order_book":
			writeRPC(w, map[string]any{
				"instrument_name": "BTC-PERPETUAL",
				"bids":            [][]float64{{100, 1}, {99.5, 2}},
				"asks":            [][]float64{{101, 3}},
			})
		default:
			writeRPCError(w, http.StatusBadRequest, 11050, "bad_request")
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	c := newTestClient(t, srv.URL, nil, WithMetrics(m))

	book, err := c.GetOrderBook(context.Background(), "BTC-PERPETUAL", 5)
	require.NoError(t, err)
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "100", bid.Price.String())

	_, err = c.GetPosition(context.Background(), "BTC-PERPETUAL")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("market_data", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("general", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authRuns.WithLabelValues("client_credentials", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.granted.WithLabelValues("auth")))
}

func TestIsUnauthorized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"401", &StatusError{StatusCode: 401}, true},
		{"403", &StatusError{StatusCode: 403}, true},
		{"500", &StatusError{StatusCode: 500}, false},
		{"rpc unauthorized", &APIError{Code: 13009}, true},
		{"rpc invalid credentials", &APIError{Code: 13004}, true},
		{"rpc other", &APIError{Code: 10009}, false},
		{"rpc body on 401", &APIError{Code: 401, HTTPStatus: 401}, true},
		{"rpc body on 403", &APIError{Code: 10000, HTTPStatus: 403}, true},
		{"rpc other on 400", &APIError{Code: 10009, HTTPStatus: 400}, false},
		{"wrapped", errors.Join(errors.New("x"), &APIError{Code: 13009}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isUnauthorized(tt.err))
		})
	}
}
