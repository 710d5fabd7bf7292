// Package exchange implements the Deribit REST and WebSocket clients.
//
// Every REST call goes through one pipeline (Client.call):
//
//  1. Categorize the method path into a rate limit Category.
//  2. Block in RateLimiter.WaitForPermission until a token is granted.
//  3. For private/* methods, attach an Authorization header: the session's
//     bearer token (obtained or renewed via public/auth first if needed), or
//     a per-request deri-hmac-sha256 signature in signature mode.
//  4. Send as GET with query parameters (resty, retried on 5xx/429).
//  5. If the server rejects the token (HTTP 401/403 or RPC 13009/13004),
//     clear it, re-authenticate and retry exactly once.
//  6. Decode the JSON-RPC envelope; "error" becomes *APIError and "result"
//     is decoded into the typed model.
//
// The session, limiter and token exchange are shared by every handle
// returned from Clone, so concurrent callers never exchange credentials
// more than once for the same expiry.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"deribit-http/internal/config"
	"deribit-http/internal/store"
	"deribit-http/pkg/types"
)

// TokenStore persists tokens across restarts. *store.Store implements it.
type TokenStore interface {
	SaveToken(clientID string, tok types.StoredToken) error
	LoadToken(clientID string) (*types.StoredToken, error)
	DeleteToken(clientID string) error
}

// Client is the Deribit REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http       *resty.Client       // HTTP client with retry + base URL
	auth       *Auth               // credentials, grants and request signing
	rl         *RateLimiter        // per-endpoint-category rate limiting
	session    *Session            // bearer token shared with clones
	authFlight *singleflight.Group // collapses concurrent token exchanges
	tokens     TokenStore          // optional token cache
	metrics    *Metrics
	grant      types.GrantType // credentials grant used by public/auth
	signed     bool            // sign every private request instead of using a token
	basePath   string          // path prefix of the base URL, part of signed URIs
	dryRun     bool            // when true, mutating methods return fake success without HTTP calls
	logger     *slog.Logger
}

// Option customizes a Client built by NewClient.
type Option func(*Client)

// WithSession shares an existing session instead of creating a new one.
func WithSession(s *Session) Option {
	return func(c *Client) { c.session = s }
}

// WithRateLimiter shares an existing limiter instead of creating one from config.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) { c.rl = rl }
}

// WithMetrics records request, auth and limiter metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTokenStore overrides the token cache configured by auth.token_cache_dir.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// NewClient creates a REST client with rate limiting, retry and auth.
func NewClient(cfg config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.APIURL())
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL(), "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)

	grant := types.GrantType(cfg.Auth.Grant)
	if grant == "" {
		grant = types.GrantClientCredentials
	}

	c := &Client{
		http: httpClient,
		auth: NewAuth(Credentials{
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
		}, cfg.Auth.Scope),
		authFlight: &singleflight.Group{},
		grant:      grant,
		signed:     cfg.Auth.Mode == config.AuthModeSignature,
		basePath:   strings.TrimRight(base.Path, "/"),
		dryRun:     cfg.DryRun,
		logger:     logger.With("component", "rest"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.rl == nil {
		limits, err := limitsFromConfig(cfg.RateLimits)
		if err != nil {
			return nil, err
		}
		if c.rl, err = NewRateLimiterWithLimits(limits); err != nil {
			return nil, err
		}
		c.rl.Instrument(c.metrics)
	}
	if c.session == nil {
		c.session = NewSessionWithMargin(cfg.Auth.ExpiryMargin)
	}
	if c.tokens == nil && cfg.Auth.TokenCacheDir != "" {
		st, err := store.Open(cfg.Auth.TokenCacheDir)
		if err != nil {
			return nil, fmt.Errorf("open token cache: %w", err)
		}
		c.tokens = st
	}

	return c, nil
}

// limitsFromConfig converts rate_limits entries keyed by category name.
func limitsFromConfig(cfg map[string]config.LimitConfig) (map[Category]Limit, error) {
	limits := make(map[Category]Limit, len(cfg))
	for name, l := range cfg {
		cat, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		limits[cat] = Limit{Capacity: l.Capacity, RefillRate: l.RefillRate}
	}
	return limits, nil
}

// Clone returns a handle sharing this client's session, rate limiter, token
// exchange and HTTP transport.
func (c *Client) Clone() *Client {
	cp := *c
	return &cp
}

// Session returns the shared session.
func (c *Client) Session() *Session { return c.session }

// RateLimiter returns the shared rate limiter.
func (c *Client) RateLimiter() *RateLimiter { return c.rl }

// rpcResponse is the JSON-RPC envelope of every REST response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
	UsIn    int64           `json:"usIn"`
	UsOut   int64           `json:"usOut"`
	UsDiff  int64           `json:"usDiff"`
	Testnet bool            `json:"testnet"`
}

// call runs one method through the request pipeline and decodes its result
// into out (which may be nil).
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	path := "/" + method
	private := strings.HasPrefix(method, "private/")
	cat := Categorize(path)

	raw, used, err := c.send(ctx, cat, path, params, private)
	// Only a token the server actually saw is worth replacing.
	if err != nil && used != "" && isUnauthorized(err) {
		c.logger.Warn("token rejected, re-authenticating", "method", method, "error", err)
		c.invalidate(used)
		raw, _, err = c.send(ctx, cat, path, params, private)
		if err != nil && isUnauthorized(err) {
			err = &AuthError{Reason: "request rejected after re-authentication", Err: err}
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// send performs a single attempt: admission, auth header, HTTP, envelope.
// It returns the access token it sent so a rejection only clears that token.
func (c *Client) send(ctx context.Context, cat Category, path string, params url.Values, private bool) (json.RawMessage, string, error) {
	if err := c.rl.WaitForPermission(ctx, cat); err != nil {
		return nil, "", fmt.Errorf("rate limit %s: %w", cat, err)
	}

	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	var used string
	if private {
		header, token, err := c.authorization(ctx, path, params)
		if err != nil {
			c.metrics.observeRequest(cat, "auth_error")
			return nil, "", err
		}
		used = token
		req.SetHeader("Authorization", header)
	}

	resp, err := req.Get(path)
	if err != nil {
		c.metrics.observeRequest(cat, "transport_error")
		return nil, used, fmt.Errorf("send: %w", err)
	}

	raw, err := parseResponse(resp.StatusCode(), resp.Body())
	switch {
	case err == nil:
		c.metrics.observeRequest(cat, "ok")
	case isUnauthorized(err):
		c.metrics.observeRequest(cat, "unauthorized")
	default:
		c.metrics.observeRequest(cat, "error")
	}
	return raw, used, err
}

func parseResponse(status int, body []byte) (json.RawMessage, error) {
	var env rpcResponse
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 300 {
			return nil, &StatusError{StatusCode: status, Body: truncate(string(body), 256)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		env.Error.HTTPStatus = status
		return nil, env.Error
	}
	if status >= 300 {
		return nil, &StatusError{StatusCode: status, Body: truncate(string(body), 256)}
	}
	if len(env.Result) == 0 {
		return nil, errors.New("response has neither result nor error")
	}
	return env.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// authorization returns the Authorization header for a private request and
// the access token it carries (empty in signature mode).
func (c *Client) authorization(ctx context.Context, path string, params url.Values) (string, string, error) {
	if c.signed {
		uri := c.basePath + path
		if q := params.Encode(); q != "" {
			uri += "?" + q
		}
		header, err := c.auth.SignRequest(http.MethodGet, uri, "")
		if err != nil {
			return "", "", &AuthError{Reason: "sign request", Err: err}
		}
		return header, "", nil
	}

	if err := c.ensureToken(ctx); err != nil {
		return "", "", err
	}
	tok, ok := c.session.AuthToken()
	if !ok {
		return "", "", &AuthError{Reason: "session cleared while sending request"}
	}
	return formatAuthorization(tok), tok.AccessToken, nil
}

// ensureToken makes sure the session holds a valid token. Concurrent callers
// share one exchange; each may still give up early through its own ctx.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.session.Valid() {
		return nil
	}
	ch := c.authFlight.DoChan("token", func() (any, error) {
		if c.session.Valid() {
			return nil, nil
		}
		return c.obtainToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// obtainToken renews the token by the cheapest available route: the token
// cache, then the refresh grant, then the configured credentials grant.
func (c *Client) obtainToken(ctx context.Context) (*types.AuthToken, error) {
	if !c.session.IsAuthenticated() && c.restoreCachedToken() {
		return nil, nil
	}

	if held, ok := c.session.AuthToken(); ok && held.HasRefreshToken() {
		tok, err := c.exchange(ctx, types.GrantRefreshToken, held.RefreshToken)
		if err == nil {
			return tok, nil
		}
		c.logger.Warn("refresh grant failed, falling back to credentials", "error", err)
	}

	if !c.auth.HasCredentials() {
		return nil, &AuthError{Reason: "private request without credentials", Err: ErrNoCredentials}
	}
	return c.exchange(ctx, c.grant, "")
}

// restoreCachedToken loads a persisted token into the session and reports
// whether it is still valid.
func (c *Client) restoreCachedToken() bool {
	if c.tokens == nil || !c.auth.HasCredentials() {
		return false
	}
	st, err := c.tokens.LoadToken(c.auth.ClientID())
	if err != nil {
		c.logger.Warn("load cached token", "error", err)
		return false
	}
	if st == nil {
		return false
	}
	c.session.Restore(*st)
	if !c.session.Valid() {
		// An expired token is kept only if the refresh grant can renew it.
		if !st.Token.HasRefreshToken() {
			c.session.ClearAuthToken()
		}
		return false
	}
	c.logger.Info("restored cached token", "expires_at", st.ExpiresAt())
	return true
}

// exchange calls public/auth with grant and installs the resulting token.
func (c *Client) exchange(ctx context.Context, grant types.GrantType, refreshToken string) (*types.AuthToken, error) {
	params, err := c.auth.GrantParams(grant, refreshToken)
	if err != nil {
		return nil, &AuthError{Reason: fmt.Sprintf("%s grant", grant), Err: err}
	}

	raw, _, err := c.send(ctx, CategoryAuth, "/public/auth", params, false)
	if err != nil {
		c.metrics.observeAuth(string(grant), "error")
		return nil, &AuthError{Reason: fmt.Sprintf("%s grant", grant), Err: err}
	}
	var tok types.AuthToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		c.metrics.observeAuth(string(grant), "error")
		return nil, &AuthError{Reason: "decode public/auth result", Err: err}
	}
	if tok.AccessToken == "" {
		c.metrics.observeAuth(string(grant), "error")
		return nil, &AuthError{Reason: "public/auth returned an empty access token"}
	}

	c.metrics.observeAuth(string(grant), "ok")
	c.install(tok)
	c.logger.Info("authenticated",
		"grant", grant,
		"expires_in", tok.ExpiresIn,
		"scope", tok.Scope,
	)
	return &tok, nil
}

// install sets tok on the session and persists it.
func (c *Client) install(tok types.AuthToken) {
	c.session.SetAuthToken(tok)
	if c.tokens == nil || !c.auth.HasCredentials() {
		return
	}
	if st, ok := c.session.Stored(); ok {
		if err := c.tokens.SaveToken(c.auth.ClientID(), st); err != nil {
			c.logger.Warn("save cached token", "error", err)
		}
	}
}

// invalidate drops a rejected token, unless another goroutine already
// replaced it.
func (c *Client) invalidate(rejected string) {
	if !c.session.clearIf(rejected) {
		return
	}
	if c.tokens != nil && c.auth.HasCredentials() {
		if err := c.tokens.DeleteToken(c.auth.ClientID()); err != nil {
			c.logger.Warn("delete cached token", "error", err)
		}
	}
}
