package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"deribit-http/pkg/types"
)

// Authenticate exchanges the configured credentials for a fresh token,
// replacing any token the session holds. Callers racing with a token renewal
// share its result.
func (c *Client) Authenticate(ctx context.Context) (types.AuthToken, error) {
	if !c.auth.HasCredentials() {
		return types.AuthToken{}, &AuthError{Reason: "authenticate", Err: ErrNoCredentials}
	}

	ch := c.authFlight.DoChan("token", func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx), c.grant, "")
	})
	select {
	case <-ctx.Done():
		return types.AuthToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.AuthToken{}, res.Err
		}
	}

	tok, ok := c.session.AuthToken()
	if !ok {
		return types.AuthToken{}, &AuthError{Reason: "session cleared after authenticating"}
	}
	return tok, nil
}

// Logout asks the server to invalidate the token, then forgets it locally
// and removes it from the token cache. Local state is cleared even if the
// server call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.signed || !c.session.IsAuthenticated() {
		return nil
	}

	var err error
	if c.session.Valid() {
		params := url.Values{}
		params.Set("invalidate_token", "true")
		err = c.call(ctx, "private/logout", params, nil)
	}

	c.session.ClearAuthToken()
	if c.tokens != nil && c.auth.HasCredentials() {
		if derr := c.tokens.DeleteToken(c.auth.ClientID()); derr != nil {
			err = errors.Join(err, derr)
		}
	}
	c.logger.Info("logged out")
	return err
}

// ExchangeToken trades the session's refresh token for a token scoped to
// another subaccount (subjectID) and installs it.
func (c *Client) ExchangeToken(ctx context.Context, subjectID int64) (types.AuthToken, error) {
	params := url.Values{}
	params.Set("subject_id", strconv.FormatInt(subjectID, 10))
	return c.replaceToken(ctx, "public/exchange_token", params)
}

// ForkToken creates a token for a new named session from the session's
// refresh token and installs it.
func (c *Client) ForkToken(ctx context.Context, sessionName string) (types.AuthToken, error) {
	if sessionName == "" {
		return types.AuthToken{}, fmt.Errorf("fork token: session name is required")
	}
	params := url.Values{}
	params.Set("session_name", sessionName)
	return c.replaceToken(ctx, "public/fork_token", params)
}

func (c *Client) replaceToken(ctx context.Context, method string, params url.Values) (types.AuthToken, error) {
	held, ok := c.session.AuthToken()
	if !ok || !held.HasRefreshToken() {
		return types.AuthToken{}, &AuthError{Reason: method + " requires a refresh token; authenticate first"}
	}
	params.Set("refresh_token", held.RefreshToken)

	var tok types.AuthToken
	if err := c.call(ctx, method, params, &tok); err != nil {
		return types.AuthToken{}, &AuthError{Reason: method, Err: err}
	}
	if tok.AccessToken == "" {
		return types.AuthToken{}, &AuthError{Reason: method + " returned an empty access token"}
	}
	c.install(tok)
	return tok, nil
}
