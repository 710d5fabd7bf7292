package exchange

import (
	"sync"
	"time"

	"deribit-http/pkg/types"
)

// DefaultExpiryMargin is how long before the server-side expiry a token is
// already treated as expired.
const DefaultExpiryMargin = 60 * time.Second

// Session holds the current bearer token. One Session is shared by pointer
// between every Client handle created with WithSession or Clone, so a token
// obtained or cleared through any handle is seen by all of them.
//
// The zero value is not usable; call NewSession.
type Session struct {
	mu       sync.RWMutex
	token    *types.AuthToken
	issuedAt time.Time
	margin   time.Duration
	now      func() time.Time
}

// NewSession returns an unauthenticated session using DefaultExpiryMargin.
func NewSession() *Session {
	return NewSessionWithMargin(DefaultExpiryMargin)
}

// NewSessionWithMargin returns an unauthenticated session that treats tokens
// as expired margin before their real expiry.
func NewSessionWithMargin(margin time.Duration) *Session {
	if margin < 0 {
		margin = 0
	}
	return &Session{margin: margin, now: time.Now}
}

// SetAuthToken replaces the held token and records the current time as its
// issue time.
func (s *Session) SetAuthToken(t types.AuthToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &t
	s.issuedAt = s.now()
}

// Restore installs a token persisted earlier, keeping its original issue time.
func (s *Session) Restore(st types.StoredToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := st.Token
	s.token = &t
	s.issuedAt = st.IssuedAt
}

// AuthToken returns a copy of the held token.
func (s *Session) AuthToken() (types.AuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return types.AuthToken{}, false
	}
	return *s.token, true
}

// Stored returns the held token with its issue time.
func (s *Session) Stored() (types.StoredToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return types.StoredToken{}, false
	}
	return types.StoredToken{Token: *s.token, IssuedAt: s.issuedAt}, true
}

// IsAuthenticated reports whether a token is held, expired or not.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil
}

// ClearAuthToken drops the held token.
func (s *Session) ClearAuthToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	s.issuedAt = time.Time{}
}

// AuthorizationHeader formats the Authorization header value as
// "{token_type} {access_token}".
func (s *Session) AuthorizationHeader() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return "", false
	}
	return formatAuthorization(*s.token), true
}

// clearIf drops the held token only if it is still accessToken, so a
// rejection of an old token can't discard a newer one.
func (s *Session) clearIf(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.AccessToken != accessToken {
		return false
	}
	s.token = nil
	s.issuedAt = time.Time{}
	return true
}

// IsTokenExpired reports whether the held token is within the expiry margin
// of its lifetime. It is false when no token is held.
func (s *Session) IsTokenExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil && s.expiredLocked()
}

// Valid reports whether a token is held and not expired.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil && !s.expiredLocked()
}

// ExpiresAt returns the server-side expiry of the held token.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return time.Time{}, false
	}
	return s.issuedAt.Add(s.token.Lifetime()), true
}

func (s *Session) expiredLocked() bool {
	deadline := s.issuedAt.Add(s.token.Lifetime() - s.margin)
	return !s.now().Before(deadline)
}

func formatAuthorization(t types.AuthToken) string {
	return t.TokenType + " " + t.AccessToken
}
