// ratelimit.go implements token-bucket admission control for the Deribit API.
//
// Deribit publishes both a burst and a sustained request limit, so every
// endpoint category gets its own bucket: capacity is the burst allowance and
// refill rate the sustained requests per second.
//
// Five buckets are maintained (capacity / refill per second):
//   - Trading:    250 / 200  (buy, sell, cancel, edit)
//   - MarketData: 500 / 400  (ticker, order book, trades, instruments)
//   - Account:    200 / 150  (account summary, positions, subaccounts)
//   - Auth:        50 /  30  (public/auth, private/logout)
//   - General:    300 / 200  (everything else)
//
// Tokens are whole integers. A bucket only advances its refill clock when at
// least one whole token is added, so partial seconds accumulate instead of
// being lost.
package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// minPollInterval bounds how often WaitForPermission re-checks a bucket.
const minPollInterval = 10 * time.Millisecond

// Category is a closed set of endpoint classes sharing one quota.
type Category int

const (
	CategoryTrading Category = iota
	CategoryMarketData
	CategoryAccount
	CategoryAuth
	CategoryGeneral

	numCategories
)

// Categories lists every category in declaration order.
var Categories = [numCategories]Category{
	CategoryTrading,
	CategoryMarketData,
	CategoryAccount,
	CategoryAuth,
	CategoryGeneral,
}

func (c Category) String() string {
	switch c {
	case CategoryTrading:
		return "trading"
	case CategoryMarketData:
		return "market_data"
	case CategoryAccount:
		return "account"
	case CategoryAuth:
		return "auth"
	case CategoryGeneral:
		return "general"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown rate limit category %q", name)
}

// Limit is the burst capacity and sustained refill rate of one bucket.
type Limit struct {
	Capacity   int
	RefillRate int // tokens per second
}

// DefaultLimits returns the built-in per-category limits.
func DefaultLimits() map[Category]Limit {
	return map[Category]Limit{
		CategoryTrading:    {Capacity: 250, RefillRate: 200},
		CategoryMarketData: {Capacity: 500, RefillRate: 400},
		CategoryAccount:    {Capacity: 200, RefillRate: 150},
		CategoryAuth:       {Capacity: 50, RefillRate: 30},
		CategoryGeneral:    {Capacity: 300, RefillRate: 200},
	}
}

// TokenBucket is a single category's rate budget with lazy, integer refill.
// It is not safe for concurrent use on its own; RateLimiter serializes access.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket. Capacity and refill rate must be >= 1.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// TryConsume refills, then takes one token if any is available.
func (tb *TokenBucket) TryConsume() bool {
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// TimeUntilToken estimates the wait for the next token. It is zero while
// tokens remain, otherwise the duration of one refill step.
func (tb *TokenBucket) TimeUntilToken() time.Duration {
	if tb.tokens > 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(tb.refillRate))
}

// Tokens refills and returns the current token count.
func (tb *TokenBucket) Tokens() int {
	tb.refill()
	return tb.tokens
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	add := math.Floor(elapsed * float64(tb.refillRate))
	if add < 1 {
		return
	}
	if add >= float64(tb.capacity) {
		tb.tokens = tb.capacity
	} else {
		tb.tokens = min(tb.capacity, tb.tokens+int(add))
	}
	tb.lastRefill = now
}

// RateLimiter owns one TokenBucket per Category. Every outbound request must
// pass WaitForPermission or CheckPermission before it is sent.
type RateLimiter struct {
	mu      sync.Mutex
	buckets [numCategories]*TokenBucket
	limits  [numCategories]Limit
	metrics *Metrics
}

// NewRateLimiter creates a limiter with the default Deribit limits.
func NewRateLimiter() *RateLimiter {
	rl, err := NewRateLimiterWithLimits(nil)
	if err != nil {
		panic(err) // defaults are always valid
	}
	return rl
}

// NewRateLimiterWithLimits creates a limiter, overriding the defaults for any
// category present in overrides.
func NewRateLimiterWithLimits(overrides map[Category]Limit) (*RateLimiter, error) {
	return newRateLimiter(overrides, time.Now)
}

func newRateLimiter(overrides map[Category]Limit, now func() time.Time) (*RateLimiter, error) {
	limits := DefaultLimits()
	for cat, l := range overrides {
		if cat < 0 || cat >= numCategories {
			return nil, fmt.Errorf("rate limit: unknown category %s", cat)
		}
		limits[cat] = l
	}

	rl := &RateLimiter{}
	for _, cat := range Categories {
		l := limits[cat]
		if l.Capacity < 1 || l.RefillRate < 1 {
			return nil, fmt.Errorf("rate limit %s: capacity and refill rate must be >= 1, got %d/%d",
				cat, l.Capacity, l.RefillRate)
		}
		rl.limits[cat] = l
		rl.buckets[cat] = newTokenBucket(l.Capacity, l.RefillRate, now)
	}
	return rl, nil
}

// Instrument attaches Prometheus metrics. Call before the limiter is shared.
func (rl *RateLimiter) Instrument(m *Metrics) {
	rl.metrics = m
}

// bucket panics on categories outside the closed set. Must be called with
// rl.mu held.
func (rl *RateLimiter) bucket(cat Category) *TokenBucket {
	if cat < 0 || cat >= numCategories {
		panic(fmt.Sprintf("rate limit: unknown category %s", cat))
	}
	return rl.buckets[cat]
}

// WaitForPermission blocks until a token for cat is granted or ctx is done.
// It never gives up on its own; deadlines come from ctx.
func (rl *RateLimiter) WaitForPermission(ctx context.Context, cat Category) error {
	start := time.Now()
	for {
		rl.mu.Lock()
		b := rl.bucket(cat)
		if b.TryConsume() {
			rl.mu.Unlock()
			rl.metrics.observeGranted(cat, time.Since(start))
			return nil
		}
		wait := b.TimeUntilToken()
		rl.mu.Unlock()

		if wait < minPollInterval {
			wait = minPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CheckPermission makes one non-blocking attempt to take a token for cat.
func (rl *RateLimiter) CheckPermission(cat Category) bool {
	rl.mu.Lock()
	ok := rl.bucket(cat).TryConsume()
	rl.mu.Unlock()

	if ok {
		rl.metrics.observeGranted(cat, 0)
	} else {
		rl.metrics.observeDenied(cat)
	}
	return ok
}

// Tokens returns the tokens currently available for cat.
func (rl *RateLimiter) Tokens(cat Category) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.bucket(cat).Tokens()
}

// Limit returns the configured limit for cat.
func (rl *RateLimiter) Limit(cat Category) Limit {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.bucket(cat)
	return rl.limits[cat]
}
