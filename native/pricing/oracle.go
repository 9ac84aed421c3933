package pricing

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

// ErrStaleQuote is returned by consumers that require a trustworthy price and
// observed either a missing quote or one older than the configured tolerance.
// Operations needing a price must refuse to run rather than fall back to a
// stale value.
var ErrStaleQuote = errors.New("pricing: quote stale or unavailable")

// Source supplies the spot value of one unit of an asset denominated in the
// protocol stablecoin. The boolean result is the validity contract: callers
// treat false the same way they treat a stale timestamp.
type Source interface {
	Price(asset string) (*big.Rat, bool)
}

// Quote captures a posted exchange rate together with the observation time
// reported by the upstream feed.
type Quote struct {
	Rate       *big.Rat
	ObservedAt time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutation.
func (q Quote) Clone() Quote {
	clone := Quote{ObservedAt: q.ObservedAt}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Feed is an in-memory price table with max-age staleness enforcement. The
// daemon refreshes it from the external oracle; engines only ever see the
// Source contract.
type Feed struct {
	mu     sync.RWMutex
	maxAge time.Duration
	quotes map[string]Quote
	clock  func() time.Time
}

// NewFeed constructs a feed that rejects quotes older than maxAge. A zero
// maxAge disables the staleness check.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		maxAge: maxAge,
		quotes: make(map[string]Quote),
		clock:  time.Now,
	}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (f *Feed) SetClock(clock func() time.Time) {
	if f == nil || clock == nil {
		return
	}
	f.mu.Lock()
	f.clock = clock
	f.mu.Unlock()
}

// Post records a fresh observation for the asset. Nil or non-positive rates
// are ignored.
func (f *Feed) Post(asset string, rate *big.Rat, observedAt time.Time) {
	if f == nil || rate == nil || rate.Sign() <= 0 {
		return
	}
	symbol := normalize(asset)
	if symbol == "" {
		return
	}
	f.mu.Lock()
	f.quotes[symbol] = Quote{Rate: new(big.Rat).Set(rate), ObservedAt: observedAt}
	f.mu.Unlock()
}

// Price implements Source. The second result is false for unknown assets and
// for quotes older than the configured tolerance.
func (f *Feed) Price(asset string) (*big.Rat, bool) {
	if f == nil {
		return nil, false
	}
	symbol := normalize(asset)
	f.mu.RLock()
	quote, ok := f.quotes[symbol]
	clock := f.clock
	maxAge := f.maxAge
	f.mu.RUnlock()
	if !ok || quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, false
	}
	if maxAge > 0 {
		age := clock().Sub(quote.ObservedAt)
		if age < 0 || age > maxAge {
			return nil, false
		}
	}
	return new(big.Rat).Set(quote.Rate), true
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
