// Package bridge mediates between the MT5 trading terminal and the rest of
// the system: a TTL quote cache fed by the terminal's HTTP pushes, an
// in-memory command queue polled by the terminal, and the authenticated HTTP
// server tying the two together. Everything here is ephemeral and lost on
// restart.
package bridge

import (
	"sync"
	"time"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
)

// Cache holds the latest quotes, option quotes, and heartbeats pushed by the
// terminal. One mutex serializes all access; readers get copies. An entry is
// fresh when its timestamp is at most ttl old; quotes age by the terminal's
// own ts so a delayed push is never served as fresh.
type Cache struct {
	mu           sync.RWMutex
	quotes       map[string]models.Quote       // uppercased symbol
	optionQuotes map[string]models.OptionQuote // models.OptionKey
	heartbeats   map[string]models.Heartbeat   // terminal id
	now          func() time.Time
}

// NewCache creates an empty cache using the wall clock.
func NewCache() *Cache {
	return NewCacheWithClock(time.Now)
}

// NewCacheWithClock creates an empty cache with an injectable clock for tests.
func NewCacheWithClock(now func() time.Time) *Cache {
	return &Cache{
		quotes:       make(map[string]models.Quote),
		optionQuotes: make(map[string]models.OptionQuote),
		heartbeats:   make(map[string]models.Heartbeat),
		now:          now,
	}
}

// Ensure Cache satisfies the provider-side read contract at compile time.
var _ marketdata.QuoteCacheReader = (*Cache)(nil)

// SetQuote upserts an underlying quote, normalizing the symbol. The entry
// ages by the quote's ts; ingestion time applies only when ts is absent.
// Quotes without a symbol are dropped.
func (c *Cache) SetQuote(q models.Quote) bool {
	symbol := normalizeSymbol(q.Symbol)
	if symbol == "" {
		return false
	}
	q.Symbol = symbol
	q.UpdatedAt = c.stamp(q.Ts)
	if q.Source == "" {
		q.Source = models.SourceMT5
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = q
	return true
}

// SetOptionQuote upserts an option quote keyed by contract identity.
func (c *Cache) SetOptionQuote(oq models.OptionQuote) bool {
	if oq.Ticker == "" || !oq.OptionType.Valid() || oq.Expiration.IsZero() {
		return false
	}
	oq.UpdatedAt = c.stamp(oq.Ts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.optionQuotes[oq.Key()] = oq
	return true
}

// SetHeartbeat upserts the liveness record for a terminal.
func (c *Cache) SetHeartbeat(hb models.Heartbeat) {
	hb.UpdatedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats[hb.TerminalID] = hb
}

// LatestQuote returns a copy of the symbol's quote when it is within the ttl.
func (c *Cache) LatestQuote(symbol string, ttl time.Duration) (*models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[normalizeSymbol(symbol)]
	if !ok || !c.fresh(q.UpdatedAt, ttl) {
		return nil, false
	}
	out := q
	return &out, true
}

// LatestOptionQuote returns a copy of the keyed option quote within the ttl.
func (c *Cache) LatestOptionQuote(key string, ttl time.Duration) (*models.OptionQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	oq, ok := c.optionQuotes[key]
	if !ok || !c.fresh(oq.UpdatedAt, ttl) {
		return nil, false
	}
	out := oq
	return &out, true
}

// FreshOptionQuotes snapshots every option quote within the ttl.
func (c *Cache) FreshOptionQuotes(ttl time.Duration) []models.OptionQuote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []models.OptionQuote
	for _, oq := range c.optionQuotes {
		if c.fresh(oq.UpdatedAt, ttl) {
			out = append(out, oq)
		}
	}
	return out
}

// HasFreshQuotes reports whether any underlying quote is within the ttl.
func (c *Cache) HasFreshQuotes(ttl time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, q := range c.quotes {
		if c.fresh(q.UpdatedAt, ttl) {
			return true
		}
	}
	return false
}

// LastHeartbeat returns the most recently updated heartbeat across terminals.
// maxAge of zero disables the recency filter.
func (c *Cache) LastHeartbeat(maxAge time.Duration) (*models.Heartbeat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest models.Heartbeat
	found := false
	for _, hb := range c.heartbeats {
		if !found || hb.UpdatedAt.After(latest.UpdatedAt) {
			latest = hb
			found = true
		}
	}
	if !found {
		return nil, false
	}
	if maxAge > 0 && !c.fresh(latest.UpdatedAt, maxAge) {
		return nil, false
	}
	out := latest
	return &out, true
}

// Stats summarizes cache occupancy for the health endpoint.
type Stats struct {
	Quotes            int `json:"quotes"`
	FreshQuotes       int `json:"fresh_quotes"`
	OptionQuotes      int `json:"option_quotes"`
	FreshOptionQuotes int `json:"fresh_option_quotes"`
	Terminals         int `json:"terminals"`
}

// Snapshot counts cache entries and how many are within the ttl.
func (c *Cache) Snapshot(ttl time.Duration) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Stats{
		Quotes:       len(c.quotes),
		OptionQuotes: len(c.optionQuotes),
		Terminals:    len(c.heartbeats),
	}
	for _, q := range c.quotes {
		if c.fresh(q.UpdatedAt, ttl) {
			st.FreshQuotes++
		}
	}
	for _, oq := range c.optionQuotes {
		if c.fresh(oq.UpdatedAt, ttl) {
			st.FreshOptionQuotes++
		}
	}
	return st
}

func (c *Cache) fresh(updatedAt time.Time, ttl time.Duration) bool {
	return c.now().Sub(updatedAt) <= ttl
}

// stamp picks the entry's age anchor: the terminal's ts when present,
// ingestion time otherwise.
func (c *Cache) stamp(ts time.Time) time.Time {
	if !ts.IsZero() {
		return ts
	}
	return c.now()
}

func normalizeSymbol(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == ' ' || ch == '\t' {
			continue
		}
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}
