package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// MT5Provider serves only cache-fresh quotes pushed by the trading terminal.
// Anything missing or stale is ErrUnavailable; it never synthesizes prices.
type MT5Provider struct {
	cache QuoteCacheReader
	ttl   time.Duration
}

// NewMT5Provider creates the strict MT5 provider over the bridge cache.
func NewMT5Provider(cache QuoteCacheReader, ttl time.Duration) *MT5Provider {
	return &MT5Provider{cache: cache, ttl: ttl}
}

// Ensure MT5Provider implements Provider at compile time.
var _ Provider = (*MT5Provider)(nil)

// Name identifies the variant.
func (m *MT5Provider) Name() string { return "mt5" }

// GetQuote returns the cache-fresh quote or ErrUnavailable.
func (m *MT5Provider) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	quote, ok := m.cache.LatestQuote(symbol, m.ttl)
	if !ok {
		return nil, fmt.Errorf("%w: no fresh quote for %s", ErrUnavailable, symbol)
	}
	return quote, nil
}

// GetOptionChain filters the cached option quotes for the requested series.
func (m *MT5Provider) GetOptionChain(_ context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	t := strings.ToUpper(ticker)
	exp := expiration.Format("2006-01-02")

	var chain []models.OptionQuote
	for _, oq := range m.cache.FreshOptionQuotes(m.ttl) {
		if oq.Ticker == t && oq.Expiration.Format("2006-01-02") == exp {
			chain = append(chain, oq)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no fresh chain for %s %s", ErrUnavailable, t, exp)
	}
	return chain, nil
}

// GetOptionQuote returns the cache-fresh contract quote or ErrUnavailable.
func (m *MT5Provider) GetOptionQuote(_ context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*models.OptionQuote, error) {
	key := models.OptionKey(ticker, strike, side, expiration)
	oq, ok := m.cache.LatestOptionQuote(key, m.ttl)
	if !ok {
		return nil, fmt.Errorf("%w: no fresh option quote for %s", ErrUnavailable, key)
	}
	return oq, nil
}

// GetGreeks is unsupported: the terminal does not push greeks.
func (m *MT5Provider) GetGreeks(context.Context, string, float64, models.OptionSide, time.Time) (*Greeks, error) {
	return nil, fmt.Errorf("%w: greeks not provided by terminal feed", ErrUnavailable)
}

// HealthCheck succeeds only when the cache holds at least one fresh quote.
func (m *MT5Provider) HealthCheck(context.Context) error {
	if !m.cache.HasFreshQuotes(m.ttl) {
		return fmt.Errorf("%w: no fresh quotes in cache", ErrUnavailable)
	}
	return nil
}
