// Package marketdata provides the market data provider chain: a capability
// interface with mock, external-HTTP (brapi + Black–Scholes), MT5-strict, and
// hybrid variants. Chain selection happens once at startup via New.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// ErrUnavailable is returned when no fresh market data exists for a request.
// The HTTP boundary maps it to a transient 503-class response.
var ErrUnavailable = errors.New("market data unavailable")

// Greeks carries option sensitivity measures.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Provider is the market-data capability consumed by the monitor, notifier,
// and roll calculator.
type Provider interface {
	// GetQuote returns the latest underlying quote for a ticker.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetOptionChain returns option quotes for a ticker and expiration.
	GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error)

	// GetOptionQuote returns a quote for one specific contract.
	GetOptionQuote(ctx context.Context, ticker string, strike float64,
		side models.OptionSide, expiration time.Time) (*models.OptionQuote, error)

	// GetGreeks returns sensitivity measures for one contract.
	GetGreeks(ctx context.Context, ticker string, strike float64,
		side models.OptionSide, expiration time.Time) (*Greeks, error)

	// HealthCheck verifies the provider can serve data right now.
	HealthCheck(ctx context.Context) error

	// Name identifies the variant for logs and the health endpoint.
	Name() string
}

// QuoteCacheReader is the slice of the bridge quote cache the MT5 and hybrid
// providers consume.
type QuoteCacheReader interface {
	// LatestQuote returns a fresh underlying quote or false when absent/stale.
	LatestQuote(symbol string, ttl time.Duration) (*models.Quote, bool)
	// LatestOptionQuote returns a fresh option quote by cache key.
	LatestOptionQuote(key string, ttl time.Duration) (*models.OptionQuote, bool)
	// FreshOptionQuotes snapshots all option quotes within the ttl.
	FreshOptionQuotes(ttl time.Duration) []models.OptionQuote
	// HasFreshQuotes reports whether any underlying quote is within the ttl.
	HasFreshQuotes(ttl time.Duration) bool
}
