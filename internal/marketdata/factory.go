package marketdata

import (
	"fmt"

	"github.com/rollwatch/rollwatch/internal/config"
)

// New builds the provider chain selected by market_data.provider. The
// external HTTP provider is always wrapped in a circuit breaker; the
// cache-backed providers are not, since a stale cache is not an outage.
func New(cfg *config.Config, cache QuoteCacheReader) (Provider, error) {
	ttl := cfg.Bridge.QuoteTTL()

	switch cfg.MarketData.Provider {
	case "mock":
		return NewMockProvider(), nil
	case "brapi":
		return NewCircuitBreakerProvider(newBrapi(cfg)), nil
	case "mt5":
		if cache == nil {
			return nil, fmt.Errorf("mt5 provider requires the bridge quote cache")
		}
		return NewMT5Provider(cache, ttl), nil
	case "hybrid":
		if cache == nil {
			return nil, fmt.Errorf("hybrid provider requires the bridge quote cache")
		}
		var fallback Provider
		switch cfg.MarketData.HybridFallback {
		case "brapi":
			fallback = NewCircuitBreakerProvider(newBrapi(cfg))
		default:
			fallback = NewMockProvider()
		}
		return NewHybridProvider(cache, ttl, fallback), nil
	default:
		return nil, fmt.Errorf("unknown market data provider: %q", cfg.MarketData.Provider)
	}
}

func newBrapi(cfg *config.Config) *BrapiProvider {
	b := cfg.MarketData.Brapi
	return NewBrapiProvider(b.BaseURL, b.Token, b.RiskFreeRate, b.Volatility)
}
