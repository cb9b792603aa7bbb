package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// HybridProvider reads the MT5 cache first and delegates to a configured
// fallback on miss or staleness. Every returned quote keeps its source tag
// (mt5 or fallback) for observability.
type HybridProvider struct {
	primary  *MT5Provider
	fallback Provider
}

// NewHybridProvider composes the strict MT5 provider with a fallback.
func NewHybridProvider(cache QuoteCacheReader, ttl time.Duration, fallback Provider) *HybridProvider {
	return &HybridProvider{
		primary:  NewMT5Provider(cache, ttl),
		fallback: fallback,
	}
}

// Ensure HybridProvider implements Provider at compile time.
var _ Provider = (*HybridProvider)(nil)

// Name identifies the variant including its fallback.
func (h *HybridProvider) Name() string {
	return fmt.Sprintf("hybrid(%s)", h.fallback.Name())
}

// GetQuote tries the cache, then the fallback.
func (h *HybridProvider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	quote, err := h.primary.GetQuote(ctx, symbol)
	if err == nil {
		return quote, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	quote, err = h.fallback.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quote.Source = models.SourceFallback
	return quote, nil
}

// GetOptionChain tries the cache, then the fallback.
func (h *HybridProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	chain, err := h.primary.GetOptionChain(ctx, ticker, expiration)
	if err == nil {
		return chain, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	return h.fallback.GetOptionChain(ctx, ticker, expiration)
}

// GetOptionQuote tries the cache, then the fallback.
func (h *HybridProvider) GetOptionQuote(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*models.OptionQuote, error) {
	oq, err := h.primary.GetOptionQuote(ctx, ticker, strike, side, expiration)
	if err == nil {
		return oq, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	return h.fallback.GetOptionQuote(ctx, ticker, strike, side, expiration)
}

// GetGreeks always delegates: the terminal feed carries no greeks.
func (h *HybridProvider) GetGreeks(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*Greeks, error) {
	return h.fallback.GetGreeks(ctx, ticker, strike, side, expiration)
}

// HealthCheck passes when either side can serve data.
func (h *HybridProvider) HealthCheck(ctx context.Context) error {
	if err := h.primary.HealthCheck(ctx); err == nil {
		return nil
	}
	return h.fallback.HealthCheck(ctx)
}
