package marketdata

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/sony/gobreaker"
)

// CircuitBreakerProvider wraps a Provider with circuit breaker functionality
// so a failing external API stops consuming notifier and monitor time.
type CircuitBreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	provider Provider,
	fn func(Provider) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(provider) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerProvider creates a wrapper with sensible defaults.
func NewCircuitBreakerProvider(provider Provider) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerProviderWithSettings creates a wrapper with custom settings.
func NewCircuitBreakerProviderWithSettings(provider Provider, settings CircuitBreakerSettings) *CircuitBreakerProvider {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Stale-cache misses are a data condition, not an outage.
			return err == nil || errors.Is(err, ErrUnavailable)
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerProvider implements Provider at compile time.
var _ Provider = (*CircuitBreakerProvider)(nil)

// Name identifies the wrapped variant.
func (c *CircuitBreakerProvider) Name() string { return c.provider.Name() }

// GetQuote wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) (*models.Quote, error) {
		return p.GetQuote(ctx, symbol)
	})
}

// GetOptionChain wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) ([]models.OptionQuote, error) {
		return p.GetOptionChain(ctx, ticker, expiration)
	})
}

// GetOptionQuote wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetOptionQuote(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*models.OptionQuote, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) (*models.OptionQuote, error) {
		return p.GetOptionQuote(ctx, ticker, strike, side, expiration)
	})
}

// GetGreeks wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetGreeks(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*Greeks, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) (*Greeks, error) {
		return p.GetGreeks(ctx, ticker, strike, side, expiration)
	})
}

// HealthCheck wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) HealthCheck(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.provider, func(p Provider) (struct{}, error) {
		return struct{}{}, p.HealthCheck(ctx)
	})
	return err
}
