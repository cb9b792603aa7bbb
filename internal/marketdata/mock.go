package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// MockProvider produces deterministic but noisy quotes for development and
// tests. It never fails.
type MockProvider struct {
	params bsParams
	now    func() time.Time
}

// NewMockProvider creates a mock provider with default pricing parameters.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		params: bsParams{RiskFreeRate: 0.11, Volatility: 0.35},
		now:    time.Now,
	}
}

// Ensure MockProvider implements Provider at compile time.
var _ Provider = (*MockProvider)(nil)

// Name identifies the variant.
func (m *MockProvider) Name() string { return "mock" }

// basePrice derives a stable per-symbol anchor price from the symbol text.
func (m *MockProvider) basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol)))
	// Anchor in [10, 110) so strikes land in realistic B3 ranges.
	return 10 + float64(h.Sum32()%10000)/100
}

// wobble adds a small time-varying oscillation so consecutive reads differ.
func (m *MockProvider) wobble(symbol string) float64 {
	base := m.basePrice(symbol)
	phase := float64(m.now().Unix()%3600) / 3600 * 2 * math.Pi
	return base * (1 + 0.01*math.Sin(phase))
}

// GetQuote returns a synthetic underlying quote.
func (m *MockProvider) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	price := m.wobble(symbol)
	bid := price * 0.999
	ask := price * 1.001
	vol := float64(100000)
	now := m.now().UTC()
	return &models.Quote{
		Symbol:    strings.ToUpper(symbol),
		Bid:       &bid,
		Ask:       &ask,
		Last:      &price,
		Volume:    &vol,
		Ts:        now,
		UpdatedAt: now,
		Source:    models.SourceFallback,
	}, nil
}

// GetOptionChain synthesizes a chain of strikes around the spot price.
func (m *MockProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	quote, _ := m.GetQuote(ctx, ticker)
	spot, _ := quote.Price()

	var chain []models.OptionQuote
	low := math.Floor(spot*0.85) // ±15% band in whole-point steps
	high := math.Ceil(spot * 1.15)
	for strike := low; strike <= high; strike++ {
		for _, side := range []models.OptionSide{models.SideCall, models.SidePut} {
			oq, err := m.GetOptionQuote(ctx, ticker, strike, side, expiration)
			if err != nil {
				continue
			}
			chain = append(chain, *oq)
		}
	}
	return chain, nil
}

// GetOptionQuote prices one contract via Black–Scholes.
func (m *MockProvider) GetOptionQuote(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*models.OptionQuote, error) {
	quote, _ := m.GetQuote(ctx, ticker)
	spot, _ := quote.Price()

	now := m.now().UTC()
	premium := bsPrice(spot, strike, side, yearFraction(now, expiration), m.params)
	bid, ask := syntheticSpread(premium)
	vol := float64(1000)
	return &models.OptionQuote{
		Ticker:     strings.ToUpper(ticker),
		Strike:     strike,
		OptionType: side,
		Expiration: expiration,
		Bid:        &bid,
		Ask:        &ask,
		Last:       &premium,
		Volume:     &vol,
		Ts:         now,
		UpdatedAt:  now,
	}, nil
}

// GetGreeks computes the sensitivity set from the synthetic spot.
func (m *MockProvider) GetGreeks(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*Greeks, error) {
	quote, _ := m.GetQuote(ctx, ticker)
	spot, _ := quote.Price()
	g := bsGreeks(spot, strike, side, yearFraction(m.now().UTC(), expiration), m.params)
	return &g, nil
}

// HealthCheck always succeeds for the mock.
func (m *MockProvider) HealthCheck(context.Context) error { return nil }
