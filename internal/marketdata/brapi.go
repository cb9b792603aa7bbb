package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// APIError represents an upstream HTTP error with status code and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// BrapiProvider fetches underlying prices from the brapi HTTP API and prices
// option contracts via Black–Scholes with configured rate and volatility.
// Every quote it returns is tagged source=fallback.
type BrapiProvider struct {
	client  *http.Client
	baseURL string
	token   string
	params  bsParams
	now     func() time.Time
}

// BrapiOption configures optional BrapiProvider behavior.
type BrapiOption func(*BrapiProvider)

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) BrapiOption {
	return func(b *BrapiProvider) {
		if c != nil {
			b.client = c
		}
	}
}

// WithClock overrides the provider clock (tests).
func WithClock(now func() time.Time) BrapiOption {
	return func(b *BrapiProvider) { b.now = now }
}

// NewBrapiProvider creates the external-HTTP provider.
func NewBrapiProvider(baseURL, token string, riskFreeRate, volatility float64, opts ...BrapiOption) *BrapiProvider {
	b := &BrapiProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		params:  bsParams{RiskFreeRate: riskFreeRate, Volatility: volatility},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ensure BrapiProvider implements Provider at compile time.
var _ Provider = (*BrapiProvider)(nil)

// Name identifies the variant.
func (b *BrapiProvider) Name() string { return "brapi" }

// brapiQuoteResponse mirrors the relevant fields of GET /quote/{tickers}.
type brapiQuoteResponse struct {
	Results []struct {
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		Bid                float64 `json:"bid"`
		Ask                float64 `json:"ask"`
		RegularMarketVol   float64 `json:"regularMarketVolume"`
	} `json:"results"`
}

// GetQuote fetches the underlying quote for a ticker.
func (b *BrapiProvider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{}
	if b.token != "" {
		params.Set("token", b.token)
	}
	endpoint := b.baseURL + "/quote/" + url.PathEscape(strings.ToUpper(symbol))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var response brapiQuoteResponse
	if err := b.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	if len(response.Results) == 0 || response.Results[0].RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("%w: no quote for %s", ErrUnavailable, symbol)
	}

	r := response.Results[0]
	now := b.now().UTC()
	quote := &models.Quote{
		Symbol:    strings.ToUpper(symbol),
		Last:      &r.RegularMarketPrice,
		Ts:        now,
		UpdatedAt: now,
		Source:    models.SourceFallback,
	}
	if r.Bid > 0 {
		bid := r.Bid
		quote.Bid = &bid
	}
	if r.Ask > 0 {
		ask := r.Ask
		quote.Ask = &ask
	}
	if r.RegularMarketVol > 0 {
		vol := r.RegularMarketVol
		quote.Volume = &vol
	}
	return quote, nil
}

// GetOptionChain synthesizes a chain by pricing whole-point strikes in a
// ±15% band around the fetched spot.
func (b *BrapiProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	quote, err := b.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	spot, ok := quote.Price()
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnavailable, ticker)
	}

	var chain []models.OptionQuote
	low := math.Floor(spot * 0.85)
	high := math.Ceil(spot * 1.15)
	for strike := low; strike <= high; strike++ {
		for _, side := range []models.OptionSide{models.SideCall, models.SidePut} {
			chain = append(chain, b.priceContract(spot, ticker, strike, side, expiration))
		}
	}
	return chain, nil
}

// GetOptionQuote fetches the spot and prices the contract via Black–Scholes.
func (b *BrapiProvider) GetOptionQuote(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*models.OptionQuote, error) {
	quote, err := b.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	spot, ok := quote.Price()
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnavailable, ticker)
	}
	oq := b.priceContract(spot, ticker, strike, side, expiration)
	return &oq, nil
}

func (b *BrapiProvider) priceContract(spot float64, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) models.OptionQuote {
	now := b.now().UTC()
	premium := bsPrice(spot, strike, side, yearFraction(now, expiration), b.params)
	bid, ask := syntheticSpread(premium)
	return models.OptionQuote{
		Ticker:     strings.ToUpper(ticker),
		Strike:     strike,
		OptionType: side,
		Expiration: expiration,
		Bid:        &bid,
		Ask:        &ask,
		Last:       &premium,
		Ts:         now,
		UpdatedAt:  now,
	}
}

// GetGreeks fetches the spot and computes the Black–Scholes sensitivity set.
func (b *BrapiProvider) GetGreeks(ctx context.Context, ticker string, strike float64,
	side models.OptionSide, expiration time.Time) (*Greeks, error) {
	quote, err := b.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	spot, ok := quote.Price()
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnavailable, ticker)
	}
	g := bsGreeks(spot, strike, side, yearFraction(b.now().UTC(), expiration), b.params)
	return &g, nil
}

// HealthCheck issues a short-deadline quote request for a liquid ticker.
func (b *BrapiProvider) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := b.GetQuote(healthCtx, "BOVA11")
	return err
}

// makeRequestCtx makes an HTTP request with context support.
func (b *BrapiProvider) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "rollwatch/1.0 (+brapi)")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
