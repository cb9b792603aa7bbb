// Package roll produces ranked roll suggestions for an open option position:
// candidate strikes inside the target OTM band, candidate expirations on
// upcoming third Fridays, scored by net credit, OTM alignment, DTE alignment,
// and liquidity.
package roll

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/symbols"
	"github.com/rollwatch/rollwatch/internal/util"
)

// maxSuggestions caps the ranked output.
const maxSuggestions = 5

// maxSynthesized caps the provider-priced candidates used when the cache has
// no matching contracts.
const maxSynthesized = 3

// Params bounds the candidate search. Zero DTE bounds fall back to [5, 45].
type Params struct {
	OTMPctLow  float64
	OTMPctHigh float64
	DTEMin     int
	DTEMax     int
}

func (p Params) withDefaults() Params {
	if p.OTMPctHigh <= 0 {
		p.OTMPctLow = 0.03
		p.OTMPctHigh = 0.08
	}
	if p.DTEMax <= 0 {
		p.DTEMin = 5
		p.DTEMax = 45
	}
	return p
}

// Suggestion is one scored roll candidate.
type Suggestion struct {
	Ticker     string    `json:"ticker"`
	Side       string    `json:"side"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	DTE        int       `json:"dte"`
	Mid        float64   `json:"mid"`
	NetCredit  float64   `json:"net_credit"`
	OTMPct     float64   `json:"otm_pct"`
	Spread     float64   `json:"spread"`
	Score      float64   `json:"score"`
	Source     string    `json:"source"` // mt5 | synthetic
}

// CurrentMetrics snapshots the position's live context alongside suggestions.
type CurrentMetrics struct {
	UnderlyingPrice float64 `json:"underlying_price"`
	BuybackMid      float64 `json:"buyback_mid,omitempty"`
	DTE             int     `json:"dte"`
	Moneyness       float64 `json:"moneyness,omitempty"`
}

// Result is the calculator output: metrics always, suggestions best-effort.
type Result struct {
	Metrics     CurrentMetrics `json:"current_metrics"`
	Suggestions []Suggestion   `json:"suggestions"`
}

// Calculator enumerates and scores roll candidates.
type Calculator struct {
	provider marketdata.Provider
	cache    marketdata.QuoteCacheReader
	ttl      time.Duration
	now      func() time.Time
}

// NewCalculator wires the calculator over the provider chain and quote cache.
// cache may be nil when no bridge is running.
func NewCalculator(provider marketdata.Provider, cache marketdata.QuoteCacheReader, ttl time.Duration) *Calculator {
	return &Calculator{provider: provider, cache: cache, ttl: ttl, now: time.Now}
}

// Suggest computes up to 5 ranked roll suggestions for the position.
// Missing market data degrades the output rather than failing: no underlying
// price means metrics only, no buy-back mid means no suggestions.
func (c *Calculator) Suggest(ctx context.Context, position *models.Position, ticker string, params Params) (*Result, error) {
	params = params.withDefaults()
	now := c.now()

	res := &Result{Metrics: CurrentMetrics{DTE: position.DTE(now)}}

	quote, err := c.provider.GetQuote(ctx, ticker)
	if err != nil {
		return res, nil
	}
	price, ok := quote.Price()
	if !ok || price <= 0 {
		return res, nil
	}
	res.Metrics.UnderlyingPrice = price
	if position.Strike > 0 {
		res.Metrics.Moneyness = price / position.Strike
	}

	buyback, ok := c.buybackMid(ctx, position, ticker)
	if !ok {
		return res, nil
	}
	res.Metrics.BuybackMid = buyback

	bandLow, bandHigh := strikeBand(position.Side, price, params)
	expirations := candidateExpirations(now, params)
	if len(expirations) == 0 {
		return res, nil
	}

	otmTarget := (params.OTMPctLow + params.OTMPctHigh) / 2
	dteTarget := float64(params.DTEMin+params.DTEMax) / 2

	suggestions := c.fromCache(position, ticker, price, buyback, bandLow, bandHigh,
		expirations, otmTarget, dteTarget, now)
	if len(suggestions) == 0 {
		suggestions = c.synthesize(ctx, position, ticker, price, buyback, bandLow, bandHigh,
			expirations, otmTarget, dteTarget, now)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	res.Suggestions = suggestions
	return res, nil
}

// buybackMid prices closing the current leg: cache first, provider second.
func (c *Calculator) buybackMid(ctx context.Context, position *models.Position, ticker string) (float64, bool) {
	if c.cache != nil {
		key := models.OptionKey(ticker, position.Strike, position.Side, position.Expiration)
		if oq, ok := c.cache.LatestOptionQuote(key, c.ttl); ok {
			if mid, ok := oq.Mid(); ok {
				return mid, true
			}
		}
	}

	oq, err := c.provider.GetOptionQuote(ctx, ticker, position.Strike, position.Side, position.Expiration)
	if err != nil {
		return 0, false
	}
	mid, ok := oq.Mid()
	return mid, ok
}

func (c *Calculator) fromCache(position *models.Position, ticker string, price, buyback,
	bandLow, bandHigh float64, expirations []time.Time, otmTarget, dteTarget float64,
	now time.Time) []Suggestion {
	if c.cache == nil {
		return nil
	}

	allowed := make(map[string]bool, len(expirations))
	for _, exp := range expirations {
		allowed[exp.Format("2006-01-02")] = true
	}

	var out []Suggestion
	for _, oq := range c.cache.FreshOptionQuotes(c.ttl) {
		if oq.Ticker != ticker || oq.OptionType != position.Side {
			continue
		}
		if !allowed[oq.Expiration.Format("2006-01-02")] {
			continue
		}
		if oq.Strike < bandLow || oq.Strike > bandHigh {
			continue
		}
		mid, ok := oq.Mid()
		if !ok || mid <= 0 {
			continue
		}

		dte := daysBetween(now, oq.Expiration)
		otmPct := math.Abs(oq.Strike-price) / price
		out = append(out, Suggestion{
			Ticker:     ticker,
			Side:       string(position.Side),
			Strike:     oq.Strike,
			Expiration: oq.Expiration,
			DTE:        dte,
			Mid:        mid,
			NetCredit:  mid - buyback,
			OTMPct:     otmPct,
			Spread:     oq.Spread(),
			Score:      score(mid-buyback, otmPct, otmTarget, dte, dteTarget, true),
			Source:     "mt5",
		})
	}
	return out
}

// synthesize prices a single strike at the midpoint of the OTM band, rounded
// to the 0.50 tick, across the nearest candidate expirations.
func (c *Calculator) synthesize(ctx context.Context, position *models.Position, ticker string,
	price, buyback, bandLow, bandHigh float64, expirations []time.Time,
	otmTarget, dteTarget float64, now time.Time) []Suggestion {
	strike := util.RoundStrike((bandLow + bandHigh) / 2)
	if strike <= 0 {
		return nil
	}

	var out []Suggestion
	for _, exp := range expirations {
		if len(out) >= maxSynthesized {
			break
		}
		oq, err := c.provider.GetOptionQuote(ctx, ticker, strike, position.Side, exp)
		if err != nil {
			continue
		}
		mid, ok := oq.Mid()
		if !ok || mid <= 0 {
			continue
		}

		dte := daysBetween(now, exp)
		otmPct := math.Abs(strike-price) / price
		out = append(out, Suggestion{
			Ticker:     ticker,
			Side:       string(position.Side),
			Strike:     strike,
			Expiration: exp,
			DTE:        dte,
			Mid:        mid,
			NetCredit:  mid - buyback,
			OTMPct:     otmPct,
			Spread:     oq.Spread(),
			Score:      score(mid-buyback, otmPct, otmTarget, dte, dteTarget, false),
			Source:     "synthetic",
		})
	}
	return out
}

// strikeBand computes the target strike interval: above the spot for calls,
// below it for puts.
func strikeBand(side models.OptionSide, price float64, params Params) (float64, float64) {
	if side == models.SidePut {
		return price * (1 - params.OTMPctHigh), price * (1 - params.OTMPctLow)
	}
	return price * (1 + params.OTMPctLow), price * (1 + params.OTMPctHigh)
}

// candidateExpirations scans the next 12 months for third Fridays whose DTE
// falls inside the band.
func candidateExpirations(now time.Time, params Params) []time.Time {
	var out []time.Time
	year, month, _ := now.UTC().Date()
	for i := 0; i < 12; i++ {
		m := time.Month(int(month)+i-1)%12 + 1
		y := year + (int(month)+i-1)/12
		exp := symbols.ThirdFriday(y, m)
		dte := daysBetween(now, exp)
		if exp.Before(now) {
			continue
		}
		if dte >= params.DTEMin && dte <= params.DTEMax {
			out = append(out, exp)
		}
	}
	return out
}

// score combines credit, OTM alignment, DTE alignment, and liquidity;
// capped at 100.
func score(netCredit, otmPct, otmTarget float64, dte int, dteTarget float64, fromCache bool) float64 {
	s := 0.0
	if netCredit > 0 {
		s += math.Min(10*netCredit, 40)
	}
	s += math.Max(0, 30-300*math.Abs(otmPct-otmTarget))
	s += math.Max(0, 20-math.Abs(float64(dte)-dteTarget)/2)
	if fromCache {
		s += 10
	} else {
		s += 5
	}
	return math.Min(s, 100)
}

func daysBetween(now, exp time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	e := exp.UTC().Truncate(24 * time.Hour)
	days := int(e.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
