package marketdata

import (
	"math"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// bsParams holds the Black–Scholes inputs the brapi provider is configured
// with. Rates are annualized decimals.
type bsParams struct {
	RiskFreeRate float64
	Volatility   float64
}

// yearFraction converts a DTE horizon to years, flooring at one trading day
// to keep the model away from the T=0 singularity.
func yearFraction(now, expiration time.Time) float64 {
	days := expiration.Sub(now).Hours() / 24
	if days < 1 {
		days = 1
	}
	return days / 365.0
}

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

// bsPrice returns the Black–Scholes theoretical premium.
func bsPrice(spot, strike float64, side models.OptionSide, t float64, p bsParams) float64 {
	if spot <= 0 || strike <= 0 || t <= 0 || p.Volatility <= 0 {
		return 0
	}
	d1 := (math.Log(spot/strike) + (p.RiskFreeRate+p.Volatility*p.Volatility/2)*t) /
		(p.Volatility * math.Sqrt(t))
	d2 := d1 - p.Volatility*math.Sqrt(t)

	discount := math.Exp(-p.RiskFreeRate * t)
	if side == models.SideCall {
		return spot*normCDF(d1) - strike*discount*normCDF(d2)
	}
	return strike*discount*normCDF(-d2) - spot*normCDF(-d1)
}

// bsGreeks returns the full sensitivity set for a contract.
func bsGreeks(spot, strike float64, side models.OptionSide, t float64, p bsParams) Greeks {
	if spot <= 0 || strike <= 0 || t <= 0 || p.Volatility <= 0 {
		return Greeks{}
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (p.RiskFreeRate+p.Volatility*p.Volatility/2)*t) /
		(p.Volatility * sqrtT)
	d2 := d1 - p.Volatility*sqrtT
	discount := math.Exp(-p.RiskFreeRate * t)

	g := Greeks{
		Gamma: normPDF(d1) / (spot * p.Volatility * sqrtT),
		Vega:  spot * normPDF(d1) * sqrtT / 100,
	}
	if side == models.SideCall {
		g.Delta = normCDF(d1)
		g.Theta = (-spot*normPDF(d1)*p.Volatility/(2*sqrtT) -
			p.RiskFreeRate*strike*discount*normCDF(d2)) / 365
		g.Rho = strike * t * discount * normCDF(d2) / 100
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-spot*normPDF(d1)*p.Volatility/(2*sqrtT) +
			p.RiskFreeRate*strike*discount*normCDF(-d2)) / 365
		g.Rho = -strike * t * discount * normCDF(-d2) / 100
	}
	return g
}

// syntheticSpread builds a bid/ask pair around a theoretical premium.
// Half-spread is max(0.01, 2% of premium).
func syntheticSpread(premium float64) (bid, ask float64) {
	half := math.Max(0.01, premium*0.02)
	bid = math.Max(0, premium-half)
	ask = premium + half
	return bid, ask
}
