// Package rules implements the pure roll-rule evaluator. It has no I/O: the
// monitor engine gathers the live inputs and passes them in.
package rules

import (
	"math"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// Live carries the best-effort market context for one (rule, position)
// evaluation. A nil field skips the corresponding gate.
type Live struct {
	Delta           *float64
	UnderlyingPrice *float64
	CurrentPremium  *float64
}

// Evaluate reports whether a rule triggers for a position.
//
// Gate order: premium close override first (it trumps the DTE and delta
// gates), then the inclusive DTE band, then the delta and price-to-strike
// spread thresholds. A rule with only DTE bounds triggers on every scan
// inside the band; the monitor's same-day dedup prevents alert storms.
func Evaluate(rule *models.RollRule, position *models.Position, live Live, now time.Time) bool {
	if !rule.IsActive {
		return false
	}

	if rule.PremiumCloseThreshold != nil && live.CurrentPremium != nil &&
		*live.CurrentPremium <= *rule.PremiumCloseThreshold {
		return true
	}

	dte := position.DTE(now)
	if dte < rule.DTEMin || dte > rule.DTEMax {
		return false
	}

	if rule.DeltaThreshold != nil && live.Delta != nil {
		if math.Abs(*live.Delta) < *rule.DeltaThreshold {
			return false
		}
	}

	if rule.SpreadThreshold != nil && live.UnderlyingPrice != nil && position.Strike > 0 {
		spreadPct := math.Abs(*live.UnderlyingPrice-position.Strike) / position.Strike * 100
		if spreadPct < *rule.SpreadThreshold {
			return false
		}
	}

	return true
}
