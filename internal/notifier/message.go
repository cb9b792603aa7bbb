package notifier

import (
	"fmt"
	"strings"

	"github.com/rollwatch/rollwatch/internal/models"
)

// BuildMessage composes the plain-text notification for an alert. The layout
// depends on the alert reason; every field is optional because enrichment is
// best-effort.
func BuildMessage(alert *models.Alert) string {
	switch alert.Reason {
	case models.ReasonExpirationWarning:
		return buildExpirationMessage(alert.Payload)
	case models.ReasonDeltaThreshold:
		return buildDeltaMessage(alert.Payload)
	case models.ReasonRollTrigger:
		return buildRollMessage(alert.Payload)
	default:
		return buildGenericMessage(alert)
	}
}

func buildRollMessage(p map[string]any) string {
	var b strings.Builder
	b.WriteString("🔄 Roll alert\n")

	writeContractLine(&b, p)

	if price, ok := models.PayloadFloat(p, "underlying_price"); ok {
		b.WriteString(fmt.Sprintf("Underlying: %.2f\n", price))
	}
	if premium, ok := models.PayloadFloat(p, "current_premium"); ok {
		line := fmt.Sprintf("Premium: %.2f", premium)
		if avg, ok := models.PayloadFloat(p, "avg_premium"); ok && avg > 0 {
			line += fmt.Sprintf(" (avg %.2f)", avg)
		}
		if pnl, ok := models.PayloadFloat(p, "pnl_premium"); ok {
			line += fmt.Sprintf(" PnL %.2f", pnl)
		}
		b.WriteString(line + "\n")
	}
	if moneyness, ok := models.PayloadFloat(p, "moneyness"); ok {
		b.WriteString(fmt.Sprintf("Moneyness: %.3f", moneyness))
		if delta, ok := models.PayloadFloat(p, "delta"); ok {
			b.WriteString(fmt.Sprintf(" | Delta: %.2f", delta))
		}
		b.WriteString("\n")
	} else if delta, ok := models.PayloadFloat(p, "delta"); ok {
		b.WriteString(fmt.Sprintf("Delta: %.2f\n", delta))
	}

	b.WriteString("Consider rolling this position.")
	return b.String()
}

func buildExpirationMessage(p map[string]any) string {
	var b strings.Builder
	b.WriteString("⏰ Expiration warning\n")

	if dte, ok := models.PayloadFloat(p, "dte"); ok {
		switch int(dte) {
		case 0:
			b.WriteString("Expires TODAY\n")
		case 1:
			b.WriteString("Expires tomorrow\n")
		default:
			b.WriteString(fmt.Sprintf("Expires in %d days\n", int(dte)))
		}
	}

	writeContractLine(&b, p)
	b.WriteString("Close or roll before expiry.")
	return b.String()
}

func buildDeltaMessage(p map[string]any) string {
	var b strings.Builder
	b.WriteString("📐 Delta threshold crossed\n")

	writeContractLine(&b, p)

	if delta, ok := models.PayloadFloat(p, "delta"); ok {
		line := fmt.Sprintf("Delta: %.2f", delta)
		if threshold, ok := models.PayloadFloat(p, "delta_threshold"); ok {
			line += fmt.Sprintf(" (threshold %.2f)", threshold)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("Review position risk.")
	return b.String()
}

func buildGenericMessage(alert *models.Alert) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔔 Alert: %s\n", alert.Reason))
	if msg := models.PayloadString(alert.Payload, "message"); msg != "" {
		b.WriteString(msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeContractLine appends "TICKER SIDE 34.50 exp 2026-09-18 (12 DTE)" from
// whatever payload fields are present.
func writeContractLine(b *strings.Builder, p map[string]any) {
	parts := make([]string, 0, 4)
	if ticker := models.PayloadString(p, "ticker"); ticker != "" {
		parts = append(parts, ticker)
	}
	if side := models.PayloadString(p, "side"); side != "" {
		parts = append(parts, side)
	}
	if strike, ok := models.PayloadFloat(p, "strike"); ok {
		parts = append(parts, fmt.Sprintf("%.2f", strike))
	}
	if exp := models.PayloadString(p, "expiration"); exp != "" {
		line := "exp " + exp
		if dte, ok := models.PayloadFloat(p, "dte"); ok {
			line += fmt.Sprintf(" (%d DTE)", int(dte))
		}
		parts = append(parts, line)
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, " ") + "\n")
	}
}
