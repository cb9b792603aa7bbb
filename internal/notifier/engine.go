// Package notifier drains the alert queue: enriches payloads with live
// market context, builds per-reason messages, fans out to delivery channels
// with bounded retries, and records the outcome as immutable logs.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rollwatch/rollwatch/internal/channel"
	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/retry"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// Summary reports what one notifier invocation did.
type Summary struct {
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	Processed  int    `json:"processed"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// Engine is the notifier worker body. Alerts within one invocation are
// processed strictly sequentially; the scheduler guarantees at most one
// invocation in flight.
type Engine struct {
	cfg      *config.Config
	store    storage.Interface
	provider marketdata.Provider
	sender   channel.Sender
	logger   *logrus.Logger
	now      func() time.Time
	sleep    time.Duration
}

// NewEngine wires the notifier over storage, the provider chain, and the
// channel client.
func NewEngine(cfg *config.Config, store storage.Interface, provider marketdata.Provider,
	sender channel.Sender, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		provider: provider,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		sleep:    cfg.Notifier.RetryDelay(),
	}
}

// Run executes one notifier cycle.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.cfg.IsMarketOpen(e.now()) {
		e.logger.Debug("Notifier skipped: market closed")
		return &Summary{Skipped: true, SkipReason: "market_closed"}, nil
	}

	summary := &Summary{}

	alerts, err := e.store.GetPendingAlerts(e.cfg.Notifier.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("loading pending alerts: %w", err)
	}

	for i := range alerts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		if e.process(ctx, &alerts[i]) {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}

	if summary.Processed > 0 {
		e.logger.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"sent":      summary.Sent,
			"failed":    summary.Failed,
		}).Info("Notifier cycle complete")
	}
	return summary, nil
}

// process delivers one alert end to end and returns true when every channel
// succeeded.
func (e *Engine) process(ctx context.Context, alert *models.Alert) bool {
	log := e.logger.WithField("alert_id", alert.ID)

	if err := e.store.UpdateAlertStatus(alert.ID, models.AlertProcessing, ""); err != nil {
		log.WithError(err).Error("Failed to claim alert")
		return false
	}
	alert.Status = models.AlertProcessing

	account, err := e.store.GetAccountByID(alert.AccountID)
	if err != nil {
		e.fail(alert, fmt.Sprintf("account %s not found", alert.AccountID))
		return false
	}

	alert.Payload = models.NormalizePayload(alert.Payload)
	e.enrich(ctx, alert)

	message := BuildMessage(alert)
	channels := models.PayloadChannels(alert.Payload)

	allOK := true
	var failures []string
	for _, ch := range channels {
		target := e.targetFor(account, ch)
		if target == "" {
			allOK = false
			failures = append(failures, fmt.Sprintf("%s: no target", ch))
			e.writeLog(alert.ID, ch, target, message, models.LogFailed, "")
			continue
		}

		var providerMsgID string
		err := retry.Do(ctx, retry.Config{
			MaxAttempts: e.cfg.Notifier.MaxRetries,
			Delay:       e.sleep,
		}, func() error {
			id, sendErr := e.sender.Send(ctx, ch, target, message)
			if sendErr == nil {
				providerMsgID = id
			}
			return sendErr
		})

		if err != nil {
			allOK = false
			failures = append(failures, fmt.Sprintf("%s: %v", ch, err))
			e.writeLog(alert.ID, ch, target, message, models.LogFailed, "")
			log.WithError(err).WithField("channel", ch).Warn("Channel delivery failed")
			continue
		}
		e.writeLog(alert.ID, ch, target, message, models.LogSuccess, providerMsgID)
	}

	if allOK {
		if err := e.store.UpdateAlertStatus(alert.ID, models.AlertSent, ""); err != nil {
			log.WithError(err).Error("Failed to mark alert sent")
			return false
		}
		return true
	}

	e.fail(alert, excerpt(strings.Join(failures, "; ")))
	return false
}

// fail transitions the alert to FAILED and merges the error excerpt into the
// payload for the operator.
func (e *Engine) fail(alert *models.Alert, reason string) {
	if err := e.store.UpdateAlertStatus(alert.ID, models.AlertFailed, reason); err != nil {
		e.logger.WithError(err).WithField("alert_id", alert.ID).
			Error("Failed to mark alert failed")
		return
	}
	if err := e.store.MergeAlertPayload(alert.ID, map[string]any{"last_error": reason}); err != nil {
		e.logger.WithError(err).WithField("alert_id", alert.ID).
			Error("Failed to persist failure detail")
	}
}

// enrich fills missing payload context: contract identity joined from the
// position and asset, then live price/premium/delta metrics through the
// provider chain. Everything here is best-effort.
func (e *Engine) enrich(ctx context.Context, alert *models.Alert) {
	patch := map[string]any{}
	p := alert.Payload

	var position *models.Position
	if alert.PositionID != "" {
		position, _ = e.store.GetPositionByID(alert.PositionID)
	}

	if position != nil {
		if models.PayloadString(p, "side") == "" {
			patch["side"] = string(position.Side)
		}
		if _, ok := models.PayloadFloat(p, "strike"); !ok {
			patch["strike"] = position.Strike
		}
		if models.PayloadString(p, "expiration") == "" {
			patch["expiration"] = position.Expiration.Format("2006-01-02")
		}
		if _, ok := models.PayloadFloat(p, "dte"); !ok {
			patch["dte"] = position.DTE(e.now())
		}
		if _, ok := models.PayloadFloat(p, "avg_premium"); !ok && position.AvgPremium > 0 {
			patch["avg_premium"] = position.AvgPremium
		}
		if models.PayloadString(p, "ticker") == "" {
			if asset, err := e.store.GetAssetByID(position.AssetID); err == nil {
				patch["ticker"] = asset.Ticker
			}
		}
	}

	if alert.Reason == models.ReasonRollTrigger && position != nil {
		e.enrichLive(ctx, position, p, patch)
	}

	if len(patch) == 0 {
		return
	}
	if err := e.store.MergeAlertPayload(alert.ID, patch); err != nil {
		e.logger.WithError(err).WithField("alert_id", alert.ID).
			Warn("Failed to persist enriched payload")
	}
	for k, v := range patch {
		alert.Payload[k] = v
	}
}

// enrichLive fetches live metrics for a roll trigger. Provider failures just
// leave the fields absent.
func (e *Engine) enrichLive(ctx context.Context, position *models.Position,
	p, patch map[string]any) {
	ticker := models.PayloadString(p, "ticker")
	if t, ok := patch["ticker"].(string); ok && ticker == "" {
		ticker = t
	}
	if ticker == "" {
		return
	}

	var price float64
	if _, ok := models.PayloadFloat(p, "underlying_price"); !ok {
		if quote, err := e.provider.GetQuote(ctx, ticker); err == nil {
			if v, ok := quote.Price(); ok {
				price = v
				patch["underlying_price"] = v
			}
		}
	} else {
		price, _ = models.PayloadFloat(p, "underlying_price")
	}

	if price > 0 && position.Strike > 0 {
		if _, ok := models.PayloadFloat(p, "moneyness"); !ok {
			patch["moneyness"] = price / position.Strike
		}
		if _, ok := models.PayloadFloat(p, "otm_pct"); !ok {
			patch["otm_pct"] = (position.Strike - price) / price
		}
	}

	premium, havePremium := models.PayloadFloat(p, "current_premium")
	if !havePremium {
		if oq, err := e.provider.GetOptionQuote(ctx, ticker, position.Strike,
			position.Side, position.Expiration); err == nil {
			if mid, ok := oq.Mid(); ok {
				premium = mid
				havePremium = true
				patch["current_premium"] = mid
			}
		}
	}
	if havePremium && position.AvgPremium > 0 {
		if _, ok := models.PayloadFloat(p, "pnl_premium"); !ok {
			patch["pnl_premium"] = (position.AvgPremium - premium) * float64(position.Quantity) * 100
		}
	}

	if _, ok := models.PayloadFloat(p, "delta"); !ok {
		if greeks, err := e.provider.GetGreeks(ctx, ticker, position.Strike,
			position.Side, position.Expiration); err == nil {
			patch["delta"] = greeks.Delta
		}
	}
}

// targetFor resolves the delivery address for a channel from the account's
// contact fields.
func (e *Engine) targetFor(account *models.Account, ch models.Channel) string {
	switch ch {
	case models.ChannelWhatsApp, models.ChannelSMS:
		return account.Phone
	case models.ChannelEmail:
		return account.Email
	default:
		return ""
	}
}

func (e *Engine) writeLog(queueID string, ch models.Channel, target, message string,
	status models.LogStatus, providerMsgID string) {
	if _, err := e.store.CreateLog(queueID, ch, target, message, status, providerMsgID); err != nil {
		e.logger.WithError(err).WithField("alert_id", queueID).
			Error("Failed to write delivery log")
	}
}

// excerpt bounds the error text merged into payloads.
func excerpt(s string) string {
	const maxLen = 500
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
