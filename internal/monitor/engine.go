// Package monitor implements the periodic position scan: expiration warnings
// for positions near expiry and roll-trigger alerts for (rule, position)
// pairs that pass the evaluator, with same-day dedup on both.
package monitor

import (
	"context"
	"math"
	"time"

	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/rules"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// expirationWarningDTE is the inclusive DTE ceiling for expiration warnings.
const expirationWarningDTE = 3

// Summary reports what one monitor invocation did.
type Summary struct {
	Skipped           bool   `json:"skipped"`
	SkipReason        string `json:"skip_reason,omitempty"`
	AccountsProcessed int    `json:"accounts_processed"`
	PositionsChecked  int    `json:"positions_checked"`
	AlertsCreated     int    `json:"alerts_created"`
}

// Engine is the monitor worker body. The scheduler guarantees at most one
// invocation in flight.
type Engine struct {
	cfg      *config.Config
	store    storage.Interface
	provider marketdata.Provider
	logger   *logrus.Logger
	now      func() time.Time
}

// NewEngine wires the monitor over storage and the provider chain.
func NewEngine(cfg *config.Config, store storage.Interface, provider marketdata.Provider,
	logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one monitor cycle. Market-data failures are logged and
// degrade individual evaluations; they never abort the scan.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	now := e.now()
	if !e.cfg.IsMarketOpen(now) {
		e.logger.Debug("Monitor skipped: market closed")
		return &Summary{Skipped: true, SkipReason: "market_closed"}, nil
	}

	summary := &Summary{}

	accounts, err := e.store.GetAllAccounts()
	if err != nil {
		return summary, err
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := e.scanAccount(ctx, &account, now, summary); err != nil {
			e.logger.WithError(err).WithField("account_id", account.ID).
				Error("Account scan failed")
			continue
		}
		summary.AccountsProcessed++
	}

	e.logger.WithFields(logrus.Fields{
		"accounts_processed": summary.AccountsProcessed,
		"positions_checked":  summary.PositionsChecked,
		"alerts_created":     summary.AlertsCreated,
	}).Info("Monitor cycle complete")
	return summary, nil
}

func (e *Engine) scanAccount(ctx context.Context, account *models.Account, now time.Time,
	summary *Summary) error {
	positions, err := e.store.GetOpenPositions(account.ID)
	if err != nil {
		return err
	}
	activeRules, err := e.store.GetActiveRules(account.ID)
	if err != nil {
		return err
	}

	for _, position := range positions {
		summary.PositionsChecked++

		if created := e.checkExpiration(account, &position, now); created {
			summary.AlertsCreated++
		}

		for _, rule := range activeRules {
			if created := e.evaluateRule(ctx, account, &rule, &position, now); created {
				summary.AlertsCreated++
			}
		}
	}
	return nil
}

// checkExpiration creates at most one expiration_warning per position per
// UTC day when DTE is within [0, 3].
func (e *Engine) checkExpiration(account *models.Account, position *models.Position,
	now time.Time) bool {
	dte := position.DTE(now)
	if position.IsPastDue(now) || dte > expirationWarningDTE {
		return false
	}

	exists, err := e.store.HasAlertForDay(position.ID, "", models.ReasonExpirationWarning, now)
	if err != nil || exists {
		return false
	}

	payload := map[string]any{
		"dte":        dte,
		"strike":     position.Strike,
		"side":       string(position.Side),
		"expiration": position.Expiration.Format("2006-01-02"),
	}
	if ticker := e.tickerFor(position); ticker != "" {
		payload["ticker"] = ticker
	}

	_, err = e.store.CreateAlert(models.Alert{
		AccountID:  account.ID,
		PositionID: position.ID,
		Reason:     models.ReasonExpirationWarning,
		Payload:    payload,
	})
	if err != nil {
		e.logger.WithError(err).WithField("position_id", position.ID).
			Error("Failed to create expiration warning")
		return false
	}
	return true
}

// evaluateRule applies one rule to one position, creating a roll_trigger
// alert on match unless one already exists for this (position, rule) today.
// Past-due positions never trigger; they belong to the expire job.
func (e *Engine) evaluateRule(ctx context.Context, account *models.Account,
	rule *models.RollRule, position *models.Position, now time.Time) bool {
	if position.IsPastDue(now) {
		return false
	}
	effective := e.applyDefaults(*rule)

	live, ticker := e.fetchLive(ctx, position)
	if !rules.Evaluate(&effective, position, live, now) {
		return false
	}

	exists, err := e.store.HasAlertForDay(position.ID, rule.ID, models.ReasonRollTrigger, now)
	if err != nil || exists {
		return false
	}

	payload := map[string]any{
		"dte":        position.DTE(now),
		"strike":     position.Strike,
		"side":       string(position.Side),
		"expiration": position.Expiration.Format("2006-01-02"),
	}
	if ticker != "" {
		payload["ticker"] = ticker
	}
	if live.UnderlyingPrice != nil {
		payload["underlying_price"] = *live.UnderlyingPrice
	}
	if live.CurrentPremium != nil {
		payload["current_premium"] = *live.CurrentPremium
	}
	if live.Delta != nil {
		payload["delta"] = *live.Delta
	}
	if len(rule.NotifyChannels) > 0 {
		channels := make([]any, 0, len(rule.NotifyChannels))
		for _, c := range rule.NotifyChannels {
			channels = append(channels, string(c))
		}
		payload["channels"] = channels
	}

	_, err = e.store.CreateAlert(models.Alert{
		AccountID:  account.ID,
		PositionID: position.ID,
		RuleID:     rule.ID,
		Reason:     models.ReasonRollTrigger,
		Payload:    payload,
	})
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"position_id": position.ID,
			"rule_id":     rule.ID,
		}).Error("Failed to create roll trigger")
		return false
	}
	return true
}

// applyDefaults fills a rule's zero DTE band from the configured defaults.
func (e *Engine) applyDefaults(rule models.RollRule) models.RollRule {
	if rule.DTEMax == 0 {
		rule.DTEMin = e.cfg.RuleDefaults.DTEMin
		rule.DTEMax = e.cfg.RuleDefaults.DTEMax
	}
	if rule.DeltaThreshold == nil && e.cfg.RuleDefaults.DeltaThreshold > 0 {
		v := e.cfg.RuleDefaults.DeltaThreshold
		rule.DeltaThreshold = &v
	}
	return rule
}

// fetchLive gathers the best-effort evaluator inputs through the provider
// chain. Every failure is non-fatal: the corresponding gate is skipped.
func (e *Engine) fetchLive(ctx context.Context, position *models.Position) (rules.Live, string) {
	var live rules.Live

	ticker := e.tickerFor(position)
	if ticker == "" {
		return live, ""
	}

	if quote, err := e.provider.GetQuote(ctx, ticker); err == nil {
		if price, ok := quote.Price(); ok {
			live.UnderlyingPrice = &price
		}
	} else {
		e.logger.WithError(err).WithField("ticker", ticker).Debug("No underlying quote")
	}

	if oq, err := e.provider.GetOptionQuote(ctx, ticker, position.Strike,
		position.Side, position.Expiration); err == nil {
		if mid, ok := oq.Mid(); ok {
			live.CurrentPremium = &mid
		}
	}

	if greeks, err := e.provider.GetGreeks(ctx, ticker, position.Strike,
		position.Side, position.Expiration); err == nil {
		delta := greeks.Delta
		if !math.IsNaN(delta) {
			live.Delta = &delta
		}
	}

	return live, ticker
}

func (e *Engine) tickerFor(position *models.Position) string {
	asset, err := e.store.GetAssetByID(position.AssetID)
	if err != nil {
		return ""
	}
	return asset.Ticker
}
