// Package models defines the domain entities shared by the monitor, notifier,
// bridge, and storage layers.
package models

import (
	"time"
)

// OptionSide is the contract type of an option position.
type OptionSide string

const (
	// SideCall represents a call option contract
	SideCall OptionSide = "CALL"
	// SidePut represents a put option contract
	SidePut OptionSide = "PUT"
)

// Valid returns true if the OptionSide is one of the defined constants.
func (s OptionSide) Valid() bool {
	switch s {
	case SideCall, SidePut:
		return true
	default:
		return false
	}
}

// PositionStatus is the lifecycle state of an option position.
type PositionStatus string

const (
	// PositionOpen is an active position being monitored
	PositionOpen PositionStatus = "OPEN"
	// PositionClosed is a position explicitly closed by the user
	PositionClosed PositionStatus = "CLOSED"
	// PositionExpired is a position past its expiration date
	PositionExpired PositionStatus = "EXPIRED"
)

// Account identifies a user-owned brokerage account. Identity fields are
// immutable after creation; contact fields may change.
type Account struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Broker        string `json:"broker"`
	AccountNumber string `json:"account_number"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

// Asset is an underlying instrument referenced by positions.
type Asset struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
	Name   string `json:"name,omitempty"`
}

// Position represents a user-owned option position.
type Position struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	AssetID    string         `json:"asset_id"`
	Side       OptionSide     `json:"side"`
	Strategy   string         `json:"strategy,omitempty"`
	Strike     float64        `json:"strike"`
	Expiration time.Time      `json:"expiration"`
	Quantity   int            `json:"quantity"`
	AvgPremium float64        `json:"avg_premium"`
	Status     PositionStatus `json:"status"`
	Notes      string         `json:"notes,omitempty"`
}

// DTE returns calendar days to expiration relative to now, never negative.
func (p *Position) DTE(now time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	exp := p.Expiration.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsPastDue reports whether the expiration date is strictly before today.
func (p *Position) IsPastDue(now time.Time) bool {
	n := now.UTC().Truncate(24 * time.Hour)
	exp := p.Expiration.UTC().Truncate(24 * time.Hour)
	return exp.Before(n)
}

// RollRule holds the user-defined thresholds that trigger roll alerts.
// All numeric thresholds except the DTE band are optional; nil disables
// the corresponding gate.
type RollRule struct {
	ID                    string    `json:"id"`
	AccountID             string    `json:"account_id"`
	DeltaThreshold        *float64  `json:"delta_threshold,omitempty"`
	DTEMin                int       `json:"dte_min"`
	DTEMax                int       `json:"dte_max"`
	SpreadThreshold       *float64  `json:"spread_threshold,omitempty"`
	PriceToStrikeRatio    *float64  `json:"price_to_strike_ratio,omitempty"`
	MinVolume             *float64  `json:"min_volume,omitempty"`
	MaxSpread             *float64  `json:"max_spread,omitempty"`
	MinOI                 *float64  `json:"min_oi,omitempty"`
	TargetOTMPctLow       float64   `json:"target_otm_pct_low"`
	TargetOTMPctHigh      float64   `json:"target_otm_pct_high"`
	PremiumCloseThreshold *float64  `json:"premium_close_threshold,omitempty"`
	NotifyChannels        []Channel `json:"notify_channels,omitempty"`
	IsActive              bool      `json:"is_active"`
}

// Channel is a delivery channel for alert notifications.
type Channel string

const (
	// ChannelWhatsApp delivers via the WhatsApp provider endpoint
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelSMS delivers via the SMS provider endpoint
	ChannelSMS Channel = "sms"
	// ChannelEmail delivers via the email provider endpoint
	ChannelEmail Channel = "email"
)

// Valid returns true if the Channel is one of the defined constants.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	default:
		return false
	}
}

// DefaultChannels is the fan-out applied when an alert carries no explicit
// channel list. Order matters: it is preserved during dispatch.
func DefaultChannels() []Channel {
	return []Channel{ChannelWhatsApp, ChannelSMS}
}
