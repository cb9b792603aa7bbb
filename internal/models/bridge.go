package models

import (
	"fmt"
	"strings"
	"time"
)

// QuoteSource tags where a quote came from, for observability.
type QuoteSource string

const (
	// SourceMT5 marks quotes pushed by the trading terminal
	SourceMT5 QuoteSource = "mt5"
	// SourceFallback marks quotes synthesized by a fallback provider
	SourceFallback QuoteSource = "fallback"
)

// Quote is a point-in-time underlying quote. Numeric fields are pointers
// because the terminal may omit any of them.
type Quote struct {
	Symbol    string      `json:"symbol"`
	Bid       *float64    `json:"bid,omitempty"`
	Ask       *float64    `json:"ask,omitempty"`
	Last      *float64    `json:"last,omitempty"`
	Volume    *float64    `json:"volume,omitempty"`
	Ts        time.Time   `json:"ts"`
	UpdatedAt time.Time   `json:"updated_at"`
	Source    QuoteSource `json:"source"`
}

// Price returns the best available price: last, then bid/ask mid, then
// whichever side is present.
func (q *Quote) Price() (float64, bool) {
	if q.Last != nil && *q.Last > 0 {
		return *q.Last, true
	}
	if q.Bid != nil && q.Ask != nil && *q.Bid > 0 && *q.Ask > 0 {
		return (*q.Bid + *q.Ask) / 2, true
	}
	if q.Bid != nil && *q.Bid > 0 {
		return *q.Bid, true
	}
	if q.Ask != nil && *q.Ask > 0 {
		return *q.Ask, true
	}
	return 0, false
}

// OptionQuote is a point-in-time option quote keyed by the decoded contract
// identity rather than the raw broker symbol.
type OptionQuote struct {
	Ticker     string     `json:"ticker"`
	Strike     float64    `json:"strike"`
	OptionType OptionSide `json:"option_type"`
	Expiration time.Time  `json:"expiration"`
	MT5Symbol  string     `json:"mt5_symbol,omitempty"`
	Bid        *float64   `json:"bid,omitempty"`
	Ask        *float64   `json:"ask,omitempty"`
	Last       *float64   `json:"last,omitempty"`
	Volume     *float64   `json:"volume,omitempty"`
	Ts         time.Time  `json:"ts"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key builds the cache key ticker_strike_type_expiration.
func (o *OptionQuote) Key() string {
	return OptionKey(o.Ticker, o.Strike, o.OptionType, o.Expiration)
}

// OptionKey builds the canonical option cache key.
func OptionKey(ticker string, strike float64, side OptionSide, expiration time.Time) string {
	return fmt.Sprintf("%s_%.2f_%s_%s",
		strings.ToUpper(ticker), strike, side, expiration.Format("2006-01-02"))
}

// Mid returns the bid/ask midpoint, falling back to last.
func (o *OptionQuote) Mid() (float64, bool) {
	if o.Bid != nil && o.Ask != nil && *o.Bid > 0 && *o.Ask > 0 {
		return (*o.Bid + *o.Ask) / 2, true
	}
	if o.Last != nil && *o.Last > 0 {
		return *o.Last, true
	}
	return 0, false
}

// Spread returns (ask-bid)/mid, or 0 when it cannot be computed.
func (o *OptionQuote) Spread() float64 {
	mid, ok := o.Mid()
	if !ok || o.Bid == nil || o.Ask == nil || mid <= 0 {
		return 0
	}
	return (*o.Ask - *o.Bid) / mid
}

// Heartbeat is the periodic liveness signal from a trading terminal.
type Heartbeat struct {
	TerminalID    string    `json:"terminal_id"`
	AccountNumber string    `json:"account_number"`
	Broker        string    `json:"broker,omitempty"`
	Build         string    `json:"build,omitempty"`
	Ts            time.Time `json:"ts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CommandType identifies the terminal operation a command requests.
type CommandType string

const (
	// CommandRollPosition closes one leg and opens another atomically
	CommandRollPosition CommandType = "ROLL_POSITION"
	// CommandOpenPosition opens a new option leg
	CommandOpenPosition CommandType = "OPEN_POSITION"
	// CommandClosePosition closes an existing option leg
	CommandClosePosition CommandType = "CLOSE_POSITION"
)

// CommandStatus is the dispatch state of a terminal command.
type CommandStatus string

const (
	// CommandPending is queued, not yet handed to a terminal
	CommandPending CommandStatus = "PENDING"
	// CommandDispatched has been returned to a terminal poll
	CommandDispatched CommandStatus = "DISPATCHED"
	// CommandFilled is terminal: the order executed fully
	CommandFilled CommandStatus = "FILLED"
	// CommandRejected is terminal: the terminal refused the order
	CommandRejected CommandStatus = "REJECTED"
	// CommandCancelled is terminal: the order was cancelled
	CommandCancelled CommandStatus = "CANCELLED"
	// CommandPartial is a partial fill; further reports may follow
	CommandPartial CommandStatus = "PARTIAL"
	// CommandUnknown is assigned to placeholder commands created from
	// execution reports that reference an id we never issued
	CommandUnknown CommandStatus = "UNKNOWN"
)

// Terminal reports whether the status ends the command lifecycle.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandFilled, CommandRejected, CommandCancelled:
		return true
	default:
		return false
	}
}

// CommandLeg describes one option leg inside a roll/open/close command.
type CommandLeg struct {
	Symbol     string     `json:"symbol,omitempty"`
	Ticker     string     `json:"ticker,omitempty"`
	Side       OptionSide `json:"side,omitempty"`
	Strike     float64    `json:"strike,omitempty"`
	Expiration string     `json:"expiration,omitempty"`
	Quantity   int        `json:"quantity,omitempty"`
	LimitPrice float64    `json:"limit_price,omitempty"`
}

// CommandConstraints bounds command execution at the terminal.
type CommandConstraints struct {
	MaxSlippage  float64 `json:"max_slippage,omitempty"`
	MinNetCredit float64 `json:"min_net_credit,omitempty"`
	TimeoutSec   int     `json:"timeout_sec,omitempty"`
}

// Command is a queued instruction for the trading terminal. Commands are
// ephemeral in-process state and lost on restart.
type Command struct {
	ID            string              `json:"id"`
	Type          CommandType         `json:"type"`
	TerminalID    string              `json:"terminal_id,omitempty"`
	AccountNumber string              `json:"account_number,omitempty"`
	PositionID    string              `json:"position_id,omitempty"`
	CloseLeg      *CommandLeg         `json:"close_leg,omitempty"`
	OpenLeg       *CommandLeg         `json:"open_leg,omitempty"`
	Constraints   *CommandConstraints `json:"constraints,omitempty"`
	Status        CommandStatus       `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	DispatchedAt  time.Time           `json:"dispatched_at,omitempty"`
	CompletedAt   time.Time           `json:"completed_at,omitempty"`
	CreatedBy     string              `json:"created_by,omitempty"`
	LastReport    *ExecutionReport    `json:"last_report,omitempty"`
}

// ExecutionReport is the terminal's reconciliation message for a command.
type ExecutionReport struct {
	CommandID  string         `json:"command_id"`
	Status     CommandStatus  `json:"status"`
	OrderID    string         `json:"order_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	ReceivedAt time.Time      `json:"received_at,omitempty"`
}
