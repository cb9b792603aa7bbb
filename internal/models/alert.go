package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertReason classifies why an alert entered the queue. The payload shape is
// reason-specific; see the notifier's message builder.
type AlertReason string

const (
	// ReasonRollTrigger fires when a roll rule matches an open position
	ReasonRollTrigger AlertReason = "roll_trigger"
	// ReasonExpirationWarning fires when a position is within 3 DTE
	ReasonExpirationWarning AlertReason = "expiration_warning"
	// ReasonDeltaThreshold fires when |delta| crosses a configured threshold
	ReasonDeltaThreshold AlertReason = "delta_threshold"
	// ReasonManual marks alerts injected by an operator
	ReasonManual AlertReason = "manual"
)

// Valid returns true if the AlertReason is one of the defined constants.
func (r AlertReason) Valid() bool {
	switch r {
	case ReasonRollTrigger, ReasonExpirationWarning, ReasonDeltaThreshold, ReasonManual:
		return true
	default:
		return false
	}
}

// AlertStatus is the queue state of an alert.
type AlertStatus string

const (
	// AlertPending is waiting for the notifier to pick it up
	AlertPending AlertStatus = "PENDING"
	// AlertProcessing is claimed by a notifier invocation
	AlertProcessing AlertStatus = "PROCESSING"
	// AlertSent means every attempted channel recorded a success log
	AlertSent AlertStatus = "SENT"
	// AlertFailed means at least one channel exhausted its retries
	AlertFailed AlertStatus = "FAILED"
)

// CanTransitionTo enforces the forward-only alert state machine.
// FAILED→PENDING is the manual-retry path.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertPending:
		return next == AlertProcessing
	case AlertProcessing:
		return next == AlertSent || next == AlertFailed
	case AlertFailed:
		return next == AlertPending
	default:
		return false
	}
}

// Alert is a queued notification with a contextual payload snapshot taken at
// creation time and merged during notifier enrichment.
type Alert struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	PositionID   string         `json:"option_position_id,omitempty"`
	RuleID       string         `json:"rule_id,omitempty"`
	Reason       AlertReason    `json:"reason"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       AlertStatus    `json:"status"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DispatchedAt time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
}

// LogStatus is the terminal outcome of one delivery attempt chain.
type LogStatus string

const (
	// LogSuccess records a provider-acknowledged delivery
	LogSuccess LogStatus = "success"
	// LogFailed records retry exhaustion or a permanent provider error
	LogFailed LogStatus = "failed"
)

// DeliveryLog is an append-only record of a terminal delivery outcome for one
// (alert, channel) pair. Logs never mutate once written.
type DeliveryLog struct {
	ID            string    `json:"id"`
	QueueID       string    `json:"queue_id"`
	Channel       Channel   `json:"channel"`
	Target        string    `json:"target"`
	Message       string    `json:"message"`
	Status        LogStatus `json:"status"`
	SentAt        time.Time `json:"sent_at"`
	ProviderMsgID string    `json:"provider_msg_id,omitempty"`
}

// NormalizePayload tolerates the legacy payload shapes that accumulated at the
// persistence boundary: whole payloads stored as stringified JSON, and list
// fields stored as JSON-in-a-string or comma-separated text. It always returns
// a non-nil map.
func NormalizePayload(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return normalizeValues(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return map[string]any{}
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return normalizeValues(parsed)
		}
		return map[string]any{"raw": v}
	default:
		return map[string]any{"raw": fmt.Sprintf("%v", raw)}
	}
}

// normalizeValues rewrites string-encoded lists back into real slices.
func normalizeValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			var list []any
			if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
				out[k] = list
				continue
			}
		}
		out[k] = v
	}
	return out
}

// PayloadChannels extracts the channel list from an alert payload, unions it
// with the defaults, and dedupes while preserving insertion order. Entries
// that are not a known channel are dropped.
func PayloadChannels(payload map[string]any) []Channel {
	var requested []Channel
	switch v := payload["channels"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				requested = append(requested, Channel(strings.ToLower(strings.TrimSpace(s))))
			}
		}
	case []string:
		for _, s := range v {
			requested = append(requested, Channel(strings.ToLower(strings.TrimSpace(s))))
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			requested = append(requested, Channel(strings.ToLower(strings.TrimSpace(s))))
		}
	}

	seen := make(map[Channel]bool)
	out := make([]Channel, 0, len(requested)+2)
	for _, c := range append(requested, DefaultChannels()...) {
		if !c.Valid() || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// PayloadString reads a string field from a payload, tolerating numeric values.
func PayloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

// PayloadFloat reads a numeric field from a payload, tolerating string values.
// The second return reports presence.
func PayloadFloat(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
