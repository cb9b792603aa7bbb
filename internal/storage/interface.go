// Package storage persists the durable state: accounts, assets, positions,
// roll rules, the alert queue, and delivery logs. The in-memory bridge state
// (quotes, heartbeats, commands) deliberately lives elsewhere.
package storage

import (
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// AccountRepo reads user-owned brokerage accounts.
type AccountRepo interface {
	GetAllAccounts() ([]models.Account, error)
	GetAccountByID(id string) (*models.Account, error)
	UserOwnsAccount(accountID, userID string) (bool, error)
}

// AssetRepo reads underlying instruments referenced by positions.
type AssetRepo interface {
	GetAssetByID(id string) (*models.Asset, error)
}

// PositionRepo reads and transitions option positions.
type PositionRepo interface {
	GetOpenPositions(accountID string) ([]models.Position, error)
	GetPositionByID(id string) (*models.Position, error)
	GetUserPosition(id, userID string) (*models.Position, error)
	// UpdatePositionStatus transitions a position lifecycle state.
	UpdatePositionStatus(id string, status models.PositionStatus) error
}

// RuleRepo reads roll rules.
type RuleRepo interface {
	GetActiveRules(accountID string) ([]models.RollRule, error)
}

// AlertRepo manages the alert queue.
//
// Implementations must be safe for concurrent use: the monitor, notifier,
// scheduler cleanup job, and the bridge retry endpoint all touch the queue.
type AlertRepo interface {
	// CreateAlert persists a new alert with status PENDING.
	CreateAlert(alert models.Alert) (*models.Alert, error)
	GetAlertByID(id string) (*models.Alert, error)
	// GetPendingAlerts returns PENDING alerts oldest-first, up to limit.
	GetPendingAlerts(limit int) ([]models.Alert, error)
	GetAlertsByAccountID(accountID string, status models.AlertStatus) ([]models.Alert, error)
	// UpdateAlertStatus enforces the forward-only state machine and stamps
	// dispatched_at / completed_at on the corresponding transitions.
	UpdateAlertStatus(id string, status models.AlertStatus, lastError string) error
	// MergeAlertPayload shallow-merges patch into the stored payload.
	MergeAlertPayload(id string, patch map[string]any) error
	// RetryFailedAlert re-queues a FAILED alert as PENDING.
	RetryFailedAlert(id string) (*models.Alert, error)
	// HasAlertForDay reports whether an alert already exists for the
	// (position, rule, reason) triple on the given calendar day.
	HasAlertForDay(positionID, ruleID string, reason models.AlertReason, day time.Time) (bool, error)
	// CleanupOldAlerts deletes SENT alerts completed more than days ago.
	CleanupOldAlerts(days int) (int, error)
}

// LogRepo appends and prunes delivery logs. Logs are immutable once written.
type LogRepo interface {
	CreateLog(queueID string, channel models.Channel, target, message string,
		status models.LogStatus, providerMsgID string) (*models.DeliveryLog, error)
	GetLogsByQueueID(queueID string) ([]models.DeliveryLog, error)
	// CleanupOldLogs deletes success logs sent more than days ago.
	CleanupOldLogs(days int) (int, error)
}

// Interface aggregates every repository over one backing store.
type Interface interface {
	AccountRepo
	AssetRepo
	PositionRepo
	RuleRepo
	AlertRepo
	LogRepo

	GetStatistics() Statistics
	Save() error
	Load() error
}

// NewStorage creates the JSON-file-backed implementation.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
