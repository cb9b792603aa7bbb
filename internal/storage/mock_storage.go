package storage

import (
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// MockStorage wraps an in-memory JSONStorage with per-method overrides so
// tests can inject failures without touching disk. A nil override delegates
// to the inner store.
type MockStorage struct {
	Inner *JSONStorage

	UpdateAlertStatusFn func(id string, status models.AlertStatus, lastError string) error
	CreateLogFn         func(queueID string, channel models.Channel, target, message string,
		status models.LogStatus, providerMsgID string) (*models.DeliveryLog, error)
	GetAccountByIDFn  func(id string) (*models.Account, error)
	GetPositionByIDFn func(id string) (*models.Position, error)
}

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return NewMockStorageWithClock(time.Now)
}

// NewMockStorageWithClock creates an empty in-memory store whose timestamps
// come from the given clock, so tests with a frozen clock see consistent
// created-at days.
func NewMockStorageWithClock(now func() time.Time) *MockStorage {
	return &MockStorage{Inner: &JSONStorage{data: &storageData{}, now: now}}
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)

func (m *MockStorage) GetAllAccounts() ([]models.Account, error) { return m.Inner.GetAllAccounts() }

func (m *MockStorage) GetAccountByID(id string) (*models.Account, error) {
	if m.GetAccountByIDFn != nil {
		return m.GetAccountByIDFn(id)
	}
	return m.Inner.GetAccountByID(id)
}

func (m *MockStorage) UserOwnsAccount(accountID, userID string) (bool, error) {
	return m.Inner.UserOwnsAccount(accountID, userID)
}

func (m *MockStorage) GetAssetByID(id string) (*models.Asset, error) {
	return m.Inner.GetAssetByID(id)
}

func (m *MockStorage) GetOpenPositions(accountID string) ([]models.Position, error) {
	return m.Inner.GetOpenPositions(accountID)
}

func (m *MockStorage) GetPositionByID(id string) (*models.Position, error) {
	if m.GetPositionByIDFn != nil {
		return m.GetPositionByIDFn(id)
	}
	return m.Inner.GetPositionByID(id)
}

func (m *MockStorage) GetUserPosition(id, userID string) (*models.Position, error) {
	return m.Inner.GetUserPosition(id, userID)
}

func (m *MockStorage) UpdatePositionStatus(id string, status models.PositionStatus) error {
	return m.Inner.UpdatePositionStatus(id, status)
}

func (m *MockStorage) GetActiveRules(accountID string) ([]models.RollRule, error) {
	return m.Inner.GetActiveRules(accountID)
}

func (m *MockStorage) CreateAlert(alert models.Alert) (*models.Alert, error) {
	return m.Inner.CreateAlert(alert)
}

func (m *MockStorage) GetAlertByID(id string) (*models.Alert, error) {
	return m.Inner.GetAlertByID(id)
}

func (m *MockStorage) GetPendingAlerts(limit int) ([]models.Alert, error) {
	return m.Inner.GetPendingAlerts(limit)
}

func (m *MockStorage) GetAlertsByAccountID(accountID string, status models.AlertStatus) ([]models.Alert, error) {
	return m.Inner.GetAlertsByAccountID(accountID, status)
}

func (m *MockStorage) UpdateAlertStatus(id string, status models.AlertStatus, lastError string) error {
	if m.UpdateAlertStatusFn != nil {
		return m.UpdateAlertStatusFn(id, status, lastError)
	}
	return m.Inner.UpdateAlertStatus(id, status, lastError)
}

func (m *MockStorage) MergeAlertPayload(id string, patch map[string]any) error {
	return m.Inner.MergeAlertPayload(id, patch)
}

func (m *MockStorage) RetryFailedAlert(id string) (*models.Alert, error) {
	return m.Inner.RetryFailedAlert(id)
}

func (m *MockStorage) HasAlertForDay(positionID, ruleID string, reason models.AlertReason, day time.Time) (bool, error) {
	return m.Inner.HasAlertForDay(positionID, ruleID, reason, day)
}

func (m *MockStorage) CleanupOldAlerts(days int) (int, error) {
	return m.Inner.CleanupOldAlerts(days)
}

func (m *MockStorage) CreateLog(queueID string, channel models.Channel, target, message string,
	status models.LogStatus, providerMsgID string) (*models.DeliveryLog, error) {
	if m.CreateLogFn != nil {
		return m.CreateLogFn(queueID, channel, target, message, status, providerMsgID)
	}
	return m.Inner.CreateLog(queueID, channel, target, message, status, providerMsgID)
}

func (m *MockStorage) GetLogsByQueueID(queueID string) ([]models.DeliveryLog, error) {
	return m.Inner.GetLogsByQueueID(queueID)
}

func (m *MockStorage) CleanupOldLogs(days int) (int, error) {
	return m.Inner.CleanupOldLogs(days)
}

func (m *MockStorage) GetStatistics() Statistics { return m.Inner.GetStatistics() }

func (m *MockStorage) Save() error { return nil }
func (m *MockStorage) Load() error { return nil }
