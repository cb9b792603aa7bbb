package storage

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"encoding/json"

	"github.com/google/uuid"
	"github.com/rollwatch/rollwatch/internal/models"
)

// JSONStorage persists all durable state in a single JSON file. A RWMutex
// serializes access; saves marshal to a temp file and rename atomically.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
	now      func() time.Time
}

type storageData struct {
	Accounts    []models.Account     `json:"accounts"`
	Assets      []models.Asset       `json:"assets"`
	Positions   []models.Position    `json:"positions"`
	Rules       []models.RollRule    `json:"roll_rules"`
	Alerts      []models.Alert       `json:"alert_queue"`
	Logs        []models.DeliveryLog `json:"alert_logs"`
	LastUpdated time.Time            `json:"last_updated"`
}

// NewJSONStorage opens or creates the backing file.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     &storageData{},
		now:      time.Now,
	}

	// Load existing data if file exists
	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load replaces in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filepath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	fresh := &storageData{}
	if err := json.Unmarshal(data, fresh); err != nil {
		return err
	}
	// Tolerate legacy payload encodings at the load boundary.
	for i := range fresh.Alerts {
		fresh.Alerts[i].Payload = models.NormalizePayload(fresh.Alerts[i].Payload)
	}
	s.data = fresh

	return nil
}

// Save writes in-memory state to disk via temp file + atomic rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = s.now()
	if s.filepath == "" {
		// In-memory mode used by tests.
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// --- accounts ---

// GetAllAccounts returns a copy of every account.
func (s *JSONStorage) GetAllAccounts() ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, len(s.data.Accounts))
	copy(out, s.data.Accounts)
	return out, nil
}

// GetAccountByID returns the account or ErrNotFound.
func (s *JSONStorage) GetAccountByID(id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acct := range s.data.Accounts {
		if acct.ID == id {
			out := acct
			return &out, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
}

// UserOwnsAccount reports whether the account belongs to the user.
func (s *JSONStorage) UserOwnsAccount(accountID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acct := range s.data.Accounts {
		if acct.ID == accountID {
			return acct.UserID == userID, nil
		}
	}
	return false, nil
}

// UpsertAccount inserts or replaces an account, assigning an id when absent.
func (s *JSONStorage) UpsertAccount(acct models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	replaced := false
	for i := range s.data.Accounts {
		if s.data.Accounts[i].ID == acct.ID {
			s.data.Accounts[i] = acct
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Accounts = append(s.data.Accounts, acct)
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &acct, nil
}

// --- assets ---

// GetAssetByID returns the asset or ErrNotFound.
func (s *JSONStorage) GetAssetByID(id string) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, asset := range s.data.Assets {
		if asset.ID == id {
			out := asset
			return &out, nil
		}
	}
	return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
}

// UpsertAsset inserts or replaces an asset, assigning an id when absent.
func (s *JSONStorage) UpsertAsset(asset models.Asset) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	replaced := false
	for i := range s.data.Assets {
		if s.data.Assets[i].ID == asset.ID {
			s.data.Assets[i] = asset
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Assets = append(s.data.Assets, asset)
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &asset, nil
}

// --- positions ---

// GetOpenPositions returns OPEN positions, optionally scoped to an account.
func (s *JSONStorage) GetOpenPositions(accountID string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Position
	for _, pos := range s.data.Positions {
		if pos.Status != models.PositionOpen {
			continue
		}
		if accountID != "" && pos.AccountID != accountID {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetPositionByID returns the position or ErrNotFound.
func (s *JSONStorage) GetPositionByID(id string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pos := range s.data.Positions {
		if pos.ID == id {
			out := pos
			return &out, nil
		}
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// GetUserPosition returns the position only when its account belongs to the
// user.
func (s *JSONStorage) GetUserPosition(id, userID string) (*models.Position, error) {
	pos, err := s.GetPositionByID(id)
	if err != nil {
		return nil, err
	}
	owns, err := s.UserOwnsAccount(pos.AccountID, userID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, fmt.Errorf("position %s for user %s: %w", id, userID, ErrNotFound)
	}
	return pos, nil
}

// UpdatePositionStatus transitions a position lifecycle state.
func (s *JSONStorage) UpdatePositionStatus(id string, status models.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Positions {
		if s.data.Positions[i].ID == id {
			s.data.Positions[i].Status = status
			return s.saveLocked()
		}
	}
	return fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// UpsertPosition inserts or replaces a position, assigning an id when absent.
func (s *JSONStorage) UpsertPosition(pos models.Position) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	if pos.Status == "" {
		pos.Status = models.PositionOpen
	}
	replaced := false
	for i := range s.data.Positions {
		if s.data.Positions[i].ID == pos.ID {
			s.data.Positions[i] = pos
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Positions = append(s.data.Positions, pos)
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &pos, nil
}

// --- rules ---

// GetActiveRules returns active rules, optionally scoped to an account.
func (s *JSONStorage) GetActiveRules(accountID string) ([]models.RollRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RollRule
	for _, rule := range s.data.Rules {
		if !rule.IsActive {
			continue
		}
		if accountID != "" && rule.AccountID != accountID {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// UpsertRule inserts or replaces a rule, assigning an id when absent.
func (s *JSONStorage) UpsertRule(rule models.RollRule) (*models.RollRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	replaced := false
	for i := range s.data.Rules {
		if s.data.Rules[i].ID == rule.ID {
			s.data.Rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Rules = append(s.data.Rules, rule)
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// --- alert queue ---

// CreateAlert persists a new PENDING alert.
func (s *JSONStorage) CreateAlert(alert models.Alert) (*models.Alert, error) {
	if !alert.Reason.Valid() {
		return nil, fmt.Errorf("invalid alert reason %q", alert.Reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.Status = models.AlertPending
	alert.CreatedAt = s.now()
	alert.Payload = models.NormalizePayload(alert.Payload)

	s.data.Alerts = append(s.data.Alerts, alert)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := alert
	return &out, nil
}

// GetAlertByID returns the alert or ErrNotFound.
func (s *JSONStorage) GetAlertByID(id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.data.Alerts {
		if alert.ID == id {
			out := alert
			return &out, nil
		}
	}
	return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

// GetPendingAlerts returns PENDING alerts oldest-first, up to limit (0 means
// no limit).
func (s *JSONStorage) GetPendingAlerts(limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, alert := range s.data.Alerts {
		if alert.Status == models.AlertPending {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAlertsByAccountID returns an account's alerts, optionally filtered by
// status, newest-first.
func (s *JSONStorage) GetAlertsByAccountID(accountID string, status models.AlertStatus) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, alert := range s.data.Alerts {
		if alert.AccountID != accountID {
			continue
		}
		if status != "" && alert.Status != status {
			continue
		}
		out = append(out, alert)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateAlertStatus applies one state-machine transition. PROCESSING stamps
// dispatched_at; SENT and FAILED stamp completed_at. The lastError message is
// recorded on FAILED and cleared otherwise.
func (s *JSONStorage) UpdateAlertStatus(id string, status models.AlertStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Alerts {
		if s.data.Alerts[i].ID != id {
			continue
		}
		current := s.data.Alerts[i].Status
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("alert %s %s->%s: %w", id, current, status, ErrInvalidTransition)
		}

		s.data.Alerts[i].Status = status
		now := s.now()
		switch status {
		case models.AlertProcessing:
			s.data.Alerts[i].DispatchedAt = now
			s.data.Alerts[i].LastError = ""
		case models.AlertSent:
			s.data.Alerts[i].CompletedAt = now
			s.data.Alerts[i].LastError = ""
		case models.AlertFailed:
			s.data.Alerts[i].CompletedAt = now
			s.data.Alerts[i].LastError = lastError
		case models.AlertPending:
			s.data.Alerts[i].LastError = ""
			s.data.Alerts[i].CompletedAt = time.Time{}
		}
		return s.saveLocked()
	}
	return fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

// MergeAlertPayload shallow-merges patch keys into the stored payload.
func (s *JSONStorage) MergeAlertPayload(id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Alerts {
		if s.data.Alerts[i].ID != id {
			continue
		}
		payload := models.NormalizePayload(s.data.Alerts[i].Payload)
		for k, v := range patch {
			payload[k] = v
		}
		s.data.Alerts[i].Payload = payload
		return s.saveLocked()
	}
	return fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

// RetryFailedAlert re-queues a FAILED alert as PENDING.
func (s *JSONStorage) RetryFailedAlert(id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Alerts {
		if s.data.Alerts[i].ID != id {
			continue
		}
		if s.data.Alerts[i].Status != models.AlertFailed {
			return nil, fmt.Errorf("alert %s is %s, only FAILED can be retried: %w",
				id, s.data.Alerts[i].Status, ErrInvalidTransition)
		}
		s.data.Alerts[i].Status = models.AlertPending
		s.data.Alerts[i].LastError = ""
		s.data.Alerts[i].CompletedAt = time.Time{}
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		out := s.data.Alerts[i]
		return &out, nil
	}
	return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

// HasAlertForDay reports whether an alert exists for (position, rule, reason)
// on the given UTC calendar day, regardless of its queue status.
func (s *JSONStorage) HasAlertForDay(positionID, ruleID string, reason models.AlertReason, day time.Time) (bool, error) {
	target := day.UTC().Truncate(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.data.Alerts {
		if alert.PositionID != positionID || alert.RuleID != ruleID || alert.Reason != reason {
			continue
		}
		if alert.CreatedAt.UTC().Truncate(24 * time.Hour).Equal(target) {
			return true, nil
		}
	}
	return false, nil
}

// CleanupOldAlerts deletes SENT alerts completed more than days ago and
// returns the number removed.
func (s *JSONStorage) CleanupOldAlerts(days int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data.Alerts[:0]
	removed := 0
	for _, alert := range s.data.Alerts {
		if alert.Status == models.AlertSent && !alert.CompletedAt.IsZero() && alert.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, alert)
	}
	s.data.Alerts = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// Statistics summarizes queue health for the bridge health payload.
type Statistics struct {
	AlertsTotal    int            `json:"alerts_total"`
	AlertsByStatus map[string]int `json:"alerts_by_status"`
	LogsTotal      int            `json:"logs_total"`
	LogSuccessRate float64        `json:"log_success_rate"`
}

// GetStatistics counts alerts by status and computes the delivery success
// rate across all logs.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{
		AlertsTotal:    len(s.data.Alerts),
		AlertsByStatus: make(map[string]int),
		LogsTotal:      len(s.data.Logs),
	}
	for _, alert := range s.data.Alerts {
		st.AlertsByStatus[string(alert.Status)]++
	}
	if len(s.data.Logs) > 0 {
		success := 0
		for _, log := range s.data.Logs {
			if log.Status == models.LogSuccess {
				success++
			}
		}
		st.LogSuccessRate = float64(success) / float64(len(s.data.Logs))
	}
	return st
}

// --- delivery logs ---

// CreateLog appends an immutable delivery record.
func (s *JSONStorage) CreateLog(queueID string, channel models.Channel, target, message string,
	status models.LogStatus, providerMsgID string) (*models.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := models.DeliveryLog{
		ID:            uuid.New().String(),
		QueueID:       queueID,
		Channel:       channel,
		Target:        target,
		Message:       message,
		Status:        status,
		SentAt:        s.now(),
		ProviderMsgID: providerMsgID,
	}
	s.data.Logs = append(s.data.Logs, log)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := log
	return &out, nil
}

// GetLogsByQueueID returns delivery logs for one alert, oldest-first.
func (s *JSONStorage) GetLogsByQueueID(queueID string) ([]models.DeliveryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DeliveryLog
	for _, log := range s.data.Logs {
		if log.QueueID == queueID {
			out = append(out, log)
		}
	}
	return out, nil
}

// CleanupOldLogs deletes success logs sent more than days ago and returns the
// number removed. Failed logs are kept for audit.
func (s *JSONStorage) CleanupOldLogs(days int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data.Logs[:0]
	removed := 0
	for _, log := range s.data.Logs {
		if log.Status == models.LogSuccess && log.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, log)
	}
	s.data.Logs = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}
