package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// memStorage builds an in-memory store with an adjustable clock.
func memStorage(clock *time.Time) *JSONStorage {
	return &JSONStorage{
		data: &storageData{},
		now:  func() time.Time { return *clock },
	}
}

func TestAlertLifecycle(t *testing.T) {
	clock := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	s := memStorage(&clock)

	alert, err := s.CreateAlert(models.Alert{
		AccountID: "acct-1",
		Reason:    models.ReasonRollTrigger,
		Status:    models.AlertSent, // ignored: creation always starts PENDING
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if alert.Status != models.AlertPending {
		t.Errorf("status = %q, want PENDING", alert.Status)
	}
	if alert.ID == "" || !alert.CreatedAt.Equal(clock) {
		t.Errorf("id = %q created = %v", alert.ID, alert.CreatedAt)
	}

	// PENDING -> SENT is not a legal transition.
	err = s.UpdateAlertStatus(alert.ID, models.AlertSent, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("PENDING->SENT: %v, want ErrInvalidTransition", err)
	}

	clock = clock.Add(time.Minute)
	if err := s.UpdateAlertStatus(alert.ID, models.AlertProcessing, ""); err != nil {
		t.Fatalf("PENDING->PROCESSING: %v", err)
	}
	got, _ := s.GetAlertByID(alert.ID)
	if !got.DispatchedAt.Equal(clock) {
		t.Errorf("dispatched_at = %v, want %v", got.DispatchedAt, clock)
	}

	clock = clock.Add(time.Minute)
	if err := s.UpdateAlertStatus(alert.ID, models.AlertFailed, "provider down"); err != nil {
		t.Fatalf("PROCESSING->FAILED: %v", err)
	}
	got, _ = s.GetAlertByID(alert.ID)
	if got.LastError != "provider down" || !got.CompletedAt.Equal(clock) {
		t.Errorf("failed alert = %+v", got)
	}

	// FAILED -> PENDING via manual retry clears the error state.
	retried, err := s.RetryFailedAlert(alert.ID)
	if err != nil {
		t.Fatalf("RetryFailedAlert: %v", err)
	}
	if retried.Status != models.AlertPending || retried.LastError != "" || !retried.CompletedAt.IsZero() {
		t.Errorf("retried alert = %+v", retried)
	}
}

func TestCreateAlertRejectsInvalidReason(t *testing.T) {
	clock := time.Now()
	s := memStorage(&clock)
	if _, err := s.CreateAlert(models.Alert{Reason: "nonsense"}); err == nil {
		t.Error("invalid reason accepted")
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	clock := time.Now()
	s := memStorage(&clock)

	alert, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	if _, err := s.RetryFailedAlert(alert.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry PENDING: %v, want ErrInvalidTransition", err)
	}
	if _, err := s.RetryFailedAlert("nope"); !IsNotFound(err) {
		t.Errorf("retry unknown: %v, want not-found", err)
	}
}

func TestGetPendingAlertsFIFO(t *testing.T) {
	clock := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	s := memStorage(&clock)

	first, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	clock = clock.Add(time.Second)
	second, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	clock = clock.Add(time.Second)
	_, _ = s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})

	got, err := s.GetPendingAlerts(2)
	if err != nil {
		t.Fatalf("GetPendingAlerts: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("pending = %d alerts, want the two oldest first", len(got))
	}

	all, _ := s.GetPendingAlerts(0)
	if len(all) != 3 {
		t.Errorf("limit 0 = %d alerts, want all 3", len(all))
	}
}

func TestHasAlertForDay(t *testing.T) {
	clock := time.Date(2026, 8, 10, 23, 30, 0, 0, time.UTC)
	s := memStorage(&clock)

	_, _ = s.CreateAlert(models.Alert{
		AccountID:  "a",
		PositionID: "pos-1",
		RuleID:     "rule-1",
		Reason:     models.ReasonRollTrigger,
	})

	sameDay := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	if ok, _ := s.HasAlertForDay("pos-1", "rule-1", models.ReasonRollTrigger, sameDay); !ok {
		t.Error("same UTC day should dedup")
	}
	nextDay := time.Date(2026, 8, 11, 0, 30, 0, 0, time.UTC)
	if ok, _ := s.HasAlertForDay("pos-1", "rule-1", models.ReasonRollTrigger, nextDay); ok {
		t.Error("next UTC day must not dedup")
	}
	if ok, _ := s.HasAlertForDay("pos-1", "rule-2", models.ReasonRollTrigger, sameDay); ok {
		t.Error("different rule must not dedup")
	}
	if ok, _ := s.HasAlertForDay("pos-1", "rule-1", models.ReasonExpirationWarning, sameDay); ok {
		t.Error("different reason must not dedup")
	}
}

func TestMergeAlertPayload(t *testing.T) {
	clock := time.Now()
	s := memStorage(&clock)

	alert, _ := s.CreateAlert(models.Alert{
		AccountID: "a",
		Reason:    models.ReasonRollTrigger,
		Payload:   map[string]any{"ticker": "VALE3", "dte": 12},
	})

	if err := s.MergeAlertPayload(alert.ID, map[string]any{"dte": 11, "delta": -0.34}); err != nil {
		t.Fatalf("MergeAlertPayload: %v", err)
	}
	got, _ := s.GetAlertByID(alert.ID)
	if got.Payload["ticker"] != "VALE3" {
		t.Errorf("existing key lost: %v", got.Payload)
	}
	if got.Payload["dte"] != 11 || got.Payload["delta"] != -0.34 {
		t.Errorf("patch not applied: %v", got.Payload)
	}

	if err := s.MergeAlertPayload("nope", map[string]any{"x": 1}); !IsNotFound(err) {
		t.Errorf("merge unknown: %v, want not-found", err)
	}
}

func TestCleanupOldAlertsAndLogs(t *testing.T) {
	clock := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := memStorage(&clock)

	old, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	_ = s.UpdateAlertStatus(old.ID, models.AlertProcessing, "")
	_ = s.UpdateAlertStatus(old.ID, models.AlertSent, "")
	_, _ = s.CreateLog(old.ID, models.ChannelSMS, "5511999", "m", models.LogSuccess, "")
	_, _ = s.CreateLog(old.ID, models.ChannelWhatsApp, "5511999", "m", models.LogFailed, "")

	// A fresh SENT alert and a still-PENDING one survive cleanup.
	clock = clock.AddDate(0, 0, 40)
	fresh, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	_ = s.UpdateAlertStatus(fresh.ID, models.AlertProcessing, "")
	_ = s.UpdateAlertStatus(fresh.ID, models.AlertSent, "")
	_, _ = s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})

	removed, err := s.CleanupOldAlerts(30)
	if err != nil {
		t.Fatalf("CleanupOldAlerts: %v", err)
	}
	if removed != 1 {
		t.Errorf("alerts removed = %d, want 1", removed)
	}
	if _, err := s.GetAlertByID(old.ID); !IsNotFound(err) {
		t.Errorf("old SENT alert should be gone: %v", err)
	}

	// Only old success logs are purged; failed logs stay for audit.
	removed, err = s.CleanupOldLogs(30)
	if err != nil {
		t.Fatalf("CleanupOldLogs: %v", err)
	}
	if removed != 1 {
		t.Errorf("logs removed = %d, want 1", removed)
	}
	logs, _ := s.GetLogsByQueueID(old.ID)
	if len(logs) != 1 || logs[0].Status != models.LogFailed {
		t.Errorf("surviving logs = %+v, want only the failed one", logs)
	}
}

func TestGetStatistics(t *testing.T) {
	clock := time.Now()
	s := memStorage(&clock)

	a, _ := s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	_, _ = s.CreateAlert(models.Alert{AccountID: "a", Reason: models.ReasonManual})
	_ = s.UpdateAlertStatus(a.ID, models.AlertProcessing, "")
	_, _ = s.CreateLog(a.ID, models.ChannelSMS, "t", "m", models.LogSuccess, "")
	_, _ = s.CreateLog(a.ID, models.ChannelSMS, "t", "m", models.LogFailed, "")

	st := s.GetStatistics()
	if st.AlertsTotal != 2 {
		t.Errorf("alerts total = %d", st.AlertsTotal)
	}
	if st.AlertsByStatus["PENDING"] != 1 || st.AlertsByStatus["PROCESSING"] != 1 {
		t.Errorf("by status = %v", st.AlertsByStatus)
	}
	if st.LogsTotal != 2 || st.LogSuccessRate != 0.5 {
		t.Errorf("logs = %d rate = %v", st.LogsTotal, st.LogSuccessRate)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollwatch.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	acct, err := s.UpsertAccount(models.Account{UserID: "u1", Name: "Main", Phone: "5511999"})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	alert, err := s.CreateAlert(models.Alert{
		AccountID: acct.ID,
		Reason:    models.ReasonRollTrigger,
		Payload:   map[string]any{"ticker": "VALE3"},
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	gotAcct, err := reopened.GetAccountByID(acct.ID)
	if err != nil {
		t.Fatalf("GetAccountByID after reload: %v", err)
	}
	if gotAcct.Name != "Main" || gotAcct.Phone != "5511999" {
		t.Errorf("account = %+v", gotAcct)
	}
	gotAlert, err := reopened.GetAlertByID(alert.ID)
	if err != nil {
		t.Fatalf("GetAlertByID after reload: %v", err)
	}
	if gotAlert.Payload["ticker"] != "VALE3" || gotAlert.Status != models.AlertPending {
		t.Errorf("alert = %+v", gotAlert)
	}
}

func TestLoadNormalizesLegacyPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollwatch.json")

	s, _ := NewJSONStorage(path)
	alert, err := s.CreateAlert(models.Alert{
		AccountID: "a",
		Reason:    models.ReasonRollTrigger,
		Payload:   map[string]any{"channels": `["whatsapp","email"]`},
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := reopened.GetAlertByID(alert.ID)
	channels, ok := got.Payload["channels"].([]any)
	if !ok || len(channels) != 2 {
		t.Errorf("channels = %#v, want a decoded list", got.Payload["channels"])
	}
}
