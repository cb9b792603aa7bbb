package main

import (
	"io"
	"testing"
	"time"

	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/scheduler"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExpirePositionsMarksPastDueOnly(t *testing.T) {
	store := storage.NewMockStorage()

	asset, err := store.Inner.UpsertAsset(models.Asset{Ticker: "VALE3"})
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	now := time.Now().UTC()
	pastDue, err := store.Inner.UpsertPosition(models.Position{
		AccountID:  "acct-1",
		AssetID:    asset.ID,
		Side:       models.SidePut,
		Strike:     60,
		Expiration: now.AddDate(0, 0, -3),
		Quantity:   10,
		Status:     models.PositionOpen,
	})
	if err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
	alive, err := store.Inner.UpsertPosition(models.Position{
		AccountID:  "acct-1",
		AssetID:    asset.ID,
		Side:       models.SidePut,
		Strike:     58,
		Expiration: now.AddDate(0, 0, 20),
		Quantity:   5,
		Status:     models.PositionOpen,
	})
	if err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	if err := expirePositions(store, quietLogger()); err != nil {
		t.Fatalf("expirePositions: %v", err)
	}

	got, err := store.GetPositionByID(pastDue.ID)
	if err != nil {
		t.Fatalf("GetPositionByID: %v", err)
	}
	if got.Status != models.PositionExpired {
		t.Fatalf("past-due position status = %s, want EXPIRED", got.Status)
	}

	got, err = store.GetPositionByID(alive.ID)
	if err != nil {
		t.Fatalf("GetPositionByID: %v", err)
	}
	if got.Status != models.PositionOpen {
		t.Fatalf("future position status = %s, want OPEN", got.Status)
	}
}

func TestCleanupKeepsRecentData(t *testing.T) {
	store := storage.NewMockStorage()

	alert, err := store.CreateAlert(models.Alert{
		AccountID:  "acct-1",
		PositionID: "pos-1",
		Reason:     models.ReasonExpirationWarning,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if err := store.UpdateAlertStatus(alert.ID, models.AlertProcessing, ""); err != nil {
		t.Fatalf("UpdateAlertStatus: %v", err)
	}
	if err := store.UpdateAlertStatus(alert.ID, models.AlertSent, ""); err != nil {
		t.Fatalf("UpdateAlertStatus: %v", err)
	}
	if _, err := store.CreateLog(alert.ID, models.ChannelSMS, "11999", "msg",
		models.LogSuccess, "m-1"); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	if err := cleanup(store, quietLogger()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := store.GetAlertByID(alert.ID); err != nil {
		t.Fatalf("fresh sent alert was pruned: %v", err)
	}
	logs, err := store.GetLogsByQueueID(alert.ID)
	if err != nil {
		t.Fatalf("GetLogsByQueueID: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
}

func TestRegisterJobsWiresAllFour(t *testing.T) {
	cfg := &config.Config{}
	cfg.Monitor.IntervalMinutes = 5
	cfg.Notifier.IntervalSeconds = 60

	sched := scheduler.New(quietLogger(), time.UTC)
	store := storage.NewMockStorage()

	err := registerJobs(sched, cfg, store, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("registerJobs: %v", err)
	}

	status := sched.Status()
	for _, name := range []string{"monitor", "notifier", "expire-positions", "cleanup"} {
		if _, ok := status[name]; !ok {
			t.Fatalf("job %q not registered", name)
		}
	}
}
