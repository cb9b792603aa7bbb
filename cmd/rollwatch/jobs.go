package main

import (
	"context"
	"time"

	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/monitor"
	"github.com/rollwatch/rollwatch/internal/notifier"
	"github.com/rollwatch/rollwatch/internal/scheduler"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// Retention windows for the nightly cleanup.
const (
	sentAlertRetentionDays  = 30
	successLogRetentionDays = 90
)

// Daily maintenance times, local to the exchange timezone. These jobs run
// regardless of the session gate.
const (
	expireJobHour  = 1
	cleanupJobHour = 3
)

// registerJobs wires the four periodic jobs: the two engines plus the two
// nightly maintenance crons.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, store storage.Interface,
	monitorEngine *monitor.Engine, notifierEngine *notifier.Engine, logger *logrus.Logger) error {
	if err := sched.AddIntervalJob("monitor", cfg.Monitor.Interval(), func(ctx context.Context) error {
		_, err := monitorEngine.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := sched.AddIntervalJob("notifier", cfg.Notifier.Interval(), func(ctx context.Context) error {
		_, err := notifierEngine.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := sched.AddDailyJob("expire-positions", expireJobHour, 0, func(ctx context.Context) error {
		return expirePositions(store, logger)
	}); err != nil {
		return err
	}

	return sched.AddDailyJob("cleanup", cleanupJobHour, 0, func(ctx context.Context) error {
		return cleanup(store, logger)
	})
}

// expirePositions transitions open positions past their expiration date.
func expirePositions(store storage.Interface, logger *logrus.Logger) error {
	positions, err := store.GetOpenPositions("")
	if err != nil {
		return err
	}

	now := time.Now()
	expired := 0
	for _, pos := range positions {
		if !pos.IsPastDue(now) {
			continue
		}
		if err := store.UpdatePositionStatus(pos.ID, models.PositionExpired); err != nil {
			logger.WithError(err).WithField("position_id", pos.ID).
				Error("Failed to expire position")
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.WithField("expired", expired).Info("Expired past-due positions")
	}
	return nil
}

// cleanup prunes delivered alerts and old success logs.
func cleanup(store storage.Interface, logger *logrus.Logger) error {
	alerts, err := store.CleanupOldAlerts(sentAlertRetentionDays)
	if err != nil {
		return err
	}
	logs, err := store.CleanupOldLogs(successLogRetentionDays)
	if err != nil {
		return err
	}

	if alerts > 0 || logs > 0 {
		logger.WithFields(logrus.Fields{
			"alerts_removed": alerts,
			"logs_removed":   logs,
		}).Info("Cleanup complete")
	}
	return nil
}
