package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rollwatch/rollwatch/internal/bridge"
	"github.com/rollwatch/rollwatch/internal/channel"
	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/monitor"
	"github.com/rollwatch/rollwatch/internal/notifier"
	"github.com/rollwatch/rollwatch/internal/roll"
	"github.com/rollwatch/rollwatch/internal/scheduler"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.WithFields(logrus.Fields{
		"mode":     cfg.Environment.Mode,
		"provider": cfg.MarketData.Provider,
	}).Info("Starting rollwatch")

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}

	cache := bridge.NewCache()
	queue := bridge.NewCommandQueue()

	provider, err := marketdata.New(cfg, cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build market data provider")
	}
	logger.WithField("provider", provider.Name()).Info("Market data provider ready")

	sender := channel.NewClient(
		cfg.Channels.BaseURL,
		cfg.Channels.APIKey,
		cfg.Channels.Username,
		cfg.Channels.Password,
		logger,
	)

	calc := roll.NewCalculator(provider, cache, cfg.Bridge.QuoteTTL())

	monitorEngine := monitor.NewEngine(cfg, store, provider, logger)
	notifierEngine := notifier.NewEngine(cfg, store, provider, sender, logger)

	sched := scheduler.New(logger, cfg.Location())
	if err := registerJobs(sched, cfg, store, monitorEngine, notifierEngine, logger); err != nil {
		logger.WithError(err).Fatal("Failed to register jobs")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	sched.Start(ctx)
	group.Go(func() error {
		<-ctx.Done()
		sched.Wait()
		return nil
	})

	var server *bridge.Server
	if cfg.Bridge.Enabled {
		server = bridge.NewServer(bridge.ServerConfig{
			Port:       cfg.Bridge.Port,
			Token:      cfg.Bridge.Token,
			AllowedIPs: cfg.Bridge.AllowedIPs,
			QuoteTTL:   cfg.Bridge.QuoteTTL(),
			RollParams: roll.Params{
				DTEMin: cfg.RuleDefaults.DTEMin,
				DTEMax: cfg.RuleDefaults.DTEMax,
			},
		}, cache, queue, store, provider, calc, logger)

		group.Go(func() error {
			if err := server.Start(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logger.WithError(err).Fatal("Shutdown with error")
	}
	logger.Info("Stopped cleanly")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
