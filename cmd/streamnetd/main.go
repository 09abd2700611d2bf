package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"streamnet/config"
	"streamnet/logging"
	"streamnet/online"
	"streamnet/server"
	"streamnet/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Logger
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 3. Snapshot store
	snaps, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open snapshot store", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer snaps.Close()
	logger.Info("snapshot store ready", zap.String("path", cfg.Database.Path))

	// 4. Watch the config file for tunable changes
	watcher, err := config.Watch(*configPath, cfg, logger)
	if err != nil {
		logger.Fatal("failed to watch config", zap.Error(err))
	}
	defer watcher.Close()

	// 5. Model service
	policy := online.FeatureStrict
	if cfg.Models.FeaturePolicy == "ignore_unseen" {
		policy = online.FeatureIgnoreUnseen
	}
	svc, err := server.NewService(server.Options{
		MaxInstances: cfg.Models.MaxInstances,
		HiddenUnits:  cfg.Models.HiddenUnits,
		LearningRate: cfg.Models.LearningRate,
		Seed:         cfg.Models.Seed,
		Policy:       policy,
	}, snaps, logger)
	if err != nil {
		logger.Fatal("failed to build model service", zap.Error(err))
	}

	// 6. HTTP server
	srv := server.New(server.Config{
		Port: cfg.HTTP.Port,
		PushInterval: func() time.Duration {
			return time.Duration(watcher.Tunables().MetricsPushInterval)
		},
		Tunables: func() server.Tunables {
			return server.Tunables{AnomalyThreshold: watcher.Tunables().AnomalyThreshold}
		},
	}, svc, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := srv.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
