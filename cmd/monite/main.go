package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/monitoring"
	"monite/internal/notifications"
	"monite/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	watch := flag.Bool("watch", true, "Reload notification settings when the config file changes")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("MoniTe %s\nCommit: %s\nBuilt: %s\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file":     *configFile,
		"port":            cfg.Server.Port,
		"health_interval": cfg.Monitoring.HealthInterval,
		"timezone":        cfg.Monitoring.Timezone,
	}).Info("Starting MoniTe")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	registry := drivers.NewDefaultRegistry(cfg.Drivers)
	notifier := notifications.NewNotifier(cfg.Notifications.Telegram)
	hub := web.NewHub()

	engine, err := monitoring.NewEngine(cfg, store, registry, notifier, hub)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, store, engine, hub)
	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	if *watch {
		go func() {
			err := config.Watch(ctx, *configFile, func(updated *config.Config) {
				setLogLevel(updated.Logging.Level)
				engine.ApplyConfig(updated)
			})
			if err != nil {
				logrus.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server did not shut down cleanly")
	}
	engine.Stop()
	cancel()

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	setLogLevel(cfg.Level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.File != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}
}

func setLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
