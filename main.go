package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/pipeline"
	"digitflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	symbols := flag.String("symbols", "", "Comma separated instruments to track (overrides stream.symbols)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if *symbols != "" {
		cfg.Stream.Symbols = strings.Split(*symbols, ",")
	}
	entries, err := catalog.Select(cfg.Stream.Symbols)
	if err != nil {
		log.WithError(err).Error("Invalid instrument selection")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"instruments": len(entries),
	}).Info("starting digitflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, "")
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.Report)
	}

	p, err := pipeline.New(ctx, cfg, entries)
	if err != nil {
		log.WithError(err).Error("Failed to build pipeline")
		os.Exit(1)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if err := p.Run(ctx); err != nil {
		log.WithError(err).Error("digitflow stopped with error")
		os.Exit(1)
	}
	log.Info("digitflow stopped")
}
