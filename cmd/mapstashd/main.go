package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/adapter/catalogfile"
	"github.com/mapstash/mapstash/internal/adapter/httpdl"
	"github.com/mapstash/mapstash/internal/adapter/sqlite"
	"github.com/mapstash/mapstash/internal/broker"
	"github.com/mapstash/mapstash/internal/config"
	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/logger"
	"github.com/mapstash/mapstash/internal/port"
	"github.com/mapstash/mapstash/internal/registry"
	"github.com/mapstash/mapstash/internal/service/maintenance"
	"github.com/mapstash/mapstash/internal/service/server"
	"github.com/mapstash/mapstash/internal/service/storage"
)

const version = "0.3.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting mapstashd",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Load the region catalog
	catalog, err := catalogfile.Load(cfg.Catalog.Path, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to load catalog",
			zap.Error(err), zap.String("path", cfg.Catalog.Path))
	}

	// Initialize the storage registry and reconcile it with disk
	files, err := registry.New(cfg.Storage.RootDir, catalog, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create storage registry", zap.Error(err))
	}
	if err := files.Scan(context.Background()); err != nil {
		zapLogger.Fatal("initial storage scan failed", zap.Error(err))
	}

	// Open the download journal
	var journal port.Journal = port.NullJournal{}
	if cfg.Journal.Enabled {
		journalPath := cfg.Journal.Path
		if journalPath == "" {
			journalPath = filepath.Join(cfg.Storage.RootDir, "journal.db")
		}
		j, err := sqlite.Open(journalPath)
		if err != nil {
			zapLogger.Fatal("failed to open journal",
				zap.Error(err), zap.String("path", journalPath))
		}
		defer j.Close()
		journal = j
	}

	// Create the HTTP transport
	downloader := httpdl.New(&httpdl.Config{
		BaseURL:          cfg.Downloader.BaseURL,
		Timeout:          cfg.Downloader.GetTimeout(),
		Attempts:         cfg.Downloader.Attempts,
		RetryBackoff:     cfg.Downloader.GetRetryBackoff(),
		ProgressInterval: cfg.Downloader.GetProgressInterval(),
		UserAgent:        cfg.Downloader.UserAgent,
	}, zapLogger)

	// Create the storage manager
	manager := storage.New(catalog, files, downloader, journal, broker.New(), zapLogger)

	// Log observer: status transitions at info, byte progress at debug
	manager.Subscribe(func(region domain.RegionID) {
		status, err := manager.Status(region)
		if err != nil {
			return
		}
		zapLogger.Info("region status changed",
			zap.String("region", catalog.Name(region)),
			zap.Stringer("status", status))
	}, func(region domain.RegionID, downloaded, total int64) {
		zapLogger.Debug("download progress",
			zap.String("region", catalog.Name(region)),
			zap.Int64("downloaded", downloaded),
			zap.Int64("total", total))
	})

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		RescanInterval:   cfg.Maintenance.GetRescanInterval(),
		PurgeInterval:    cfg.Maintenance.GetPurgeInterval(),
		JournalRetention: cfg.Journal.GetRetention(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, manager, journal, zapLogger)

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		DebugUsername: cfg.HTTP.DebugUsername,
		DebugPassword: cfg.HTTP.DebugPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, manager, catalog, journal, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start maintenance service
	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Watch the catalog file so data version bumps surface without a restart
	if cfg.Catalog.Watch {
		go func() {
			err := catalog.Watch(ctx, func() {
				manager.AnnounceDataVersion()
			})
			if err != nil && err != context.Canceled {
				zapLogger.Error("catalog watcher stopped with error", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("storage_dir", cfg.Storage.RootDir),
		zap.Int64("active_version", catalog.ActiveDataVersion()),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Cancel context to stop the maintenance loop and catalog watcher
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	maintenanceService.Stop()

	// Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
