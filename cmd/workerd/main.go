package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/config"
	"github.com/mixloft/mixloft-server/convert"
	"github.com/mixloft/mixloft-server/jobs"
	"github.com/mixloft/mixloft-server/media"
	"github.com/mixloft/mixloft-server/processing"
	"github.com/mixloft/mixloft-server/storage"
	"github.com/mixloft/mixloft-server/tracks"
	"github.com/mixloft/mixloft-server/users"
)

const configPath = "config.json"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// try to save the config in case it was not found
	if err := cfg.SaveConfig(configPath); err != nil {
		log.Printf("Failed to save configuration: %v", err)
	}

	// Set up logger
	logger := logging.CreateLogger(logging.LogLevel(cfg.LogLevel), cfg.LogPath, "workerd")

	// Set up database connection with SQLite optimizations for concurrency
	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath+"?_journal_mode=WAL&_busy_timeout=30000&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Configure connection pool for better concurrency
	dbConn.SetMaxOpenConns(10)
	dbConn.SetMaxIdleConns(5)
	dbConn.SetConnMaxLifetime(30 * time.Minute)

	// Set up repositories and the job store
	jobStore, err := jobs.NewSQLiteStore(dbConn, time.Duration(cfg.ClaimTimeoutSec)*time.Second)
	if err != nil {
		logger.Error("Failed to create job store", "error", err)
		os.Exit(1)
	}
	trackRepo, err := tracks.NewSQLiteTrackRepository(dbConn)
	if err != nil {
		logger.Error("Failed to create track repository", "error", err)
		os.Exit(1)
	}
	userRepo, err := users.NewSQLiteUserRepository(dbConn)
	if err != nil {
		logger.Error("Failed to create user repository", "error", err)
		os.Exit(1)
	}

	// Set up object storage
	objectStore, err := storage.NewMinioObjectStore(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Error("Failed to connect to object storage", "error", err)
		os.Exit(1)
	}
	stagedService := storage.NewStagedObjectService(logger, objectStore, cfg.Storage.PublicBaseURL, cfg.TempDir)

	// Set up media validators
	prober := media.NewFFprobeProber(logger)
	audioValidator := media.NewAudioValidator(logger, prober, media.AudioLimits{
		MaxFileSize:  int64(cfg.Audio.MaxFileSizeMB) * 1024 * 1024,
		MaxDuration:  time.Duration(cfg.Audio.MaxDurationSec) * time.Second,
		AllowedTypes: cfg.Audio.AllowedTypes,
	})
	imageValidator := media.NewImageValidator(logger, prober, media.ImageLimits{
		MaxFileSize:  int64(cfg.Image.MaxFileSizeMB) * 1024 * 1024,
		MinWidth:     cfg.Image.MinWidth,
		MinHeight:    cfg.Image.MinHeight,
		MaxWidth:     cfg.Image.MaxWidth,
		MaxHeight:    cfg.Image.MaxHeight,
		AllowedTypes: cfg.Image.AllowedTypes,
	})

	// Set up the external conversion and analysis tools
	converter := convert.NewScriptConverter(logger, convert.ConverterConfig{
		Python:    cfg.Converter.Python,
		ScriptDir: cfg.Converter.ScriptDir,
		ProxyURL:  cfg.Converter.ProxyURL,
		Timeout:   time.Duration(cfg.Converter.TimeoutSec) * time.Second,
	})
	analyzer := convert.NewScriptAnalyzer(logger, convert.AnalyzerConfig{
		Python:    cfg.Converter.Python,
		ScriptDir: cfg.Converter.ScriptDir,
		Timeout:   time.Duration(cfg.Converter.AnalysisTimeoutSec) * time.Second,
	})

	// Set up the processors
	enqueuer := processing.NewEnqueuer(jobStore)
	cleanupDelay := time.Duration(cfg.Converter.CleanupDelayMin) * time.Minute

	trackUploads := processing.NewTrackUploadProcessor(logger, jobStore, stagedService, audioValidator, imageValidator, trackRepo)
	profilePictures := processing.NewProfilePictureProcessor(logger, jobStore, stagedService, imageValidator, userRepo)
	conversions := processing.NewConversionProcessor(logger, jobStore, converter, enqueuer, cleanupDelay)
	analysis := processing.NewAnalysisProcessor(logger, jobStore, stagedService, audioValidator, analyzer)
	cleanup := processing.NewCleanupProcessor(logger)

	// Register the queues and start the worker pools
	registry := jobs.NewRegistry(logger, jobStore, time.Duration(cfg.PollIntervalMillis)*time.Millisecond)
	registrations := []struct {
		queue   string
		handler jobs.Handler
		workers int
	}{
		{processing.QueueTrackUploads, trackUploads, cfg.Workers.Uploads},
		{processing.QueueProfilePictures, profilePictures, cfg.Workers.Uploads},
		{processing.QueueConversions, conversions, cfg.Workers.Conversions},
		{processing.QueueAnalysis, analysis, cfg.Workers.Analysis},
		{processing.QueueCleanup, cleanup, cfg.Workers.Cleanup},
	}
	for _, reg := range registrations {
		if err := registry.Register(reg.queue, reg.handler, reg.workers); err != nil {
			logger.Error("Failed to register queue", "queue", reg.queue, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.Start(ctx)
	logger.Info("worker registry started", "queues", len(registrations))

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	registry.Stop()
}
