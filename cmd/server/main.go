package main

import (
	"attribution/internal/bot"
	"attribution/internal/cache"
	"attribution/internal/classifier"
	"attribution/internal/config"
	"attribution/internal/database"
	"attribution/internal/service"
	"attribution/internal/store"
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	err := godotenv.Load()
	if err != nil {
		slog.Warn("Error loading .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return
	}
	slog.Info("Starting attribution service...", "port", cfg.Port, "store_backend", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Error("Could not connect to Postgres", "error", err)
		return
	}
	defer db.Close()

	analytics, err := database.ConnectClickHouse(ctx, database.ClickHouseConfig{
		Addr:     cfg.ClickHouseAddr,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		Database: cfg.ClickHouseDB,
		GeoIPDB:  cfg.GeoIPDBPath,
	})
	if err != nil {
		slog.Error("Could not connect to ClickHouse", "error", err)
		return
	}
	defer analytics.Close()
	analytics.Start(ctx)

	var (
		kv        store.KV
		linkCache service.LinkCache
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		cacheDB, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RecordTTL)
		if err != nil {
			slog.Error("Could not connect to Redis", "error", err)
			return
		}
		defer cacheDB.Close()
		kv, linkCache = cacheDB, cacheDB
	default:
		kv = cache.NewMemory(cfg.MemoryQuotaBytes)
	}

	tables := classifier.DefaultTables()
	if cfg.ClassifierTables != "" {
		tables, err = classifier.LoadTables(cfg.ClassifierTables)
		if err != nil {
			slog.Error("Could not load classifier tables", "path", cfg.ClassifierTables, "error", err)
			return
		}
	}
	observer := service.LogObserver(logger)
	touchClassifier := classifier.New(tables, classifier.WithObserver(observer))
	slog.Info("Classifier tables loaded", "version", touchClassifier.Version())

	attribution := store.New(kv, touchClassifier,
		store.WithSessionTimeout(cfg.SessionTimeout),
		store.WithKeepPageViews(cfg.KeepPageViews),
		store.WithMaxRecordAge(cfg.MaxRecordAge),
		store.WithAttributionWindows(cfg.AttributionWindows),
		store.WithObserver(observer),
	)
	if err := attribution.Probe(ctx); err != nil {
		slog.Warn("Attribution storage unavailable, running in offline mode", "error", err)
	}

	linker := service.NewLinker(db, linkCache)

	server := service.NewServer(cfg.Port, cfg.BaseURL, attribution, analytics, db, linker)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	botErr := make(chan error, 1)
	if cfg.TelegramToken != "" {
		tgBot, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.BaseURL, db, analytics, linker)
		if err != nil {
			slog.Error("Could not initialize bot", "error", err)
			return
		}
		go func() { botErr <- tgBot.Start(ctx) }()
	} else {
		slog.Info("TELEGRAM_API_TOKEN not set, bot disabled")
	}

	slog.Info("Service is up and running!")

	serverStopped := false
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		serverStopped = true
		if err != nil {
			slog.Error("Server stopped with error", "error", err)
		}
	case err := <-botErr:
		if err != nil {
			slog.Error("Bot stopped with error", "error", err)
		}
	}

	slog.Info("Shutting down gracefully...")
	stop()
	// In-flight requests may still push touches; the analytics worker is
	// stopped by the deferred Close only after the server has returned.
	if !serverStopped {
		if err := <-serverErr; err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}
}
