package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/whitewalls86/new-car-tracker/internal/api"
	"github.com/whitewalls86/new-car-tracker/internal/config"
	"github.com/whitewalls86/new-car-tracker/internal/database"
	"github.com/whitewalls86/new-car-tracker/internal/dbt"
	"github.com/whitewalls86/new-car-tracker/internal/events"
	"github.com/whitewalls86/new-car-tracker/internal/scraper"
	"github.com/whitewalls86/new-car-tracker/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewFileStore(cfg.Scraper.RawBase)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	fetcher := scraper.NewHTTPFetcher(&http.Client{}, cfg.Scraper.RateLimit, logger)
	results := scraper.NewResultsScraper(fetcher, store, scraper.ResultsOptions{
		BaseURL:   cfg.Scraper.ResultsBaseURL,
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.Scraper.Timeout,
	}, logger)
	details := scraper.NewDetailScraper(fetcher, store, cfg.Scraper.UserAgent, cfg.Scraper.Timeout, logger)

	var opts api.Options

	if cfg.Database.Enabled {
		db, err := connectDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		outbox := database.NewOutboxRepository(db)
		opts.Recorder = events.NewDBPublisher(db, cfg.Redis.Stream, logger)
		opts.Observations = database.NewObservationRepository(db)
		opts.Outbox = outbox

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
				PollInterval: cfg.Redis.RelayInterval,
				BatchSize:    cfg.Redis.RelayBatchSize,
				StreamMaxLen: cfg.Redis.StreamMaxLen,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	if cfg.Dbt.Enabled {
		opts.Dbt = dbt.NewRunner(cfg.Dbt.Bin, cfg.Dbt.ProjectDir, logger)
	}

	handlers := api.NewHandlers(results, details, store, opts, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting",
		"addr", server.Addr,
		"raw_base", cfg.Scraper.RawBase,
		"database", cfg.Database.Enabled,
		"redis", cfg.Redis.Enabled,
		"dbt", cfg.Dbt.Enabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// connectDatabase prefers DATABASE_URL and falls back to the discrete
// connection settings.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	dbCfg := database.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Name,
		MaxConns: cfg.MaxConns,
	}
	if cfg.URL != "" {
		return database.Connect(ctx, cfg.URL, dbCfg)
	}
	return database.New(ctx, dbCfg)
}
