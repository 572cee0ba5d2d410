// Package main wires the substitution-plan notification bot: Telegram
// command handling, the scheduled scrape cycle, and persistence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gcs "cloud.google.com/go/storage"
	"github.com/go-co-op/gocron/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"google.golang.org/api/option"

	"vplan-notifier/config"
	"vplan-notifier/meme"
	"vplan-notifier/poll"
	"vplan-notifier/scraper"
	"vplan-notifier/storage"
	"vplan-notifier/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Persistence: Cloud Storage when a bucket is configured, local
	// filesystem otherwise.
	var client *gcs.Client
	if cfg.Bucket != "" {
		var opts []option.ClientOption
		if cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
		}
		client, err = gcs.NewClient(ctx, opts...)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		logger.Info("Using Cloud Storage persistence", "bucket", cfg.Bucket)
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		logger.Info("Using local persistence", "path", cfg.DataDir)
	}

	docs := storage.NewDocuments(client, cfg.Bucket, localPath(cfg), logger)
	subs := storage.NewSubscribers(docs, logger)
	states := storage.NewStates(docs, logger)

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Error("Failed to connect to Telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("Telegram bot authorized", "username", bot.Self.UserName)

	fetcher := scraper.New(
		&http.Client{Timeout: cfg.FetchTimeout},
		cfg.PlanBaseURL, cfg.PlanUser, cfg.PlanPassword,
		logger,
	)
	renderer := meme.New(cfg.TemplateDir, cfg.OutputDir, cfg.CounterFile, logger)
	sender := telegram.NewSender(bot, logger)
	dispatcher := poll.NewDispatcher(renderer, sender, logger)
	monitor := poll.New(fetcher, scraper.Parse, subs, states, dispatcher, logger)

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.CheckInterval),
		gocron.NewTask(func() {
			if err := monitor.CheckAll(ctx); err != nil {
				logger.Error("Scheduled check failed", "error", err)
			}
		}),
	)
	if err != nil {
		logger.Error("Failed to register scrape job", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("Scheduler shutdown failed", "error", err)
		}
	}()
	logger.Info("Scrape job scheduled", "interval", cfg.CheckInterval.String())

	handler := telegram.NewHandler(bot, subs, monitor, logger)
	handler.Run(ctx)

	logger.Info("Shutting down")
}

func localPath(cfg config.Config) string {
	if cfg.Bucket != "" {
		return ""
	}
	return cfg.DataDir
}
