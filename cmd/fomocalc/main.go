package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Fershtater/fomo-calc-app/internal/config"
	"github.com/Fershtater/fomo-calc-app/internal/fillmodel"
	"github.com/Fershtater/fomo-calc-app/internal/hyperliquid"
	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/sentiment"
	"github.com/Fershtater/fomo-calc-app/internal/storage"
	"github.com/Fershtater/fomo-calc-app/internal/telegram"
	"github.com/Fershtater/fomo-calc-app/internal/watcher"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fomocalc",
		Short: "Perpetual futures safe-entry watcher",
		Long:  `Scans Hyperliquid perpetuals for safe limit-entry windows and sends scored trade proposals to Telegram. Paper-only: no orders are ever placed.`,
		Run:   runWatcher,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runWatcher(cmd *cobra.Command, args []string) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", configPath)

	stateStore, err := storage.NewStateStore(cfg.Storage.StatePath)
	if err != nil {
		logger.Fatal("Failed to initialize state store: %v", err)
	}
	watchStore, err := storage.NewWatchStateStore(cfg.Storage.WatchStatePath)
	if err != nil {
		logger.Fatal("Failed to initialize watch state store: %v", err)
	}
	archive, err := storage.NewArchive(cfg.Storage.ArchivePath)
	if err != nil {
		logger.Fatal("Failed to initialize alert archive: %v", err)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("Failed to close alert archive: %v", err)
		}
	}()

	market := hyperliquid.NewClient(
		cfg.Hyperliquid.InfoURL,
		cfg.Hyperliquid.Timeout,
		cfg.Hyperliquid.MaxRetries,
		cfg.Hyperliquid.RetryDelayBase,
	)
	sentimentClient := sentiment.NewClient(
		cfg.Sentiment.APIURL,
		cfg.Sentiment.CachePath,
		cfg.Sentiment.CacheTTL,
		cfg.Sentiment.Timeout,
	)
	fills := fillmodel.NewService()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// A nil *Client assigned straight to the interface would still report
	// non-nil inside the watcher, so only wire it when it exists.
	var notifier watcher.Notifier
	if telegramClient != nil {
		notifier = telegramClient
	}

	svc := watcher.NewService(market, notifier, sentimentClient, stateStore, watchStore, archive, fills, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if telegramClient != nil && cfg.Telegram.ControlPlane {
		control := telegram.NewControl(telegramClient, stateStore, watchStore, archive, svc, cfg.Telegram, cfg.Fees)
		queue := telegram.NewQueue(0)

		g.Go(func() error {
			defer telegramClient.StopReceiving()
			updates := telegramClient.UpdatesChan()
			for {
				select {
				case <-gctx.Done():
					return nil
				case update, ok := <-updates:
					if !ok {
						return nil
					}
					queue.Enqueue(update)
				}
			}
		})
		g.Go(func() error {
			queue.Run(gctx, func(update tgbotapi.Update) error {
				return control.HandleUpdate(gctx, update)
			})
			return nil
		})
		logger.Info("Telegram control plane enabled (owner: %d)", cfg.Telegram.OwnerID)
	}

	ws, err := svc.GetState()
	if err != nil {
		logger.Fatal("Failed to load watch state: %v", err)
	}

	if cfg.Watch.AutostartWhenEnabled {
		svc.Start()
	} else {
		logger.Info("Autostart disabled, watcher idle until resumed via control plane")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, cleaning up...")
		if svc.Running() {
			svc.Stop()
		}
		return nil
	})

	logger.Info("Starting watcher service (interval: %gs, top_n: %d, threshold: %.0f, side: %s)",
		ws.Config.PollIntervalSec,
		ws.Config.TopN,
		ws.Config.ScoreThreshold,
		ws.Config.Side,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service error: %v", err)
	}
	logger.Info("Service stopped")
}
