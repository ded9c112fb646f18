package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/guardian/internal/api"
	"github.com/rewired-gh/guardian/internal/cache"
	"github.com/rewired-gh/guardian/internal/config"
	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/ingest"
	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/monitor"
	"github.com/rewired-gh/guardian/internal/storage"
	"github.com/rewired-gh/guardian/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.MaxReadingsPerPatient)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Info("Storage initialized (driver: %s)", cfg.Storage.Driver)

	var snapshotCache cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SnapshotTTL, cfg.Redis.HistorySize)
		if err != nil {
			logger.Warn("Running without snapshot cache: %v", err)
		} else {
			snapshotCache = rc
			defer rc.Close()
			logger.Info("Connected to Redis at %s", cfg.Redis.Addr)
		}
	} else {
		logger.Debug("Snapshot cache disabled")
	}

	var alertNotifier notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.Warn("Telegram notifications disabled: %v", err)
			telegramClient = nil
		} else {
			alertNotifier = telegramClient
			logger.Info("Telegram client initialized successfully")
		}
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	extractor := extract.New(extract.Config{
		Window:          cfg.Extract.Window,
		SleepSessionGap: cfg.Extract.SleepSessionGap,
		StaleAfter:      cfg.Extract.StaleAfter,
	})
	pipeline := ingest.NewPipeline(extractor, store, snapshotCache)
	mon := monitor.New(store)
	mon.SetHRVMaxAge(cfg.Extract.StaleAfter)

	if cfg.MQTT.Enabled {
		client, err := ingest.Connect(ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			logger.Warn("MQTT ingestion disabled: %v", err)
		} else {
			source := ingest.NewMQTTSource(client, cfg.MQTT.Topic, byte(cfg.MQTT.QoS), pipeline)
			if err := source.Start(ctx); err != nil {
				logger.Warn("MQTT ingestion disabled: %v", err)
				client.Disconnect(250)
			} else {
				defer source.Stop()
			}
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(api.NewHandler(pipeline, mon, store, snapshotCache)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Monitor.Enabled {
		logger.Info("Starting rhythm monitoring (interval: %v, cooldown: %v, retry after: %v)",
			cfg.Monitor.Interval, cfg.Monitor.Cooldown, cfg.Monitor.RetryAfter)
		runMonitorLoop(ctx, cfg, mon, store, alertNotifier, telegramClient)
	} else {
		logger.Info("Rhythm monitoring disabled, serving API only")
		<-ctx.Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error: %v", err)
	}
	logger.Info("Service stopped")
}

func runMonitorLoop(
	ctx context.Context,
	cfg *config.Config,
	mon *monitor.Monitor,
	store *storage.Storage,
	alertNotifier notifier,
	telegramClient *telegram.Client,
) {
	ticker := time.NewTicker(cfg.Monitor.Interval)
	defer ticker.Stop()
	rotateTicker := time.NewTicker(cfg.Storage.RotateInterval)
	defer rotateTicker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Evaluation cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Debug("Running initial evaluation cycle")
	handleCycleResult(runEvaluationCycle(ctx, mon, store, alertNotifier, cfg.Monitor.Cooldown, cfg.Monitor.RetryAfter))

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			handleCycleResult(runEvaluationCycle(ctx, mon, store, alertNotifier, cfg.Monitor.Cooldown, cfg.Monitor.RetryAfter))

		case <-rotateTicker.C:
			removed, err := store.Rotate(ctx)
			if err != nil {
				logger.Warn("Failed to rotate readings: %v", err)
				continue
			}
			if removed > 0 {
				logger.Info("Rotated %d old rows", removed)
			}
		}
	}
}
