package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wyckoff-scanner/config"
	"wyckoff-scanner/internal/analysis"
	"wyckoff-scanner/internal/api"
	"wyckoff-scanner/internal/campaign"
	"wyckoff-scanner/internal/engine"
	"wyckoff-scanner/internal/events"
	"wyckoff-scanner/internal/feed"
	"wyckoff-scanner/internal/logging"
	"wyckoff-scanner/internal/market"
	"wyckoff-scanner/internal/notify"
	"wyckoff-scanner/internal/risk"
	"wyckoff-scanner/internal/store"
	"wyckoff-scanner/internal/wyckoff"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Output:     cfg.LoggingConfig.Output,
	})
	logger.Info().Msg("Starting Wyckoff scanner")

	bus := events.NewBus()

	// Analysis pipeline
	windows := market.NewWindowManager(cfg.EngineConfig.WindowCapacity)
	volume := analysis.NewVolumeAnalyzer(cfg.VolumeConfig.AvgPeriod)
	detector := wyckoff.NewDetector(wyckoff.DetectorConfig{
		SpringMaxVolumeRatio: cfg.DetectorConfig.SpringMaxVolumeRatio,
		SOSMinVolumeRatio:    cfg.DetectorConfig.SOSMinVolumeRatio,
		UTADMinVolumeRatio:   cfg.DetectorConfig.UTADMinVolumeRatio,
	}, volume)
	confidence := wyckoff.NewConfidenceCalculator(cfg.DetectorConfig.MinConfidence)
	campaigns := campaign.NewManager(campaign.Config{
		WindowHours:     cfg.CampaignConfig.WindowHours,
		ExpirationHours: cfg.CampaignConfig.ExpirationHours,
		MaxConcurrent:   cfg.CampaignConfig.MaxConcurrent,
	}, logger)
	riskCalc := risk.NewCalculator(risk.Config{
		AccountEquity:    cfg.RiskConfig.AccountEquity,
		MaxRiskPerTrade:  cfg.RiskConfig.MaxRiskPerTrade,
		MaxPortfolioHeat: cfg.RiskConfig.MaxPortfolioHeat,
	})

	eng := engine.New(engine.Config{
		WindowCapacity:      cfg.EngineConfig.WindowCapacity,
		StaleAfterBars:      cfg.EngineConfig.StaleAfterBars,
		SweepInterval:       time.Duration(cfg.EngineConfig.SweepIntervalSecs) * time.Second,
		SymbolQueueCapacity: cfg.EngineConfig.SymbolQueueCapacity,
		RangeConfig: wyckoff.RangeConfig{
			ClimaxVolumeRatio:   cfg.RangeConfig.ClimaxVolumeRatio,
			ClimaxSpreadRatio:   cfg.RangeConfig.ClimaxSpreadRatio,
			ClimaxClosePosition: cfg.RangeConfig.ClimaxClosePosition,
			RallyWindowBars:     cfg.RangeConfig.RallyWindowBars,
			RallyMinRetracement: cfg.RangeConfig.RallyMinRetracement,
			IceBufferPct:        cfg.RangeConfig.IceBufferPct,
		},
	}, windows, volume, detector, confidence, campaigns, riskCalc, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional persistence
	var repo *store.Repository
	if cfg.StoreConfig.Enabled {
		repo, err = store.NewRepository(ctx, store.PostgresConfig{
			Host:     cfg.StoreConfig.Host,
			Port:     cfg.StoreConfig.Port,
			User:     cfg.StoreConfig.User,
			Password: cfg.StoreConfig.Password,
			Database: cfg.StoreConfig.Database,
			SSLMode:  cfg.StoreConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer repo.Close()
	}

	var snapshots *store.SnapshotCache
	if cfg.RedisConfig.Enabled {
		snapshots = store.NewSnapshotCache(ctx, store.RedisConfig{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		}, logger)
		defer snapshots.Close()
	}

	// Notifications
	var notifier *notify.Manager
	if cfg.NotifyConfig.Enabled {
		notifier = notify.NewManager(notify.Config{
			QueueSize:   cfg.NotifyConfig.QueueSize,
			MaxRetries:  cfg.NotifyConfig.MaxRetries,
			BackoffBase: time.Duration(cfg.NotifyConfig.BackoffBaseSecs) * time.Second,
		}, logger)
		if cfg.NotifyConfig.TelegramEnabled && cfg.NotifyConfig.TelegramBotToken != "" {
			notifier.Register(notify.NewTelegramNotifier(notify.TelegramConfig{
				BotToken: cfg.NotifyConfig.TelegramBotToken,
				ChatID:   cfg.NotifyConfig.TelegramChatID,
			}))
		}
		if cfg.NotifyConfig.DiscordEnabled && cfg.NotifyConfig.DiscordWebhook != "" {
			notifier.Register(notify.NewDiscordNotifier(notify.DiscordConfig{
				WebhookURL: cfg.NotifyConfig.DiscordWebhook,
			}))
		}
		notifier.Start()
		defer notifier.Stop()
	}

	wireSubscribers(ctx, bus, eng, campaigns, riskCalc, repo, snapshots, notifier, logger)

	eng.Start()
	defer eng.Stop()

	// Optional live feed
	if cfg.FeedConfig.Enabled {
		f := feed.New(feed.Config{
			WSBaseURL:  cfg.FeedConfig.WSBaseURL,
			Symbols:    cfg.FeedConfig.Symbols,
			Timeframes: cfg.FeedConfig.Timeframes,
		}, eng.OnBar, logger)
		if err := f.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Feed startup failed")
		}
		defer f.Stop()
	}

	// Read-only API
	if cfg.ServerConfig.Enabled {
		srv := api.NewServer(api.Config{
			Host:           cfg.ServerConfig.Host,
			Port:           cfg.ServerConfig.Port,
			AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		}, eng, campaigns, riskCalc, repo, logger)
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server startup failed")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Stop(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
}

// wireSubscribers connects persistence, snapshots and alerting to the
// event stream.
func wireSubscribers(
	ctx context.Context,
	bus *events.Bus,
	eng *engine.Engine,
	campaigns *campaign.Manager,
	riskCalc *risk.Calculator,
	repo *store.Repository,
	snapshots *store.SnapshotCache,
	notifier *notify.Manager,
	logger zerolog.Logger,
) {
	persistCampaign := func(ev events.Event) {
		if repo == nil {
			return
		}
		id, _ := ev.Data["campaign_id"].(string)
		if id == "" {
			return
		}
		if c, ok := campaigns.Get(id); ok {
			if err := repo.SaveCampaign(ctx, c); err != nil {
				logger.Error().Err(err).Str("campaign_id", id).Msg("Campaign persistence failed")
			}
		}
	}
	for _, t := range []events.EventType{
		events.EventCampaignCreated,
		events.EventCampaignUpdated,
		events.EventCampaignCompleted,
		events.EventCampaignFailed,
	} {
		bus.Subscribe(t, persistCampaign)
	}

	bus.Subscribe(events.EventSignalGenerated, func(ev events.Event) {
		id, _ := ev.Data["campaign_id"].(string)
		for _, s := range eng.Signals() {
			if s.CampaignID != id {
				continue
			}
			if repo != nil {
				if err := repo.SaveSignal(ctx, s); err != nil {
					logger.Error().Err(err).Str("signal_id", s.ID).Msg("Signal persistence failed")
				}
			}
			if notifier != nil {
				notifier.Notify(notify.FormatSignalAlert(
					s.Symbol, string(s.Direction),
					s.EntryPrice, s.StopPrice, s.TargetPrice,
					s.RMultiple, s.Confidence, s.Grade))
			}
		}
		if snapshots != nil {
			snapshots.Publish(ctx, riskCalc.Snapshot())
		}
	})

	for _, t := range []events.EventType{events.EventCampaignCompleted, events.EventCampaignFailed} {
		bus.Subscribe(t, func(events.Event) {
			if snapshots != nil {
				snapshots.Publish(ctx, riskCalc.Snapshot())
			}
		})
	}
}
