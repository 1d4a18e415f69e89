package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstanton/tradepulse/internal/broker"
	"github.com/mstanton/tradepulse/internal/config"
	"github.com/mstanton/tradepulse/internal/decision"
	"github.com/mstanton/tradepulse/internal/gex"
	"github.com/mstanton/tradepulse/internal/ingest"
	"github.com/mstanton/tradepulse/internal/marketctx"
	"github.com/mstanton/tradepulse/internal/marketdata"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/monitor"
	"github.com/mstanton/tradepulse/internal/pipeline"
	"github.com/mstanton/tradepulse/internal/positions"
	"github.com/mstanton/tradepulse/internal/server"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/mstanton/tradepulse/internal/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"mode":   cfg.Environment.Mode,
		"broker": cfg.Broker.Mode,
	}).Info("starting trading controller")
	if !cfg.IsPaperTrading() {
		logger.Warn("LIVE trading mode: real orders will be placed")
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("failed to close storage")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := monitor.NewHealthTracker()

	// Market context: seeded from the last persisted snapshot, refreshed by
	// CONTEXT webhooks.
	contextCache := marketctx.NewCache(cfg.ContextTTL(), marketctx.FetcherFunc(
		func(ctx context.Context) (*models.ContextData, error) {
			var data *models.ContextData
			_, err := health.Do("context", func() (any, error) {
				var err error
				data, err = store.LatestContextSnapshot(ctx)
				return nil, err
			})
			return data, err
		}))

	metrics := monitor.NewMetrics(nil)
	auditor := monitor.NewAuditor(store, logger)

	posManager := positions.NewManager(store, cfg.Risk.MaxTotalExposure, logger)
	if err := posManager.Load(ctx); err != nil {
		logger.WithError(err).Fatal("failed to rehydrate positions")
	}

	gexService := gex.NewService(store, gex.Config{
		MaxStaleMinutes:      cfg.GEX.MaxStaleMinutes,
		StaleWeightReduction: cfg.GEX.StaleWeightReduction,
	})
	orchestrator := decision.NewOrchestrator(
		contextCache,
		gexService,
		decision.NewRiskManager(decision.RiskConfig{
			MaxVIXForEntry:             cfg.Risk.MaxVIXForEntry,
			VIXPositionSizeReduction:   cfg.Risk.VIXPositionSizeReduction,
			ContextAdjustmentRange:     cfg.Confidence.ContextAdjustmentRange,
			PositioningAdjustmentRange: cfg.Confidence.PositioningAdjustmentRange,
		}),
		decision.NewConfluenceCalculator(nil),
		decision.NewSizer(decision.SizingConfig{
			BaseSize:      cfg.Sizing.BaseSize,
			KellyFraction: cfg.Sizing.KellyFraction,
			MinSize:       cfg.Sizing.MinSize,
			MaxSize:       cfg.Sizing.MaxSize,
		}),
		posManager,
		decision.OrchestratorConfig{
			BaseConfidence:      cfg.Confidence.BaseConfidence,
			GEXAdjustmentRange:  cfg.Confidence.GEXAdjustmentRange,
			ProfitTargetPercent: cfg.Exit.ProfitTargetPercent,
			StopLossPercent:     cfg.Exit.StopLossPercent,
			MarketClose:         cfg.MarketCloseToday,
		},
		logger,
	)

	// Live adapters plug in here; until then every mode fills on paper.
	quotes := marketdata.NewTrackedProvider(marketdata.NewSimulatedProvider(0.05), health)
	paper := broker.NewPaperAdapter(cfg.Broker.Slippage, logger)
	adapter := broker.NewTrackedAdapter(paper, health)
	submitter := broker.NewSubmitter(adapter, broker.SubmitConfig{
		Retries: 1,
		Backoff: 500 * time.Millisecond,
		Timeout: cfg.SubmitTimeout(),
	}, logger)

	pl := pipeline.New(
		pipeline.Config{
			QueueDepth:    cfg.Server.QueueDepth,
			Workers:       cfg.Server.Workers,
			SubmitTimeout: cfg.SubmitTimeout(),
		},
		ingest.NewNormalizer(),
		ingest.NewValidator(cfg, cfg.MaxClockSkew(), 0),
		ingest.NewDedupCache(cfg.DedupWindow(), cfg.Dedup.MaxEntries),
		contextCache,
		orchestrator,
		posManager,
		submitter,
		quotes,
		store,
		auditor,
		metrics,
		logger,
	)
	pl.Start(ctx)

	exitWorker := worker.NewExitWorker(posManager, orchestrator, quotes, submitter, store, auditor, metrics, logger)
	go exitWorker.Run(ctx, cfg.SweepInterval())

	poller := broker.NewPoller(store, paper, 10*time.Minute, logger)
	go poller.Run(ctx, time.Minute)

	srv := server.New(server.Config{
		Port:          cfg.Server.Port,
		WebhookSecret: cfg.Server.WebhookSecret,
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	}, pl, exitWorker, store, posManager, health, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}
	// Drain the pipeline before cancelling the workers that feed it.
	pl.Stop()
	cancel()
	logger.Info("controller stopped")
}
