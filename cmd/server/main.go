// Package main wires the pipeline coordinator, repository, historical
// downloader, execution layer and API server together and runs them
// until an interrupt or termination signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/api"
	"github.com/atlas-desktop/trading-engine/internal/backtester"
	"github.com/atlas-desktop/trading-engine/internal/data"
	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/internal/historical"
	"github.com/atlas-desktop/trading-engine/internal/metrics"
	"github.com/atlas-desktop/trading-engine/internal/pipeline"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/risk"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/statemachine"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/internal/workers"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const liveHistoryCap = 1000
const backfillHours = 6

func main() {
	host := flag.String("host", "0.0.0.0", "Server host")
	port := flag.Int("port", 3000, "Server port")
	dataDir := flag.String("data", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	runMode := getEnvOrDefault("RUN_MODE", "live")
	isBacktestMode := runMode == "backtest"
	symbol := "BTCUSDT"

	logger.Info("starting trading engine",
		zap.String("run_mode", runMode), zap.String("symbol", symbol), zap.String("host", *host), zap.Int("port", *port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	repo, err := repository.Open(logger, *dataDir+"/trading.db")
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer repo.Close()

	registry := strategy.Default
	logger.Info("registered strategies", zap.Strings("strategies", registry.Names()))

	sm := statemachine.New(logger)
	sysMetrics := metrics.New()
	defaultStrategy := "PaperTrader"
	names := registry.Names()
	registered := false
	for _, name := range names {
		if name == defaultStrategy {
			registered = true
			break
		}
	}
	if !registered && len(names) > 0 {
		defaultStrategy = names[0]
	}
	state := sharedstate.New(sm, sysMetrics, defaultStrategy, liveHistoryCap, isBacktestMode)

	executor := execution.NewSimulationExecutor(logger)
	riskMgr := risk.New(logger)

	// BINANCE_API_KEY / BINANCE_API_SECRET would construct a live
	// ExchangeClient and AggTradeFetcher here; absent them, the engine
	// runs entirely against the simulation executor and skips backfill.
	var fetcher historical.AggTradeFetcher
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("historical-downloader"))
	pool.Start()
	defer pool.Stop()
	var downloader *historical.Downloader
	if fetcher != nil {
		downloader = historical.New(logger, repo, fetcher, pool)
	}

	coordinator := pipeline.New(logger, repo, registry, riskMgr, executor, state, types.MarketTypeSpot)

	if downloader != nil {
		go func() {
			if err := downloader.EnsureData(ctx, symbol, types.MarketTypeSpot, backfillHours); err != nil {
				logger.Error("historical backfill failed", zap.Error(err))
			}
		}()
	}

	go coordinator.RunCleanupLoop(ctx)

	if err := coordinator.CaptureInitialBalance(ctx); err != nil {
		logger.Warn("failed to capture initial balance", zap.Error(err))
	}

	if isBacktestMode {
		logger.Info("running in backtest replay mode")
		go replayHistoricalTrades(ctx, logger, repo, coordinator, symbol)
	} else {
		logger.Info("running in live mode")
		feed := data.NewFeed(logger, symbol, coordinator.Events())
		feed.Connect(ctx)
	}

	go coordinator.Run(ctx)

	broadcaster := backtester.NewBroadcaster()
	runner := backtester.NewRunner(logger, repo, downloader, registry, broadcaster)

	server := api.NewServer(api.Config{
		Logger:      logger,
		State:       state,
		Executor:    executor,
		Repo:        repo,
		Registry:    registry,
		Runner:      runner,
		Broadcaster: broadcaster,
		Downloader:  downloader,
		RunMode:     runMode,
		Symbol:      symbol,
		MarketType:  types.MarketTypeSpot,
	}, *host+":"+strconv.Itoa(*port))

	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	// Two-phase shutdown: cancel the context so the coordinator and any
	// ingest/cleanup loops stop pulling new work, then tear down the
	// server. Actors (none constructed in this build without live
	// credentials) would be joined here via Actor.Shutdown before the
	// process exits.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("trading engine stopped")
}

// replayHistoricalTrades feeds previously persisted trades through the
// coordinator's event channel as a live-shaped MarketEvent stream, for
// backtest run mode outside the combinatorial /api/backtest/execute path.
func replayHistoricalTrades(ctx context.Context, logger *zap.Logger, repo *repository.Repository, coordinator *pipeline.Coordinator, symbol string) {
	trades, err := repo.GetHistoricalTradesRange(ctx, symbol, types.MarketTypeSpot, nil, nil)
	if err != nil {
		logger.Error("failed to load trades for replay", zap.Error(err))
		return
	}
	logger.Info("replaying historical trades", zap.Int("count", len(trades)))

	for _, t := range trades {
		event := &types.MarketEvent{
			Kind: types.EventTrade,
			Trade: &types.TradeEvent{
				EventTimeMs:   t.EventTimeMs,
				Symbol:        t.Symbol,
				TradeID:       t.TradeID,
				PriceStr:      t.Price,
				QtyStr:        t.Quantity,
				BuyerOrderID:  t.BuyerOrderID,
				SellerOrderID: t.SellerOrderID,
				IsBuyerMaker:  t.IsBuyerMaker,
			},
		}
		select {
		case coordinator.Events() <- event:
		case <-ctx.Done():
			return
		}
	}
	logger.Info("backtest replay complete")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
