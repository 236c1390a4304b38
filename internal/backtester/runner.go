// Package backtester runs combinatorial backtests: every requested
// strategy against every requested (market, symbol) pair, each pair
// isolated in its own simulation executor and shared state so runs never
// interfere with one another.
package backtester

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/atlas-desktop/trading-engine/internal/data"
	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/internal/historical"
	"github.com/atlas-desktop/trading-engine/internal/metrics"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/statemachine"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"github.com/atlas-desktop/trading-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backtestHistoryCap is the shared-state history ring size used during a
// backtest run, large enough to serve the post-run chart without the
// rolling trim that live mode applies at 1000.
const backtestHistoryCap = 10_000

// initialCapitalUSD seeds every isolated backtest's simulator, matching
// the simulator's own hardcoded starting balance.
const initialCapitalUSD = 10000.0

// SymbolSpec names one (market type, symbol) pair to backtest, in the
// "SPOT:BTCUSDT" / "FUTURES:BTCUSDT" wire format.
type SymbolSpec struct {
	MarketType types.MarketType
	Symbol     string
}

// ParseSymbolSpec parses "SPOT:BTCUSDT"-style strings, defaulting to spot
// when the market-type prefix is missing or unrecognized.
func ParseSymbolSpec(s string) SymbolSpec {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return SymbolSpec{MarketType: types.MarketTypeSpot, Symbol: s}
	}
	mt := types.MarketTypeSpot
	if strings.EqualFold(parts[0], "FUTURES") {
		mt = types.MarketTypeFutures
	}
	return SymbolSpec{MarketType: mt, Symbol: parts[1]}
}

// Request describes one combinatorial backtest invocation.
type Request struct {
	Symbols    []SymbolSpec
	Strategies []string
	StartMs    int64
	EndMs      int64
	FastMode   bool
}

// StrategyReport is the result of one (symbol, strategy) isolated run.
type StrategyReport struct {
	Symbol       string
	StrategyName string
	History      []sharedstate.HistoryPoint
	Features     map[string]string

	TotalTrades uint64
	WinRate     float64
	YieldPct    float64
	RealizedPnL float64
	MaxDrawdown float64
	ProfitFactor float64
	AvgWin      float64
	AvgLoss     float64
	SharpeRatio float64
	TotalFees   float64
}

// Report is the aggregate result of a combinatorial backtest.
type Report struct {
	Reports        []StrategyReport
	InitialCapital float64
}

// Runner executes combinatorial backtests against persisted trade
// history, optionally backfilling gaps via a historical.Downloader
// first.
type Runner struct {
	logger      *zap.Logger
	repo        *repository.Repository
	downloader  *historical.Downloader // nil disables the backfill step
	registry    *strategy.Registry
	broadcaster *Broadcaster
}

func NewRunner(logger *zap.Logger, repo *repository.Repository, downloader *historical.Downloader, registry *strategy.Registry, broadcaster *Broadcaster) *Runner {
	return &Runner{logger: logger, repo: repo, downloader: downloader, registry: registry, broadcaster: broadcaster}
}

// Run fans out one goroutine per (symbol, strategy) pair and blocks
// until every pair has finished.
func (r *Runner) Run(ctx context.Context, req Request) Report {
	r.logger.Info("executing combinatorial backtest",
		zap.Int("symbols", len(req.Symbols)), zap.Int("strategies", len(req.Strategies)), zap.Bool("fast_mode", req.FastMode))

	var mu sync.Mutex
	var reports []StrategyReport
	var wg sync.WaitGroup

	for _, spec := range req.Symbols {
		spec := spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			trades, err := r.loadTrades(ctx, spec, req.StartMs, req.EndMs)
			if err != nil {
				r.logger.Error("failed to load trades for backtest", zap.String("symbol", spec.Symbol), zap.Error(err))
				return
			}
			if len(trades) == 0 {
				r.logger.Warn("no trades found in requested range", zap.String("symbol", spec.Symbol))
				return
			}
			r.logger.Info("loaded trades for backtesting", zap.Int("count", len(trades)), zap.String("symbol", spec.Symbol))

			if report := data.ValidateTradeBatch(trades); report.Score < 100.0 {
				r.logger.Warn("trade batch quality below perfect ahead of backtest run",
					zap.String("symbol", spec.Symbol), zap.Float64("score", report.Score),
					zap.Int("duplicate_timestamps", report.DuplicateTimestamps),
					zap.Int("out_of_order", report.OutOfOrderCount),
					zap.Int("missing_bar_gaps", report.MissingBarGaps))
			}

			var innerWg sync.WaitGroup
			for _, stratName := range req.Strategies {
				stratName := stratName
				innerWg.Add(1)
				go func() {
					defer innerWg.Done()
					report, ok := r.runOne(spec, stratName, trades, req.FastMode)
					if !ok {
						return
					}
					mu.Lock()
					reports = append(reports, report)
					mu.Unlock()
				}()
			}
			innerWg.Wait()
		}()
	}
	wg.Wait()

	r.logger.Info("combinatorial backtest completed", zap.Int("results", len(reports)))
	return Report{Reports: reports, InitialCapital: initialCapitalUSD}
}

func (r *Runner) loadTrades(ctx context.Context, spec SymbolSpec, startMs, endMs int64) ([]types.PersistentTrade, error) {
	if r.downloader != nil {
		if err := r.downloader.EnsureDataRange(ctx, spec.Symbol, spec.MarketType, startMs, endMs); err != nil {
			r.logger.Error("failed to download historical data", zap.String("symbol", spec.Symbol), zap.Error(err))
		}
	}
	return r.repo.GetHistoricalTradesRange(ctx, spec.Symbol, spec.MarketType, &startMs, &endMs)
}

// runOne replays trades through a freshly constructed strategy instance,
// simulation executor and shared state, accumulating the metrics needed
// for StrategyReport.
func (r *Runner) runOne(spec SymbolSpec, stratName string, trades []types.PersistentTrade, fastMode bool) (StrategyReport, bool) {
	r.logger.Info("starting backtest", zap.String("symbol", spec.Symbol), zap.String("strategy", stratName))

	strat, ok := r.registry.Create(stratName)
	if !ok {
		r.logger.Error("unknown strategy requested", zap.String("strategy", stratName))
		return StrategyReport{}, false
	}

	sm := statemachine.New(r.logger)
	sm.TransitionTo(types.StateTrading)
	sysMetrics := metrics.New()
	state := sharedstate.New(sm, sysMetrics, stratName, backtestHistoryCap, true)

	executor := execution.NewSimulationExecutor(r.logger)

	totalCount := len(trades)
	progressInterval := maxInt(totalCount/10, 1)
	sampleRate := maxInt(totalCount/2000, 1)
	fastSkip := 1
	if fastMode {
		fastSkip = 10
	}

	var (
		tradePnLs                    []float64
		peakPnL, maxDrawdown         float64
		grossProfit, grossLoss       float64
		totalFees                    float64
		winTrades, lossTrades        uint64
		sampleCounter                int
	)

	for idx, trade := range trades {
		if fastMode && idx%fastSkip != 0 {
			continue
		}

		price := types.ParsePriceOrZero(trade.Price)
		volume := types.ParsePriceOrZero(trade.Quantity)

		if idx > 0 && idx%progressInterval == 0 && r.broadcaster != nil {
			r.broadcaster.Publish(ProgressEvent{
				Symbol:       spec.Symbol,
				StrategyName: stratName,
				ProgressPct:  uint32(float64(idx) / float64(totalCount) * 100),
				Status:       "running",
				Features:     featureMap(strat.Features()),
			})
		}

		tradeEvent := &types.TradeEvent{
			EventTimeMs:   trade.EventTimeMs,
			Symbol:        trade.Symbol,
			TradeID:       trade.TradeID,
			PriceStr:      trade.Price,
			QtyStr:        trade.Quantity,
			BuyerOrderID:  trade.BuyerOrderID,
			SellerOrderID: trade.SellerOrderID,
			IsBuyerMaker:  trade.IsBuyerMaker,
		}
		opportunities := strat.OnTrade(tradeEvent, state)

		sampleCounter++
		action := ""
		if len(opportunities) > 0 {
			action = string(opportunities[0].Signal.Kind)
		}
		if sampleRate <= 1 || sampleCounter%sampleRate == 0 {
			state.PushHistoryAt(trade.EventTimeMs, price, volume, action)
		}

		for _, opp := range opportunities {
			fee := volume * price * 0.001
			if opp.Signal.Quantity > 0 {
				fee = opp.Signal.Quantity * price * 0.001
			}
			totalFees += fee

			pnl, err := executor.Execute(context.Background(), opp.Signal, spec.MarketType)
			if err != nil {
				r.logger.Warn("backtest execution error", zap.Error(err))
				continue
			}

			state.IncrementTotalTrades()
			state.AddRealizedPnL(pnl)

			switch {
			case pnl > 0:
				winTrades++
				tradePnLs = append(tradePnLs, pnl)
				grossProfit += pnl
			case pnl < 0:
				lossTrades++
				tradePnLs = append(tradePnLs, pnl)
				grossLoss += -pnl
			}

			current := state.RealizedPnL()
			if current > peakPnL {
				peakPnL = current
			}
			if dd := peakPnL - current; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	r.logger.Info("backtest finished", zap.String("symbol", spec.Symbol), zap.String("strategy", stratName))
	if r.broadcaster != nil {
		r.broadcaster.Publish(ProgressEvent{
			Symbol:       spec.Symbol,
			StrategyName: stratName,
			ProgressPct:  100,
			Status:       "completed",
			Features:     featureMap(strat.Features()),
		})
	}

	totalTrades := state.TotalTrades()
	var winRate float64
	if totalTrades > 0 {
		winRate = float64(winTrades) / float64(totalTrades) * 100
	}
	yieldPct := state.RealizedPnL() / initialCapitalUSD * 100

	profitFactor := profitFactorOf(tradePnLs)
	var avgWin float64
	if winTrades > 0 {
		avgWin = grossProfit / float64(winTrades)
	}
	var avgLoss float64
	if lossTrades > 0 {
		avgLoss = grossLoss / float64(lossTrades)
	}

	sharpe := sharpeRatio(tradePnLs)
	drawdownPct := relativeDrawdown(initialCapitalUSD, tradePnLs)
	if drawdownPct > maxDrawdown {
		// the relative-equity-curve measure from pkg/utils can exceed the
		// absolute peak-to-trough dollar figure tracked above; report the
		// larger of the two since both are valid drawdown readings.
		maxDrawdown = drawdownPct
	}

	return StrategyReport{
		Symbol:       spec.Symbol,
		StrategyName: stratName,
		History:      state.History(),
		Features:     featureMap(strat.Features()),
		TotalTrades:  totalTrades,
		WinRate:      winRate,
		YieldPct:     yieldPct,
		RealizedPnL:  state.RealizedPnL(),
		MaxDrawdown:  maxDrawdown,
		ProfitFactor: profitFactor,
		AvgWin:       avgWin,
		AvgLoss:      avgLoss,
		SharpeRatio:  sharpe,
		TotalFees:    totalFees,
	}, true
}

// profitFactorOf wires pkg/utils's decimal profit-factor implementation
// over the raw per-trade PnL series, rather than hand-rolled
// gross-profit/gross-loss division.
func profitFactorOf(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	decimals := make([]decimal.Decimal, len(pnls))
	for i, v := range pnls {
		decimals[i] = decimal.NewFromFloat(v)
	}
	f, _ := utils.CalculateProfitFactor(decimals).Float64()
	return f
}

// sharpeRatio wires pkg/utils's decimal implementation in over the raw
// per-trade PnL series used as a returns proxy.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	decimals := make([]decimal.Decimal, len(pnls))
	for i, v := range pnls {
		decimals[i] = decimal.NewFromFloat(v)
	}
	ratio := utils.CalculateSharpeRatio(decimals, decimal.Zero, 1)
	f, _ := ratio.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// relativeDrawdown wires pkg/utils's equity-curve drawdown over the
// cumulative-PnL equity path starting from initialCapital.
func relativeDrawdown(initialCapital float64, pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	equity := make([]decimal.Decimal, 0, len(pnls)+1)
	running := initialCapital
	equity = append(equity, decimal.NewFromFloat(running))
	for _, p := range pnls {
		running += p
		equity = append(equity, decimal.NewFromFloat(running))
	}
	dd := utils.CalculateMaxDrawdown(equity)
	f, _ := dd.Mul(decimal.NewFromInt(100)).Float64()
	return f
}

func featureMap(features []strategy.Feature) map[string]string {
	out := make(map[string]string, len(features))
	for _, f := range features {
		out[f.Label] = f.Value
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
