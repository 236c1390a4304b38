// Package pipeline wires the data-quality filter, the active strategy,
// the risk manager, and the executor into the single event loop that
// drains market events and drives the system end to end. It is the Go
// analogue of the reference system's leaked-runtime main loop, made
// shutdown-safe with a two-phase teardown instead.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/internal/filter"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/risk"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

// eventQueueCapacity bounds the ingest-to-coordinator channel; a full
// queue blocks the producer rather than dropping market data.
const eventQueueCapacity = 100

// markPriceEstimate is the placeholder BTC valuation used for portfolio
// snapshots until a live price feed is wired into the snapshot path.
// TODO: source this from the latest trade price instead of a constant.
const markPriceEstimate = 88000.0

const cleanupInterval = time.Hour
const cleanupRetentionHours = 24
const heartbeatEvery = 100

// Coordinator owns the bounded event channel every ingest source writes
// to, and runs the single consumer loop that filters, scores, and
// dispatches each event.
type Coordinator struct {
	logger *zap.Logger

	repo     *repository.Repository
	registry *strategy.Registry
	risk     *risk.Manager
	executor *execution.Executor
	state    *sharedstate.State
	filter   *filter.DataFilter

	marketType types.MarketType

	events chan *types.MarketEvent
}

// New constructs a Coordinator. state must already carry the initial
// strategy name and trading flag.
func New(
	logger *zap.Logger,
	repo *repository.Repository,
	registry *strategy.Registry,
	riskMgr *risk.Manager,
	executor *execution.Executor,
	state *sharedstate.State,
	marketType types.MarketType,
) *Coordinator {
	return &Coordinator{
		logger:     logger,
		repo:       repo,
		registry:   registry,
		risk:       riskMgr,
		executor:   executor,
		state:      state,
		filter:     filter.New(logger, 0.05),
		marketType: marketType,
		events:     make(chan *types.MarketEvent, eventQueueCapacity),
	}
}

// Events returns the channel ingest sources (live websocket feed, or
// backtest replay) write market events to.
func (c *Coordinator) Events() chan<- *types.MarketEvent { return c.events }

// CaptureInitialBalance reads the executor's current balances and stamps
// shared state's initial portfolio value, used as the yield baseline.
func (c *Coordinator) CaptureInitialBalance(ctx context.Context) error {
	balances, err := c.executor.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: capture initial balance: %w", err)
	}
	value := balances["USDT"] + balances["BTC"]*markPriceEstimate
	c.state.SetInitialBalance(value)
	c.logger.Info("initial portfolio value captured", zap.Float64("value_usd", value))
	return nil
}

// RunCleanupLoop deletes data older than cleanupRetentionHours once per
// cleanupInterval until ctx is cancelled.
func (c *Coordinator) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			affected, err := c.repo.CleanupOldData(ctx, cleanupRetentionHours)
			if err != nil {
				c.logger.Error("database cleanup failed", zap.Error(err))
				continue
			}
			c.logger.Info("cleaned up old records", zap.Int64("rows", affected))
		}
	}
}

// Run drains the event channel until it's closed or ctx is cancelled.
// Each iteration: quality-filters the event, persists it in a detached
// goroutine, hot-swaps the active strategy if requested, invokes the
// strategy, maybe snapshots the portfolio, and — if trading is enabled —
// runs risk analysis and dispatches the selected trade.
func (c *Coordinator) Run(ctx context.Context) {
	active, _ := c.registry.Create(c.state.StrategyName())
	var eventCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			c.processEvent(ctx, event, &active, &eventCount)
		}
	}
}

func (c *Coordinator) processEvent(ctx context.Context, event *types.MarketEvent, active *strategy.Strategy, eventCount *int64) {
	if !c.filter.ShouldProcess(event) {
		c.state.SetDataQualityScore(c.filter.QualityScore())
		return
	}
	if *eventCount%heartbeatEvery == 0 {
		c.state.SetDataQualityScore(c.filter.QualityScore())
	}

	if currentName := c.state.StrategyName(); *active == nil || (*active).Name() != currentName {
		c.logger.Info("swapping strategy", zap.String("to", currentName))
		if created, ok := c.registry.Create(currentName); ok {
			*active = created
		}
	}

	*eventCount++
	if *eventCount%heartbeatEvery == 0 {
		c.logger.Info("main loop heartbeat", zap.Int64("events", *eventCount))
	}

	opportunities := c.dispatchToStrategy(ctx, event, *active)

	nowS := time.Now().Unix()
	if c.state.ShouldSnapshot(nowS) {
		c.snapshotPortfolio(ctx, nowS)
	}

	if len(opportunities) > 0 && c.state.IsTrading() {
		c.handleOpportunities(ctx, opportunities, nowS)
	}

	c.state.SetLastUpdateTs(nowS)
}

func (c *Coordinator) dispatchToStrategy(ctx context.Context, event *types.MarketEvent, active strategy.Strategy) []types.Opportunity {
	if active == nil {
		return nil
	}

	switch event.Kind {
	case types.EventTrade:
		t := event.Trade
		go func() {
			if err := c.repo.SaveTrade(context.Background(), t, c.marketType); err != nil {
				c.logger.Warn("save trade failed", zap.Error(err))
			}
		}()
		return active.OnTrade(t, c.state)
	case types.EventAggTrade:
		a := event.AggTrade
		go func() {
			if err := c.repo.SaveAggTrade(context.Background(), a, c.marketType); err != nil {
				c.logger.Warn("save agg trade failed", zap.Error(err))
			}
		}()
		return active.OnAggTrade(a, c.state)
	case types.EventOrderBook:
		b := event.OrderBook
		go func() {
			bidsJSON, asksJSON := encodeLevels(b.Bids), encodeLevels(b.Asks)
			if err := c.repo.SaveOrderBook(context.Background(), b.Symbol, c.marketType, b, bidsJSON, asksJSON); err != nil {
				c.logger.Warn("save order book failed", zap.Error(err))
			}
		}()
		return active.OnOrderBook(b, c.state)
	default: // depth updates never drive opportunities
		return nil
	}
}

func (c *Coordinator) snapshotPortfolio(ctx context.Context, nowS int64) {
	balances, err := c.executor.GetBalances(ctx)
	if err != nil {
		c.logger.Warn("snapshot: get balances failed", zap.Error(err))
		return
	}
	totalValue := balances["USDT"] + balances["BTC"]*markPriceEstimate
	c.state.PushPortfolioSnapshot(nowS, totalValue)
}

func (c *Coordinator) handleOpportunities(ctx context.Context, opportunities []types.Opportunity, nowS int64) {
	c.logger.Info("strategy generated opportunities", zap.Int("count", len(opportunities)))

	processed, report := c.risk.AnalyzeOpportunities(opportunities)
	c.state.SetOpportunities(processed)
	c.state.SetRiskReport(report)

	signal, ok := c.risk.SelectBestTrade(processed)
	if !ok {
		return
	}

	var selectedID string
	for _, o := range processed {
		if o.Signal == signal {
			selectedID = o.ID
			break
		}
	}
	c.state.SetSelectedOpportunityID(selectedID)
	c.state.IncrementTotalTrades()
	c.logger.Info("risk manager selected trade", zap.String("opportunity_id", selectedID))

	go func() {
		start := time.Now()
		pnl, err := c.executor.Execute(context.Background(), signal, c.marketType)
		if err != nil {
			c.logger.Error("execution error", zap.Error(err))
			return
		}
		c.state.AddRealizedPnL(pnl)
		c.state.Metrics().RecordExecutionLatency(time.Since(start))
	}()

	_ = ctx // reserved for a future bounded-execution deadline
}

func encodeLevels(levels []types.PriceLevel) string {
	b, err := json.Marshal(levels)
	if err != nil {
		return "[]"
	}
	return string(b)
}
