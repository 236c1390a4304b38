package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/internal/metrics"
	"github.com/atlas-desktop/trading-engine/internal/pipeline"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/risk"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/statemachine"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

// singleShotBuyer emits exactly one buy opportunity on the first trade
// it ever sees, then goes quiet; enough to drive one full trade through
// the coordinator without depending on any real indicator's thresholds.
type singleShotBuyer struct {
	fired bool
}

func (s *singleShotBuyer) Name() string                      { return "SingleShotBuyer" }
func (s *singleShotBuyer) Features() []strategy.Feature { return nil }

func (s *singleShotBuyer) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	if s.fired {
		return nil
	}
	s.fired = true
	price := types.ParsePriceOrZero(event.PriceStr)
	return []types.Opportunity{{ID: "opp-1", Signal: types.Signal{Kind: types.SignalBuy, Symbol: event.Symbol, Price: &price, Quantity: 0.01}, Score: 0.9}}
}

func (s *singleShotBuyer) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func (s *singleShotBuyer) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func TestCoordinatorRunExecutesTradeFromStrategy(t *testing.T) {
	logger := zap.NewNop()
	repo, err := repository.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	registry := strategy.NewRegistry()
	registry.Register("SingleShotBuyer", func() strategy.Strategy { return &singleShotBuyer{} })

	sm := statemachine.New(logger)
	state := sharedstate.New(sm, metrics.New(), "SingleShotBuyer", 100, true)
	executor := execution.NewSimulationExecutor(logger)
	riskMgr := risk.New(logger)

	coord := pipeline.New(logger, repo, registry, riskMgr, executor, state, types.MarketTypeSpot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	price := 100.0
	coord.Events() <- &types.MarketEvent{Kind: types.EventTrade, Trade: &types.TradeEvent{
		EventTimeMs: 1000, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "100", QtyStr: "1",
	}}
	_ = price

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state.TotalTrades() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if state.TotalTrades() != 1 {
		t.Fatalf("expected exactly one trade executed, got %d", state.TotalTrades())
	}
	if state.SelectedOpportunityID() != "opp-1" {
		t.Errorf("expected opp-1 selected, got %q", state.SelectedOpportunityID())
	}
}

func TestCoordinatorCaptureInitialBalance(t *testing.T) {
	logger := zap.NewNop()
	repo, err := repository.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	sm := statemachine.New(logger)
	state := sharedstate.New(sm, metrics.New(), "PaperTrader", 100, false)
	executor := execution.NewSimulationExecutor(logger)
	coord := pipeline.New(logger, repo, strategy.NewRegistry(), risk.New(logger), executor, state, types.MarketTypeSpot)

	if err := coord.CaptureInitialBalance(context.Background()); err != nil {
		t.Fatalf("capture initial balance: %v", err)
	}
	if state.InitialBalance() <= 0 {
		t.Errorf("expected a positive initial balance, got %v", state.InitialBalance())
	}
}
