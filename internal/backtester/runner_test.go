package backtester

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

func TestParseSymbolSpec(t *testing.T) {
	cases := []struct {
		in   string
		want SymbolSpec
	}{
		{"SPOT:BTCUSDT", SymbolSpec{MarketType: types.MarketTypeSpot, Symbol: "BTCUSDT"}},
		{"FUTURES:ETHUSDT", SymbolSpec{MarketType: types.MarketTypeFutures, Symbol: "ETHUSDT"}},
		{"BTCUSDT", SymbolSpec{MarketType: types.MarketTypeSpot, Symbol: "BTCUSDT"}},
	}
	for _, tc := range cases {
		got := ParseSymbolSpec(tc.in)
		if got != tc.want {
			t.Errorf("ParseSymbolSpec(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestSharpeRatioNeedsAtLeastTwoSamples(t *testing.T) {
	if got := sharpeRatio([]float64{5}); got != 0 {
		t.Errorf("expected 0 with a single sample, got %v", got)
	}
	if got := sharpeRatio(nil); got != 0 {
		t.Errorf("expected 0 with no samples, got %v", got)
	}
}

func TestSharpeRatioPositiveTrend(t *testing.T) {
	got := sharpeRatio([]float64{10, 12, 9, 11, 13})
	if got <= 0 {
		t.Errorf("expected a positive sharpe ratio for mostly-positive pnls, got %v", got)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("expected a finite ratio, got %v", got)
	}
}

func TestRelativeDrawdownNoLossesIsZero(t *testing.T) {
	got := relativeDrawdown(10000, []float64{100, 200, 300})
	if got != 0 {
		t.Errorf("expected zero drawdown with a monotonically rising equity curve, got %v", got)
	}
}

func TestRelativeDrawdownCapturesDip(t *testing.T) {
	got := relativeDrawdown(10000, []float64{500, -1000, 200})
	if got <= 0 {
		t.Errorf("expected positive drawdown pct after a losing trade, got %v", got)
	}
}

func TestMaxInt(t *testing.T) {
	if maxInt(3, 5) != 5 {
		t.Error("expected 5")
	}
	if maxInt(5, 3) != 5 {
		t.Error("expected 5")
	}
}

// alwaysBuyStrategy buys one unit on the first trade it sees, and is
// otherwise inert; enough to exercise Runner.Run end to end without
// depending on a specific indicator strategy's thresholds.
type alwaysBuyStrategy struct {
	fired bool
}

func (s *alwaysBuyStrategy) Name() string          { return "AlwaysBuy" }
func (s *alwaysBuyStrategy) Features() []strategy.Feature { return nil }

func (s *alwaysBuyStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	if s.fired {
		return nil
	}
	s.fired = true
	price := types.ParsePriceOrZero(event.PriceStr)
	return []types.Opportunity{{
		ID:     "1",
		Signal: types.Signal{Kind: types.SignalBuy, Symbol: event.Symbol, Price: &price, Quantity: 0.01},
		Score:  1,
	}}
}

func (s *alwaysBuyStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func (s *alwaysBuyStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func TestRunnerRunProducesReportForLoadedTrades(t *testing.T) {
	repo, err := repository.Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		err := repo.SaveTrade(ctx, &types.TradeEvent{
			EventTimeMs: i * 1000, Symbol: "BTCUSDT", TradeID: i, PriceStr: "100", QtyStr: "1",
		}, types.MarketTypeSpot)
		if err != nil {
			t.Fatalf("save trade: %v", err)
		}
	}

	registry := strategy.NewRegistry()
	registry.Register("AlwaysBuy", func() strategy.Strategy { return &alwaysBuyStrategy{} })

	runner := NewRunner(zap.NewNop(), repo, nil, registry, NewBroadcaster())
	report := runner.Run(ctx, Request{
		Symbols:    []SymbolSpec{{MarketType: types.MarketTypeSpot, Symbol: "BTCUSDT"}},
		Strategies: []string{"AlwaysBuy"},
		StartMs:    0,
		EndMs:      10_000,
	})

	if len(report.Reports) != 1 {
		t.Fatalf("expected 1 strategy report, got %d", len(report.Reports))
	}
	r := report.Reports[0]
	if r.TotalTrades != 1 {
		t.Errorf("expected 1 executed trade, got %d", r.TotalTrades)
	}
	if r.StrategyName != "AlwaysBuy" || r.Symbol != "BTCUSDT" {
		t.Errorf("unexpected report identity: %+v", r)
	}
}

func TestRunnerRunSkipsUnknownStrategy(t *testing.T) {
	repo, err := repository.Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveTrade(ctx, &types.TradeEvent{EventTimeMs: 1, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "100", QtyStr: "1"}, types.MarketTypeSpot); err != nil {
		t.Fatalf("save trade: %v", err)
	}

	runner := NewRunner(zap.NewNop(), repo, nil, strategy.NewRegistry(), NewBroadcaster())
	report := runner.Run(ctx, Request{
		Symbols:    []SymbolSpec{{MarketType: types.MarketTypeSpot, Symbol: "BTCUSDT"}},
		Strategies: []string{"DoesNotExist"},
		StartMs:    0,
		EndMs:      10,
	})
	if len(report.Reports) != 0 {
		t.Errorf("expected no reports for an unregistered strategy, got %d", len(report.Reports))
	}
}
