package execution

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

func TestSimulationExecutorRecordsTradeStats(t *testing.T) {
	e := NewSimulationExecutor(zap.NewNop())
	ctx := context.Background()

	if _, err := e.Execute(ctx, types.Signal{Kind: types.SignalBuy, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1}, types.MarketTypeSpot); err != nil {
		t.Fatalf("execute buy: %v", err)
	}
	if _, err := e.Execute(ctx, types.Signal{Kind: types.SignalSell, Symbol: "BTCUSDT", Price: floatPtr(110), Quantity: 1}, types.MarketTypeSpot); err != nil {
		t.Fatalf("execute sell: %v", err)
	}

	stats := e.GetTradeStats("BTCUSDT")
	if stats.TotalTrades != 2 || stats.BuyTrades != 1 || stats.SellTrades != 1 {
		t.Errorf("unexpected trade stats: %+v", stats)
	}
	if stats.TotalVolume != 2 {
		t.Errorf("expected total volume 2, got %v", stats.TotalVolume)
	}
}

func TestSimulationExecutorGetBalancesAndPositions(t *testing.T) {
	e := NewSimulationExecutor(zap.NewNop())
	ctx := context.Background()
	if _, err := e.Execute(ctx, types.Signal{Kind: types.SignalBuy, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1}, types.MarketTypeSpot); err != nil {
		t.Fatalf("execute: %v", err)
	}

	balances, err := e.GetBalances(ctx)
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if balances["BTC"] != 1 {
		t.Errorf("expected BTC balance 1, got %v", balances["BTC"])
	}

	positions, err := e.GetPositions(ctx)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
}

func TestLiveExecutorWithoutActorsErrors(t *testing.T) {
	e := NewLiveExecutor(zap.NewNop(), nil, nil)
	_, err := e.GetBalances(context.Background())
	if err == nil {
		t.Error("expected error with no spot actor configured")
	}
}

func TestAdjustQuantityBelowMinNotionalSkips(t *testing.T) {
	qty, skip := adjustQuantity(types.Signal{Quantity: 0.0001, Price: floatPtr(100)})
	if !skip {
		t.Errorf("expected skip for tiny notional, got qty=%v skip=%v", qty, skip)
	}
}

func TestAdjustQuantityClearsMinNotional(t *testing.T) {
	_, skip := adjustQuantity(types.Signal{Quantity: 1, Price: floatPtr(100)})
	if skip {
		t.Error("expected order to clear minimum notional filter")
	}
}

func TestClampToBalanceScalesDownOverdraft(t *testing.T) {
	qty, ok := ClampToBalance(10, 100, 50)
	if !ok {
		t.Fatal("expected clamped quantity to still clear minimum notional")
	}
	if qty >= 10 {
		t.Errorf("expected qty to be scaled down from 10, got %v", qty)
	}
}

func TestClampToBalanceZeroPriceRejected(t *testing.T) {
	_, ok := ClampToBalance(1, 0, 100)
	if ok {
		t.Error("expected zero price hint to be rejected")
	}
}

func TestTruncate(t *testing.T) {
	got := truncate(1.23456789, 5)
	if got != 1.23456 {
		t.Errorf("expected 1.23456, got %v", got)
	}
}
