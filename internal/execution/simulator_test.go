package execution

import (
	"testing"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

func floatPtr(v float64) *float64 { return &v }

func TestSimulatorBuyDeductsBalanceAndOpensPosition(t *testing.T) {
	sim := NewSimulator(zap.NewNop())

	pnl := sim.Execute(types.Signal{Kind: types.SignalBuy, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1})
	if pnl != 0 {
		t.Errorf("expected zero pnl on buy, got %v", pnl)
	}

	balances := sim.Balances()
	wantUSDT := 10000 - 100*1.001
	if diff := balances["USDT"] - wantUSDT; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected USDT balance %v, got %v", wantUSDT, balances["USDT"])
	}
	if balances["BTC"] != 1 {
		t.Errorf("expected BTC balance 1, got %v", balances["BTC"])
	}

	positions := sim.Positions()
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected one BTCUSDT position, got %+v", positions)
	}
}

func TestSimulatorBuyInsufficientBalanceIsNoop(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	pnl := sim.Execute(types.Signal{Kind: types.SignalBuy, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1000})
	if pnl != 0 {
		t.Errorf("expected zero pnl, got %v", pnl)
	}
	if sim.Balances()["BTC"] != 0 {
		t.Errorf("expected no BTC acquired, got %v", sim.Balances()["BTC"])
	}
}

func TestSimulatorSellClosesPositionWithRealizedPnL(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	sim.Execute(types.Signal{Kind: types.SignalBuy, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1})

	pnl := sim.Execute(types.Signal{Kind: types.SignalSell, Symbol: "BTCUSDT", Price: floatPtr(110), Quantity: 1})
	if pnl <= 0 {
		t.Errorf("expected positive realized pnl selling at a higher price, got %v", pnl)
	}

	positions := sim.Positions()
	if len(positions) != 0 {
		t.Errorf("expected position fully closed, got %+v", positions)
	}
}

func TestSimulatorSellWithoutPositionIsNoop(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	pnl := sim.Execute(types.Signal{Kind: types.SignalSell, Symbol: "BTCUSDT", Price: floatPtr(100), Quantity: 1})
	if pnl != 0 {
		t.Errorf("expected zero pnl selling with no BTC held, got %v", pnl)
	}
}

func TestSimulatorCancelIsNoop(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	before := sim.Balances()
	pnl := sim.Execute(types.Signal{Kind: types.SignalCancel, Symbol: "BTCUSDT"})
	if pnl != 0 {
		t.Errorf("expected zero pnl on cancel, got %v", pnl)
	}
	after := sim.Balances()
	if before["USDT"] != after["USDT"] || before["BTC"] != after["BTC"] {
		t.Errorf("expected balances unchanged by cancel, before=%v after=%v", before, after)
	}
}
