package execution_test

import (
	"context"
	"errors"
	"testing"

	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

type fakeExchangeClient struct {
	failNext bool
	orderID  int64
}

func (f *fakeExchangeClient) MarketBuy(symbol string, quantity float64) (int64, error) {
	if f.failNext {
		return 0, errors.New("exchange rejected order")
	}
	f.orderID++
	return f.orderID, nil
}

func (f *fakeExchangeClient) MarketSell(symbol string, quantity float64) (int64, error) {
	f.orderID++
	return f.orderID, nil
}

func (f *fakeExchangeClient) CancelOrder(symbol string, orderID int64) error { return nil }

func (f *fakeExchangeClient) GetAccount() ([]execution.Balance, error) {
	return []execution.Balance{{Asset: "USDT", Amount: 500}}, nil
}

func (f *fakeExchangeClient) GetTradeHistory(symbol string, limit int) ([]execution.TradeRecord, error) {
	out := make([]execution.TradeRecord, limit)
	return out, nil
}

func (f *fakeExchangeClient) SetLeverage(symbol string, leverage int) error { return nil }

func (f *fakeExchangeClient) SetMarginType(symbol string, margin execution.MarginType) error {
	return nil
}

func (f *fakeExchangeClient) GetPositions() ([]types.Position, error) { return nil, nil }

func TestActorMarketBuySuccess(t *testing.T) {
	client := &fakeExchangeClient{}
	a := execution.NewActor(zap.NewNop(), "spot", client)
	defer a.Shutdown()

	id, err := a.MarketBuy(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if id != 1 {
		t.Errorf("expected order id 1, got %d", id)
	}
}

func TestActorMarketBuyFailurePropagates(t *testing.T) {
	client := &fakeExchangeClient{failNext: true}
	a := execution.NewActor(zap.NewNop(), "spot", client)
	defer a.Shutdown()

	_, err := a.MarketBuy(context.Background(), "BTCUSDT", 1)
	if err == nil {
		t.Fatal("expected error from rejected order")
	}
}

func TestActorGetTradeHistoryClampsLimit(t *testing.T) {
	client := &fakeExchangeClient{}
	a := execution.NewActor(zap.NewNop(), "spot", client)
	defer a.Shutdown()

	history, err := a.GetTradeHistory(context.Background(), "BTCUSDT", 500)
	if err != nil {
		t.Fatalf("get trade history: %v", err)
	}
	if len(history) != 100 {
		t.Errorf("expected history clamped to 100, got %d", len(history))
	}
}

func TestActorSetLeverageClampsRange(t *testing.T) {
	client := &fakeExchangeClient{}
	a := execution.NewActor(zap.NewNop(), "futures", client)
	defer a.Shutdown()

	if err := a.SetLeverage(context.Background(), "BTCUSDT", 500); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
	if err := a.SetLeverage(context.Background(), "BTCUSDT", -1); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
}

func TestActorCancelledContextErrorsAfterShutdown(t *testing.T) {
	client := &fakeExchangeClient{}
	a := execution.NewActor(zap.NewNop(), "spot", client)
	a.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.GetAccount(ctx); err == nil {
		t.Error("expected cancelled context to surface an error after shutdown")
	}
}
