package historical_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/historical"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/workers"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	calls int32
}

func (f *fakeFetcher) FetchAggTrades(ctx context.Context, symbol string, marketType types.MarketType, startMs, endMs int64) ([]*types.AggTradeEvent, error) {
	atomic.AddInt32(&f.calls, 1)
	return []*types.AggTradeEvent{
		{EventTimeMs: startMs + 1, Symbol: symbol, AggTradeID: startMs + 1, PriceStr: "100", QtyStr: "1"},
	}, nil
}

func newTestDownloader(t *testing.T) (*historical.Downloader, *repository.Repository, *fakeFetcher) {
	t.Helper()
	repo, err := repository.Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	pool.Start()
	t.Cleanup(func() { pool.Stop() })

	fetcher := &fakeFetcher{}
	return historical.New(zap.NewNop(), repo, fetcher, pool), repo, fetcher
}

func TestEnsureDataRangeFillsGapWhenEmpty(t *testing.T) {
	downloader, repo, fetcher := newTestDownloader(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := downloader.EnsureDataRange(ctx, "BTCUSDT", types.MarketTypeSpot, 0, 1000); err != nil {
		t.Fatalf("ensure data range: %v", err)
	}
	if atomic.LoadInt32(&fetcher.calls) == 0 {
		t.Error("expected at least one fetch call against an empty repository")
	}

	trades, err := repo.GetHistoricalTradesRange(ctx, "BTCUSDT", types.MarketTypeSpot, nil, nil)
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(trades) == 0 {
		t.Error("expected fetched trades to be persisted")
	}
}

func TestEnsureDataRangeSkipsWhenAlreadyCovered(t *testing.T) {
	downloader, repo, fetcher := newTestDownloader(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repo.SaveTrade(ctx, &types.TradeEvent{EventTimeMs: 0, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "1", QtyStr: "1"}, types.MarketTypeSpot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveTrade(ctx, &types.TradeEvent{EventTimeMs: 1000, Symbol: "BTCUSDT", TradeID: 2, PriceStr: "1", QtyStr: "1"}, types.MarketTypeSpot); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := downloader.EnsureDataRange(ctx, "BTCUSDT", types.MarketTypeSpot, 0, 1000); err != nil {
		t.Fatalf("ensure data range: %v", err)
	}
	if atomic.LoadInt32(&fetcher.calls) != 0 {
		t.Errorf("expected no fetches when range is already covered, got %d", fetcher.calls)
	}
}
