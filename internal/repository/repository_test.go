package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

func openTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndRangeQuery(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	trades := []*types.TradeEvent{
		{EventTimeMs: 1000, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "100.0", QtyStr: "1.0"},
		{EventTimeMs: 2000, Symbol: "BTCUSDT", TradeID: 2, PriceStr: "101.5", QtyStr: "0.5"},
		{EventTimeMs: 3000, Symbol: "BTCUSDT", TradeID: 3, PriceStr: "99.0", QtyStr: "2.0"},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(ctx, tr, types.MarketTypeSpot); err != nil {
			t.Fatalf("save trade: %v", err)
		}
	}

	got, err := repo.GetHistoricalTradesRange(ctx, "BTCUSDT", types.MarketTypeSpot, nil, nil)
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(got))
	}
	if got[0].TradeID != 1 || got[2].TradeID != 3 {
		t.Errorf("expected ascending order by event time, got ids %d,%d,%d", got[0].TradeID, got[1].TradeID, got[2].TradeID)
	}

	start := int64(1500)
	bounded, err := repo.GetHistoricalTradesRange(ctx, "BTCUSDT", types.MarketTypeSpot, &start, nil)
	if err != nil {
		t.Fatalf("bounded range query: %v", err)
	}
	if len(bounded) != 2 {
		t.Fatalf("expected 2 trades at or after ts 1500, got %d", len(bounded))
	}
}

func TestSaveAggTradesBulkDeduplicatesOnConflict(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	batch := []*types.AggTradeEvent{
		{EventTimeMs: 1000, Symbol: "ETHUSDT", AggTradeID: 10, PriceStr: "2000", QtyStr: "1"},
		{EventTimeMs: 1001, Symbol: "ETHUSDT", AggTradeID: 11, PriceStr: "2001", QtyStr: "2"},
	}
	if err := repo.SaveAggTradesBulk(ctx, batch, types.MarketTypeSpot); err != nil {
		t.Fatalf("bulk save: %v", err)
	}
	// Re-inserting the same trade IDs must be swallowed, not errored.
	if err := repo.SaveAggTradesBulk(ctx, batch, types.MarketTypeSpot); err != nil {
		t.Fatalf("bulk save on conflict: %v", err)
	}

	got, err := repo.GetHistoricalTradesRange(ctx, "ETHUSDT", types.MarketTypeSpot, nil, nil)
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected dedup to leave 2 rows, got %d", len(got))
	}
}

func TestGetDataRangeEmpty(t *testing.T) {
	repo := openTestRepo(t)
	min, max, err := repo.GetDataRange(context.Background(), "NOPE", types.MarketTypeSpot)
	if err != nil {
		t.Fatalf("data range: %v", err)
	}
	if min != nil || max != nil {
		t.Errorf("expected nil range for unknown symbol, got %v %v", min, max)
	}
}

func TestGetAggregatedTradesBucketsByMinute(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	trades := []*types.TradeEvent{
		{EventTimeMs: 0, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "100", QtyStr: "1"},
		{EventTimeMs: 30_000, Symbol: "BTCUSDT", TradeID: 2, PriceStr: "110", QtyStr: "1"},
		{EventTimeMs: 90_000, Symbol: "BTCUSDT", TradeID: 3, PriceStr: "120", QtyStr: "1"},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(ctx, tr, types.MarketTypeSpot); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	buckets, err := repo.GetAggregatedTrades(ctx, "BTCUSDT", types.MarketTypeSpot, "minute")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 one-minute buckets, got %d", len(buckets))
	}
	if buckets[0].ClosePrice != 110 {
		t.Errorf("expected first bucket close 110 (latest trade in minute 0), got %v", buckets[0].ClosePrice)
	}
	if buckets[0].VolumeSum != 2 {
		t.Errorf("expected first bucket volume 2, got %v", buckets[0].VolumeSum)
	}
}

func TestCleanupOldData(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	old := &types.TradeEvent{EventTimeMs: 1, Symbol: "BTCUSDT", TradeID: 1, PriceStr: "1", QtyStr: "1"}
	if err := repo.SaveTrade(ctx, old, types.MarketTypeSpot); err != nil {
		t.Fatalf("save: %v", err)
	}

	deleted, err := repo.CleanupOldData(ctx, 1)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row deleted, got %d", deleted)
	}

	got, err := repo.GetHistoricalTradesRange(ctx, "BTCUSDT", types.MarketTypeSpot, nil, nil)
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no trades left after cleanup, got %d", len(got))
	}
}
