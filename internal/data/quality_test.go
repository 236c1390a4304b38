package data_test

import (
	"testing"

	"github.com/atlas-desktop/trading-engine/internal/data"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func trade(ts int64) types.PersistentTrade {
	return types.PersistentTrade{EventTimeMs: ts, Symbol: "BTCUSDT", Price: "100", Quantity: "1"}
}

func TestValidateTradeBatchPerfectOrderScoresHundred(t *testing.T) {
	trades := []types.PersistentTrade{trade(1000), trade(2000), trade(3000)}
	report := data.ValidateTradeBatch(trades)
	if report.Score != 100 {
		t.Errorf("expected perfect score, got %v", report.Score)
	}
	if report.DuplicateTimestamps != 0 || report.OutOfOrderCount != 0 {
		t.Errorf("unexpected violations: %+v", report)
	}
}

func TestValidateTradeBatchFlagsDuplicatesAndOutOfOrder(t *testing.T) {
	trades := []types.PersistentTrade{trade(1000), trade(1000), trade(500)}
	report := data.ValidateTradeBatch(trades)
	if report.DuplicateTimestamps != 1 {
		t.Errorf("expected 1 duplicate, got %d", report.DuplicateTimestamps)
	}
	if report.OutOfOrderCount != 1 {
		t.Errorf("expected 1 out-of-order violation, got %d", report.OutOfOrderCount)
	}
	if report.Score >= 100 {
		t.Errorf("expected degraded score, got %v", report.Score)
	}
}

func TestValidateTradeBatchFlagsGap(t *testing.T) {
	trades := []types.PersistentTrade{trade(0), trade(120_000)}
	report := data.ValidateTradeBatch(trades)
	if report.MissingBarGaps != 1 {
		t.Errorf("expected 1 missing-bar gap, got %d", report.MissingBarGaps)
	}
	// A gap alone isn't a violation against the score formula.
	if report.Score != 100 {
		t.Errorf("expected gaps to not penalize score, got %v", report.Score)
	}
}

func TestValidateTradeBatchTooFewTradesIsPerfect(t *testing.T) {
	report := data.ValidateTradeBatch([]types.PersistentTrade{trade(0)})
	if report.Score != 100 || report.TotalTrades != 1 {
		t.Errorf("unexpected report for single trade: %+v", report)
	}
}
