package data

import (
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// expectedGapToleranceMs is how far apart two consecutive trades can be
// before the gap between them is counted as a missing-bar gap; wide
// enough to not flag ordinary inter-trade spacing on a liquid symbol.
const expectedGapToleranceMs = 60_000

// QualityReport summarizes a one-shot validation pass over a loaded
// slice of historical trades, used by the backtester as a pre-flight
// check before committing to a run. It never runs on the live ingest
// path — that's the streaming filter package's job.
type QualityReport struct {
	TotalTrades          int
	DuplicateTimestamps  int
	OutOfOrderCount      int
	MissingBarGaps       int
	Score                float64 // 0-100, same formula as the streaming filter
}

// ValidateTradeBatch inspects trades (assumed already sorted ascending
// by event time, as GetHistoricalTradesRange returns them) and reports
// duplicate event times, chronological-order violations, and gaps wider
// than expectedGapToleranceMs.
func ValidateTradeBatch(trades []types.PersistentTrade) QualityReport {
	report := QualityReport{TotalTrades: len(trades), Score: 100.0}
	if len(trades) < 2 {
		return report
	}

	var violations int
	for i := 1; i < len(trades); i++ {
		prev, cur := trades[i-1], trades[i]

		switch {
		case cur.EventTimeMs == prev.EventTimeMs:
			report.DuplicateTimestamps++
			violations++
		case cur.EventTimeMs < prev.EventTimeMs:
			report.OutOfOrderCount++
			violations++
		case cur.EventTimeMs-prev.EventTimeMs > expectedGapToleranceMs:
			report.MissingBarGaps++
		}
	}

	good := len(trades) - violations
	report.Score = float64(good) / float64(len(trades)) * 100.0
	return report
}
