// Package risk scores and filters the opportunities strategies emit into a
// single recommended trade, plus a portfolio-level risk report the control
// surface exposes.
package risk

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Manager holds no persistent state; every call is a pure function of the
// opportunities it's given. A *zap.Logger is kept for parity with the rest
// of the engine's components, which all log through one.
type Manager struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// AnalyzeOpportunities computes a portfolio-level risk report and returns a
// copy of opportunities with their individual risk scores adjusted: a
// high-confidence opportunity (Score > 0.8) has its risk score discounted,
// then every opportunity's risk score is inflated if the portfolio is
// already under a drawdown warning.
func (m *Manager) AnalyzeOpportunities(opportunities []types.Opportunity) ([]types.Opportunity, types.RiskReport) {
	totalRisk := 0.3
	if len(opportunities) > 5 {
		totalRisk = 0.8
	}
	drawdownWarning := totalRisk > 0.7

	processed := make([]types.Opportunity, len(opportunities))
	copy(processed, opportunities)
	for i := range processed {
		if processed[i].Score > 0.8 {
			processed[i].RiskScore *= 0.8
		}
		if drawdownWarning {
			processed[i].RiskScore *= 1.5
		}
	}

	report := types.RiskReport{
		TotalRisk:          totalRisk,
		LeverageRisk:       0.1,
		DrawdownWarning:    drawdownWarning,
		RecommendedMaxSize: 0.005,
	}

	if drawdownWarning && m.logger != nil {
		m.logger.Warn("portfolio drawdown warning", zap.Int("opportunity_count", len(opportunities)))
	}

	return processed, report
}

// SelectBestTrade picks the highest-scoring opportunity among those whose
// risk score is below 0.5. Ties on score are broken by first-seen order —
// a deliberate departure from picking the last maximal element, so
// selection stays stable regardless of how opportunities happened to be
// ordered going in.
func (m *Manager) SelectBestTrade(opportunities []types.Opportunity) (types.Signal, bool) {
	var best *types.Opportunity
	for i := range opportunities {
		o := &opportunities[i]
		if o.RiskScore >= 0.5 {
			continue
		}
		if best == nil || o.Score > best.Score {
			best = o
		}
	}
	if best == nil {
		return types.Signal{}, false
	}
	return best.Signal, true
}
