// Package sharedstate holds the single reader-writer-locked application
// state that the pipeline coordinator, every strategy, and the risk
// manager all touch: the state machine, latency metrics, history ring,
// opportunity snapshot, and bookkeeping counters.
//
// This single lock is a known contention point under heavy fan-in; it is
// kept as one lock rather than split by concern since the components it
// guards are read and written together on almost every event.
package sharedstate

import (
	"sync"

	"github.com/atlas-desktop/trading-engine/internal/metrics"
	"github.com/atlas-desktop/trading-engine/internal/statemachine"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// HistoryPoint is one entry in the bounded history ring strategies append
// to. Timestamp is always the originating event's own time, never wall
// clock.
type HistoryPoint struct {
	TimestampMs int64
	Price       float64
	Volume      float64
	Action      string // "Buy", "Sell", "Cancel", or "" if no opportunity fired
}

// State is the shared, lock-guarded application state. StateMachine and
// Metrics carry their own internal locking (see their packages) so they
// can be read while only an outer read-lock on State is held.
type State struct {
	mu sync.RWMutex

	stateMachine *statemachine.StateMachine
	sysMetrics   *metrics.SystemMetrics

	strategyName string
	isTrading    bool

	history    []HistoryPoint
	historyCap int

	opportunities         []types.Opportunity
	riskReport            types.RiskReport
	selectedOpportunityID string

	totalTrades      uint64
	realizedPnL      float64
	dataQualityScore float64

	lastPortfolioSnapshotTs int64
	portfolioSnapshots      []types.PortfolioSnapshot
	initialBalance          float64

	lastUpdateTs int64
}

// New creates shared state with the given strategy name and history
// capacity. isTrading starts false in live mode (the operator must
// explicitly enable trading) and true for backtest runs, which need no
// such gate.
func New(sm *statemachine.StateMachine, m *metrics.SystemMetrics, strategyName string, historyCap int, isTrading bool) *State {
	return &State{
		stateMachine: sm,
		sysMetrics:   m,
		strategyName: strategyName,
		historyCap:   historyCap,
		isTrading:    isTrading,
	}
}

func (s *State) StateMachine() *statemachine.StateMachine { return s.stateMachine }
func (s *State) Metrics() *metrics.SystemMetrics          { return s.sysMetrics }

func (s *State) StrategyName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategyName
}

// SetStrategyName is how the external control surface requests a
// strategy hot-swap; the coordinator observes the change on its next
// loop iteration.
func (s *State) SetStrategyName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategyName = name
}

func (s *State) IsTrading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isTrading
}

func (s *State) SetIsTrading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isTrading = v
}

// PushHistoryAt appends a history point keyed by the event's own
// timestamp, trimming the ring to its capacity.
func (s *State) PushHistoryAt(timestampMs int64, price, volume float64, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryPoint{TimestampMs: timestampMs, Price: price, Volume: volume, Action: action})
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
}

func (s *State) History() []HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryPoint, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) SetOpportunities(opps []types.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = opps
}

func (s *State) Opportunities() []types.Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Opportunity, len(s.opportunities))
	copy(out, s.opportunities)
	return out
}

func (s *State) SetRiskReport(r types.RiskReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskReport = r
}

func (s *State) RiskReport() types.RiskReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.riskReport
}

func (s *State) SetSelectedOpportunityID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedOpportunityID = id
}

func (s *State) SelectedOpportunityID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedOpportunityID
}

func (s *State) IncrementTotalTrades() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTrades++
}

func (s *State) TotalTrades() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTrades
}

func (s *State) AddRealizedPnL(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realizedPnL += pnl
}

func (s *State) RealizedPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realizedPnL
}

func (s *State) SetDataQualityScore(score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataQualityScore = score
}

func (s *State) DataQualityScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataQualityScore
}

// ShouldSnapshot reports whether at least 5 wall-clock seconds have
// elapsed since the last portfolio snapshot.
func (s *State) ShouldSnapshot(nowS int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nowS-s.lastPortfolioSnapshotTs >= 5
}

func (s *State) PushPortfolioSnapshot(nowS int64, totalValueUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolioSnapshots = append(s.portfolioSnapshots, types.PortfolioSnapshot{TimestampS: nowS, TotalValueUSD: totalValueUSD})
	s.lastPortfolioSnapshotTs = nowS
}

func (s *State) PortfolioSnapshots() []types.PortfolioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PortfolioSnapshot, len(s.portfolioSnapshots))
	copy(out, s.portfolioSnapshots)
	return out
}

func (s *State) SetInitialBalance(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialBalance = v
}

func (s *State) InitialBalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialBalance
}

func (s *State) SetLastUpdateTs(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdateTs = ts
}
