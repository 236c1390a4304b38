// Package statemachine implements the 5-state system lifecycle shared by
// every strategy: Booting, Accumulating, Analyzing, Trading, Cooldown.
package statemachine

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

const numStates = 5

// StateMachine tracks the current system state plus an observed
// transition-count matrix and an inferred, real-valued probability
// matrix recomputed from market scores. It is safe for concurrent use —
// in practice it lives inside the pipeline's single reader-writer lock,
// but the internal mutex lets it also be exercised from unit tests
// without that lock.
type StateMachine struct {
	mu sync.Mutex

	logger *zap.Logger

	current            types.SystemState
	lastTransitionTime time.Time

	observed [numStates][numStates]uint64
	inferred [numStates][numStates]float64
}

func New(logger *zap.Logger) *StateMachine {
	return &StateMachine{
		logger:             logger,
		current:            types.StateBooting,
		lastTransitionTime: time.Now(),
	}
}

func (m *StateMachine) State() types.SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo records a transition to newState. Self-transitions are a
// no-op: neither the observed counter nor the last-transition timestamp
// moves.
func (m *StateMachine) TransitionTo(newState types.SystemState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == newState {
		return
	}

	if m.logger != nil {
		m.logger.Info("state transition",
			zap.String("from", m.current.String()),
			zap.String("to", newState.String()))
	}

	m.observed[m.current][newState]++
	m.current = newState
	m.lastTransitionTime = time.Now()
}

// ObservedProbabilities returns, for each from-state, the row-normalized
// transition frequencies; a row with zero total is all zeros.
func (m *StateMachine) ObservedProbabilities() [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	probs := make([][]float64, numStates)
	for i := 0; i < numStates; i++ {
		probs[i] = make([]float64, numStates)
		var rowTotal uint64
		for j := 0; j < numStates; j++ {
			rowTotal += m.observed[i][j]
		}
		if rowTotal == 0 {
			continue
		}
		for j := 0; j < numStates; j++ {
			probs[i][j] = float64(m.observed[i][j]) / float64(rowTotal)
		}
	}
	return probs
}

// InferredProbabilities returns the current inferred matrix as computed by
// the most recent calls to UpdateInferredProbabilities.
func (m *StateMachine) InferredProbabilities() [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]float64, numStates)
	for i := 0; i < numStates; i++ {
		row := make([]float64, numStates)
		copy(row, m.inferred[i][:])
		out[i] = row
	}
	return out
}

// UpdateInferredProbabilities recomputes the current state's row in the
// inferred matrix from three normalized real-valued scores, using
// state-dependent linear blending, then L1-normalizes the row.
func (m *StateMachine) UpdateInferredProbabilities(spreadScore, imbalanceScore, volatilityScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	currentIdx := int(m.current)
	var newProbs [numStates]float64

	switch m.current {
	case types.StateBooting, types.StateAccumulating:
		newProbs[types.StateAnalyzing] = max(1.0-spreadScore, 0.1)
		newProbs[types.StateAccumulating] = max(spreadScore, 0.1)
	case types.StateAnalyzing:
		absImbalance := abs(imbalanceScore)
		newProbs[types.StateTrading] = min(absImbalance, 0.9)
		newProbs[types.StateAnalyzing] = max(1.0-absImbalance, 0.1)
		if volatilityScore > 0.7 {
			newProbs[types.StateCooldown] = volatilityScore
		}
	case types.StateTrading:
		newProbs[types.StateCooldown] = max(volatilityScore, 0.1)
		newProbs[types.StateTrading] = max(1.0-volatilityScore, 0.1)
	case types.StateCooldown:
		newProbs[types.StateAnalyzing] = max(1.0-volatilityScore, 0.1)
		newProbs[types.StateCooldown] = max(volatilityScore, 0.1)
	}

	var sum float64
	for _, v := range newProbs {
		sum += v
	}
	if sum > 0 {
		for j := 0; j < numStates; j++ {
			m.inferred[currentIdx][j] = newProbs[j] / sum
		}
	}
}

// IsStable is true outside Accumulating; in Accumulating it is true iff
// at least 5 seconds have elapsed since the last transition.
func (m *StateMachine) IsStable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != types.StateAccumulating {
		return true
	}
	return time.Since(m.lastTransitionTime) > 5*time.Second
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
