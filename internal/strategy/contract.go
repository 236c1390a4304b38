// Package strategy defines the pluggable strategy contract and a
// name-keyed registry of the concrete indicator strategies that share
// it. Individual strategies differ only in the indicator computed and
// their threshold/position-sizing constants; this file holds the
// contract and the mechanics every strategy shares.
package strategy

import (
	"math"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"github.com/google/uuid"
)

// Feature is a (label, value) pair a strategy reports for display/debug
// purposes — e.g. the current MACD line and signal line values.
type Feature struct {
	Label string
	Value string
}

// Strategy is the polymorphic interface every indicator implementation
// satisfies. Handlers may suspend on the shared-state lock but must never
// block on CPU work beyond a few microseconds.
type Strategy interface {
	Name() string
	Features() []Feature

	OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity
	OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity
	OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity
}

// Factory constructs a fresh Strategy instance. Kept as a plain function
// value (rather than a compile-time trait table) so the registry can
// remain a runtime, name-keyed map — required to support hot-swapping
// the active strategy without restarting the process.
type Factory func() Strategy

// Registry is a name-keyed strategy factory. A package-level default
// registry is populated by init() in strategies_*.go; callers needing an
// isolated registry (e.g. tests) can construct their own with NewRegistry.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Create(name string) (Strategy, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Default is the process-wide registry every concrete strategy
// registers itself into via init().
var Default = NewRegistry()

// base carries the mechanics common to every strategy: the signal-cooldown
// guard, the lifecycle-transition guard, and latency recording. This was
// duplicated boilerplate across every concrete strategy; embedding base
// is how they pick it up for free instead.
type base struct {
	name         string
	cooldown     time.Duration
	lastSignalMs int64
}

func newBase(name string, cooldown time.Duration) base {
	return base{name: name, cooldown: cooldown}
}

func (b *base) Name() string { return b.name }

// touchLifecycle advances the state machine: the first event moves
// Booting to Accumulating; once stable, Accumulating moves to Trading.
// TransitionTo is a no-op when already at the target state, so calling
// this on every event is harmless once the machine has moved on.
func (b *base) touchLifecycle(state *sharedstate.State) {
	sm := state.StateMachine()
	switch sm.State() {
	case types.StateBooting:
		sm.TransitionTo(types.StateAccumulating)
	case types.StateAccumulating:
		if sm.IsStable() {
			sm.TransitionTo(types.StateTrading)
		}
	}
}

// maybeCooldown lets a strategy push the system into Cooldown when its
// own volatility measure crosses threshold.
func (b *base) maybeCooldown(state *sharedstate.State, volatility, threshold float64) {
	sm := state.StateMachine()
	if sm.State() == types.StateTrading && volatility > threshold {
		sm.TransitionTo(types.StateCooldown)
	}
}

// canEmit centralizes the cross-strategy emission guard: opportunities
// fire only while Trading and only after the strategy's own cooldown has
// elapsed, measured in event time (not wall clock).
func (b *base) canEmit(state *sharedstate.State, eventTimeMs int64) bool {
	if state.StateMachine().State() != types.StateTrading {
		return false
	}
	return eventTimeMs-b.lastSignalMs > b.cooldown.Milliseconds()
}

func (b *base) markSignaled(eventTimeMs int64) { b.lastSignalMs = eventTimeMs }

// recordLatency records elapsed microseconds since start into the
// strategy latency histogram. Call via `defer` at the top of each handler.
func recordLatency(state *sharedstate.State, start time.Time) {
	state.Metrics().RecordStrategyLatency(time.Since(start))
}

// priceRing is a small bounded ring of recent prices that indicator
// strategies isolate their math behind.
type priceRing struct {
	prices []float64
	cap    int
}

func newPriceRing(capacity int) priceRing {
	return priceRing{prices: make([]float64, 0, capacity), cap: capacity}
}

func (r *priceRing) push(p float64) {
	r.prices = append(r.prices, p)
	if len(r.prices) > r.cap {
		r.prices = r.prices[len(r.prices)-r.cap:]
	}
}

func (r *priceRing) len() int { return len(r.prices) }

func (r *priceRing) last(n int) []float64 {
	if n > len(r.prices) {
		n = len(r.prices)
	}
	return r.prices[len(r.prices)-n:]
}

func sma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// buyOpportunity and sellOpportunity build an Opportunity carrying a
// freshly minted id, so concrete strategies never duplicate the
// boilerplate of assembling a Signal by hand.
func buyOpportunity(reasonPrefix, symbol string, eventTimeMs int64, price, quantity, score, riskScore float64, reason string) types.Opportunity {
	p := price
	return types.Opportunity{
		ID: reasonPrefix + "-" + uuid.NewString(),
		Signal: types.Signal{
			Kind:     types.SignalBuy,
			Symbol:   symbol,
			Price:    &p,
			Quantity: quantity,
		},
		Score:       score,
		RiskScore:   riskScore,
		Reason:      reason,
		TimestampMs: eventTimeMs,
	}
}

func sellOpportunity(reasonPrefix, symbol string, eventTimeMs int64, price, quantity, score, riskScore float64, reason string) types.Opportunity {
	p := price
	return types.Opportunity{
		ID: reasonPrefix + "-" + uuid.NewString(),
		Signal: types.Signal{
			Kind:     types.SignalSell,
			Symbol:   symbol,
			Price:    &p,
			Quantity: quantity,
		},
		Score:       score,
		RiskScore:   riskScore,
		Reason:      reason,
		TimestampMs: eventTimeMs,
	}
}
