package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"github.com/atlas-desktop/trading-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunMode selects whether signals hit the in-memory simulator or a live
// exchange actor.
type RunMode int

const (
	ModeSimulation RunMode = iota
	ModeLive
)

// minNotionalUSD and quantity truncation match the exchange's own
// filters; orders that can't clear them are skipped rather than sent
// and rejected.
const (
	minNotionalUSD       = 5.0
	quantityDecimalPlaces = 5
	balanceSafetyFactor   = 0.995
)

// Executor dispatches signals to either the simulator or the live spot
// and futures actors, and answers account-state queries uniformly
// regardless of run mode.
type Executor struct {
	mode   RunMode
	logger *zap.Logger

	sim   *Simulator
	spot  *Actor
	fut   *Actor

	mu         sync.Mutex
	tradeStats map[string]*types.TradeStats
}

// NewSimulationExecutor builds an Executor that only ever touches the
// in-memory ledger; used for paper trading and every backtest run.
func NewSimulationExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		mode:       ModeSimulation,
		logger:     logger,
		sim:        NewSimulator(logger),
		tradeStats: make(map[string]*types.TradeStats),
	}
}

// NewLiveExecutor builds an Executor that routes signals to the spot or
// futures actor depending on marketType, applying exchange order-filter
// rules before dispatch.
func NewLiveExecutor(logger *zap.Logger, spot, fut *Actor) *Executor {
	return &Executor{
		mode:       ModeLive,
		logger:     logger,
		spot:       spot,
		fut:        fut,
		tradeStats: make(map[string]*types.TradeStats),
	}
}

// Execute applies signal and returns realized PnL, as reported by the
// simulator in simulation mode or zero in live mode (realized PnL for
// live fills is derived later from trade history, not from the order
// response).
func (e *Executor) Execute(ctx context.Context, signal types.Signal, marketType types.MarketType) (float64, error) {
	if e.mode == ModeSimulation {
		pnl := e.sim.Execute(signal)
		e.recordStats(signal)
		return pnl, nil
	}
	return 0, e.executeLive(ctx, signal, marketType)
}

func (e *Executor) executeLive(ctx context.Context, signal types.Signal, marketType types.MarketType) error {
	actor := e.spot
	if marketType == types.MarketTypeFutures {
		actor = e.fut
	}
	if actor == nil {
		return fmt.Errorf("execution: no actor configured for market type %s", marketType)
	}

	if signal.Kind == types.SignalCancel {
		return actor.CancelOrder(ctx, signal.Symbol, signal.OrderID)
	}

	qty, skip := adjustQuantity(signal)
	if skip {
		e.logger.Debug("order skipped, below minimum notional", zap.String("symbol", signal.Symbol))
		return nil
	}

	if signal.Kind == types.SignalBuy && signal.Price != nil && *signal.Price > 0 {
		balances, err := actor.GetAccount(ctx)
		if err == nil {
			if usdt := balanceOf(balances, "USDT"); qty*(*signal.Price) > usdt {
				clamped, ok := ClampToBalance(qty, *signal.Price, usdt)
				if !ok {
					e.logger.Debug("order skipped, clamped quantity below minimum notional", zap.String("symbol", signal.Symbol))
					return nil
				}
				qty = clamped
			}
		}
	}

	var err error
	switch signal.Kind {
	case types.SignalBuy:
		_, err = actor.MarketBuy(ctx, signal.Symbol, qty)
	case types.SignalSell:
		_, err = actor.MarketSell(ctx, signal.Symbol, qty)
	}
	if err == nil {
		e.recordStats(types.Signal{Kind: signal.Kind, Symbol: signal.Symbol, Quantity: qty, Price: signal.Price})
	}
	return err
}

// adjustQuantity truncates quantity to the exchange's step size and
// reports whether the resulting order should be skipped for falling
// under the minimum notional filter.
func adjustQuantity(signal types.Signal) (qty float64, skip bool) {
	qty = truncate(signal.Quantity, quantityDecimalPlaces)
	if signal.Price == nil || *signal.Price <= 0 {
		return qty, true
	}
	notional := qty * *signal.Price
	if notional < minNotionalUSD {
		return qty, true
	}
	return qty, false
}

// ClampToBalance scales qty down to balanceSafetyFactor of what
// available funds can cover at priceHint, used when a live buy would
// otherwise overdraw the free balance. Returns the clamped quantity and
// whether the result still clears the minimum notional filter.
func ClampToBalance(qty, priceHint, availableBalance float64) (float64, bool) {
	if priceHint <= 0 {
		return 0, false
	}
	maxAffordable := (availableBalance * balanceSafetyFactor) / priceHint
	if qty > maxAffordable {
		qty = maxAffordable
	}
	qty = truncate(qty, quantityDecimalPlaces)
	return qty, qty*priceHint >= minNotionalUSD
}

func balanceOf(balances []Balance, asset string) float64 {
	for _, b := range balances {
		if b.Asset == asset {
			return b.Amount
		}
	}
	return 0
}

// quantityStepSize is the exchange step size implied by
// quantityDecimalPlaces; truncation is delegated to the decimal-precision
// implementation the backtester's performance math also relies on, rather
// than a float64 power-of-ten trick, to avoid binary rounding surprises
// right at the exchange's own order-filter boundary.
var quantityStepSize = decimal.New(1, -quantityDecimalPlaces)

func truncate(v float64, places int) float64 {
	step := quantityStepSize
	if places != quantityDecimalPlaces {
		step = decimal.New(1, int32(-places))
	}
	rounded := utils.RoundToStepSize(decimal.NewFromFloat(v), step)
	f, _ := rounded.Float64()
	return f
}

func (e *Executor) recordStats(signal types.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats, ok := e.tradeStats[signal.Symbol]
	if !ok {
		stats = &types.TradeStats{}
		e.tradeStats[signal.Symbol] = stats
	}
	stats.TotalTrades++
	if signal.Kind == types.SignalBuy {
		stats.BuyTrades++
	} else if signal.Kind == types.SignalSell {
		stats.SellTrades++
	}
	stats.TotalVolume += signal.Quantity
}

// GetTradeStats returns the rolling counters for symbol, or a zero value
// if nothing has traded yet.
func (e *Executor) GetTradeStats(symbol string) types.TradeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stats, ok := e.tradeStats[symbol]; ok {
		return *stats
	}
	return types.TradeStats{}
}

// GetPositions returns open positions from the simulator ledger, or from
// the live actors' account state in live mode.
func (e *Executor) GetPositions(ctx context.Context) ([]types.Position, error) {
	if e.mode == ModeSimulation {
		return e.sim.Positions(), nil
	}

	var all []types.Position
	if e.spot != nil {
		pos, err := e.spot.GetPositions(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, pos...)
	}
	if e.fut != nil {
		pos, err := e.fut.GetPositions(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, pos...)
	}
	return all, nil
}

// GetBalances returns free asset balances from the simulator ledger, or
// from the live spot actor's account query in live mode.
func (e *Executor) GetBalances(ctx context.Context) (map[string]float64, error) {
	if e.mode == ModeSimulation {
		return e.sim.Balances(), nil
	}
	if e.spot == nil {
		return nil, fmt.Errorf("execution: no spot actor configured")
	}
	balances, err := e.spot.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(balances))
	for _, b := range balances {
		out[b.Asset] = b.Amount
	}
	return out, nil
}
