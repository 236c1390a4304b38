package execution

import (
	"sync"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func decimalOf(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	takerFeeRate       = 0.001 // 0.1% of notional, applied to both sides
	dustPositionEpsilon = 1e-6
)

// Simulator is the in-memory balance/position ledger used for paper
// trading (no live credentials) and every backtest run. Each run gets
// its own Simulator instance so backtests never share mutable state.
type Simulator struct {
	mu        sync.Mutex
	logger    *zap.Logger
	balances  map[string]float64
	positions []types.Position
}

// NewSimulator seeds USDT/BTC balances exactly as the reference system
// does: 10000 USDT, 0 BTC.
func NewSimulator(logger *zap.Logger) *Simulator {
	return &Simulator{
		logger: logger,
		balances: map[string]float64{
			"USDT": 10000,
			"BTC":  0,
		},
	}
}

// Execute applies signal to the ledger and returns realized PnL — zero
// unless a Sell closed or reduced a position.
func (s *Simulator) Execute(signal types.Signal) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch signal.Kind {
	case types.SignalBuy:
		return s.buy(signal)
	case types.SignalSell:
		return s.sell(signal)
	default: // Cancel is a no-op
		return 0
	}
}

func (s *Simulator) buy(signal types.Signal) float64 {
	priceHint := 0.0
	if signal.Price != nil {
		priceHint = *signal.Price
	}
	if priceHint == 0 {
		s.logger.Warn("simulation buy with zero price hint, skipping", zap.String("symbol", signal.Symbol))
		return 0
	}

	cost := signal.Quantity * priceHint * (1 + takerFeeRate)
	if s.balances["USDT"] < cost {
		return 0
	}

	s.balances["USDT"] -= cost
	s.balances["BTC"] += signal.Quantity

	entryPrice := cost / signal.Quantity
	for i := range s.positions {
		p := &s.positions[i]
		if p.Symbol != signal.Symbol {
			continue
		}
		totalCost := p.Amount.InexactFloat64()*p.EntryPrice.InexactFloat64() + cost
		newAmount := p.Amount.InexactFloat64() + signal.Quantity
		p.Amount = decimalOf(newAmount)
		p.EntryPrice = decimalOf(totalCost / newAmount)
		return 0
	}

	s.positions = append(s.positions, types.Position{
		Symbol:     signal.Symbol,
		Amount:     decimalOf(signal.Quantity),
		EntryPrice: decimalOf(entryPrice),
		MarketType: types.MarketTypeSpot,
		Side:       types.PositionLong,
	})
	return 0
}

func (s *Simulator) sell(signal types.Signal) float64 {
	if s.balances["BTC"] < signal.Quantity || s.balances["BTC"] <= 0 {
		return 0
	}
	priceHint := 0.0
	if signal.Price != nil {
		priceHint = *signal.Price
	}
	if priceHint == 0 {
		s.logger.Warn("simulation sell with zero price hint, skipping", zap.String("symbol", signal.Symbol))
		return 0
	}

	revenue := signal.Quantity * priceHint
	fee := revenue * takerFeeRate
	s.balances["BTC"] -= signal.Quantity
	s.balances["USDT"] += revenue - fee

	var realizedPnL float64
	for i := 0; i < len(s.positions); i++ {
		p := &s.positions[i]
		if p.Symbol != signal.Symbol {
			continue
		}
		entryPrice := p.EntryPrice.InexactFloat64()
		realizedPnL = (revenue - fee) - entryPrice*signal.Quantity

		remaining := p.Amount.InexactFloat64() - signal.Quantity
		if remaining < dustPositionEpsilon {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
		} else {
			p.Amount = decimalOf(remaining)
		}
		break
	}
	return realizedPnL
}

func (s *Simulator) Balances() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

func (s *Simulator) Positions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, len(s.positions))
	copy(out, s.positions)
	return out
}
