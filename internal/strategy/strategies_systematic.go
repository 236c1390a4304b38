package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func init() {
	Default.Register("GridTrading", func() Strategy { return newGridTrading() })
	Default.Register("DCAStrategy", func() Strategy { return newDCAStrategy() })
	Default.Register("Martingale", func() Strategy { return newMartingale() })
	Default.Register("BuyAndHold", func() Strategy { return newBuyAndHold() })
	Default.Register("PaperTrader", func() Strategy { return newPaperTrader() })
}

type gridPosition struct {
	entryPrice float64
	qty        float64
}

// gridTrading lays 11 evenly-spaced levels around the first seen price
// and buys dips below the midpoint, selling rallies above it, grounded
// on grid_trading.rs.
type gridTrading struct {
	base
	gridSizePct float64
	gridLevels  []float64
	basePrice   float64
	positions   []gridPosition
}

func newGridTrading() *gridTrading {
	return &gridTrading{base: newBase("GridTrading", 10 * time.Second), gridSizePct: 0.05}
}

func (s *gridTrading) setupGrid(price float64) {
	s.basePrice = price
	s.gridLevels = s.gridLevels[:0]
	for i := -5; i <= 5; i++ {
		s.gridLevels = append(s.gridLevels, price*(1+float64(i)*s.gridSizePct/100))
	}
}

func (s *gridTrading) findGridLevel(price float64) (idx int, level float64, found bool) {
	for i, l := range s.gridLevels {
		if l != 0 && absf(price-l)/l < 0.0005 {
			return i, l, true
		}
	}
	return 0, 0, false
}

func (s *gridTrading) Features() []Feature {
	return []Feature{
		{"Base Price", fmt.Sprintf("%.2f", s.basePrice)},
		{"Positions", fmt.Sprintf("%d", len(s.positions))},
		{"Grid Size", fmt.Sprintf("%.1f%%", s.gridSizePct)},
	}
}

func (s *gridTrading) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	if s.basePrice == 0 {
		s.setupGrid(price)
	}

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if idx, level, found := s.findGridLevel(price); found {
			mid := len(s.gridLevels) / 2
			if idx < mid && len(s.positions) < 5 {
				opps = append(opps, buyOpportunity("grid_buy", event.Symbol, event.EventTimeMs, price, 0.0005, 0.65, 0.3, fmt.Sprintf("grid buy at level %d (%.2f)", idx, level)))
				s.positions = append(s.positions, gridPosition{entryPrice: price, qty: 0.0005})
				action = "Buy"
				s.markSignaled(event.EventTimeMs)
			} else if idx > mid && len(s.positions) > 0 {
				last := s.positions[len(s.positions)-1]
				s.positions = s.positions[:len(s.positions)-1]
				pnlPct := (price - last.entryPrice) / last.entryPrice * 100
				opps = append(opps, sellOpportunity("grid_sell", event.Symbol, event.EventTimeMs, price, last.qty, 0.7, 0.25, fmt.Sprintf("grid sell +%.2f%% profit", pnlPct)))
				action = "Sell"
				s.markSignaled(event.EventTimeMs)
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *gridTrading) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func (s *gridTrading) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// dcaStrategy buys a fixed small quantity every 50th trade, grounded
// on dca_strategy.rs.
type dcaStrategy struct {
	base
	tradeCount  uint64
	buyInterval uint64
}

func newDCAStrategy() *dcaStrategy {
	return &dcaStrategy{base: newBase("DCAStrategy", 0), buyInterval: 50}
}

func (s *dcaStrategy) Features() []Feature {
	nextIn := s.buyInterval - (s.tradeCount % s.buyInterval)
	return []Feature{
		{"Interval", fmt.Sprintf("%d", s.buyInterval)},
		{"Total Trades", fmt.Sprintf("%d", s.tradeCount)},
		{"Next Buy In", fmt.Sprintf("%d", nextIn)},
	}
}

func (s *dcaStrategy) handle(symbol string, price, qty float64, eventTimeMs int64, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)
	s.tradeCount++

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading && s.tradeCount%s.buyInterval == 0 {
		opps = append(opps, buyOpportunity("dca_buy", symbol, eventTimeMs, price, 0.0001, 0.6, 0.2, fmt.Sprintf("DCA interval #%d", s.tradeCount/s.buyInterval)))
		action = "Buy"
	}
	state.PushHistoryAt(eventTimeMs, price, qty, action)
	return opps
}

func (s *dcaStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *dcaStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *dcaStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// martingale doubles its position size after each loss (high risk by
// design), entering every 100th trade and resetting the size only on a
// take-profit exit, grounded on martingale.rs.
type martingale struct {
	base
	tradeCount        uint64
	lastTradePrice    float64
	positionSize      float64
	inPosition        bool
	consecutiveLosses int
}

func newMartingale() *martingale {
	return &martingale{base: newBase("Martingale", 0), positionSize: 0.0001}
}

func (s *martingale) nextSize() float64 {
	exp := s.consecutiveLosses
	if exp > 5 {
		exp = 5
	}
	return s.positionSize * math.Pow(2, float64(exp))
}

func (s *martingale) Features() []Feature {
	return []Feature{
		{"Losses", fmt.Sprintf("%d", s.consecutiveLosses)},
		{"Next Size", fmt.Sprintf("%.4f", s.nextSize())},
		{"In Position", fmt.Sprintf("%v", s.inPosition)},
	}
}

func (s *martingale) handle(symbol string, price, qty float64, eventTimeMs int64, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)
	s.tradeCount++

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		if !s.inPosition && s.tradeCount%100 == 0 {
			s.inPosition = true
			s.lastTradePrice = price
			size := s.nextSize()
			opps = append(opps, buyOpportunity("mart_buy", symbol, eventTimeMs, price, size, 0.6, 0.6, fmt.Sprintf("martingale entry (size=%.4f, losses=%d)", size, s.consecutiveLosses)))
			action = "Buy"
		}
		if s.inPosition {
			pnlPct := (price - s.lastTradePrice) / s.lastTradePrice * 100
			if pnlPct > 0.2 {
				s.inPosition = false
				s.consecutiveLosses = 0
				s.positionSize = 0.0001
				opps = append(opps, sellOpportunity("mart_sell_tp", symbol, eventTimeMs, price, 0.001, 0.7, 0.2, fmt.Sprintf("take profit: %.2f%%", pnlPct)))
				action = "Sell"
			} else if pnlPct < -0.2 {
				s.inPosition = false
				s.consecutiveLosses++
				opps = append(opps, sellOpportunity("mart_sell_sl", symbol, eventTimeMs, price, 0.001, 0.5, 0.5, fmt.Sprintf("stop loss: %.2f%%, next will double", pnlPct)))
				action = "Sell"
			}
		}
	}
	state.PushHistoryAt(eventTimeMs, price, qty, action)
	return opps
}

func (s *martingale) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *martingale) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *martingale) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// buyAndHold buys once on the first trade it sees and never sells,
// grounded on buy_hold.rs. It fires regardless of system state —
// establishing the position is the entire strategy.
type buyAndHold struct {
	base
	hasBought bool
}

func newBuyAndHold() *buyAndHold {
	return &buyAndHold{base: newBase("BuyAndHold", 0)}
}

func (s *buyAndHold) Features() []Feature {
	return []Feature{{"Bought", fmt.Sprintf("%v", s.hasBought)}, {"Strategy", "Passive"}}
}

func (s *buyAndHold) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)

	var opps []types.Opportunity
	action := ""
	if !s.hasBought {
		opps = append(opps, buyOpportunity("buy_hold", event.Symbol, event.EventTimeMs, price, 0.1, 1.0, 0.0, "initial buy-and-hold purchase"))
		s.hasBought = true
		action = "Buy"
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *buyAndHold) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func (s *buyAndHold) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// paperTrader is the baseline strategy every fresh process starts on:
// it drives the state machine's inferred-probability updates from
// order-book spread/imbalance and trade-to-trade volatility, and emits
// periodic mock opportunities once Trading, grounded on logger.rs.
type paperTrader struct {
	base
	tradeCount uint64
	lastPrice  float64
	havePrice  bool
	lastSpread float64
}

func newPaperTrader() *paperTrader {
	return &paperTrader{base: newBase("PaperTrader", 0)}
}

func (s *paperTrader) Features() []Feature {
	return []Feature{{"Spread", fmt.Sprintf("%.4f", s.lastSpread)}, {"Trade Count", fmt.Sprintf("%d", s.tradeCount)}}
}

func (s *paperTrader) handle(symbol string, price, qty float64, eventTimeMs int64, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.tradeCount++

	var volatilityScore float64
	if s.havePrice && s.lastPrice != 0 {
		volatilityScore = absf(price-s.lastPrice) / s.lastPrice * 1000
	}
	s.lastPrice = price
	s.havePrice = true
	s.touchLifecycle(state)
	state.StateMachine().UpdateInferredProbabilities(0.01, 0.0, volatilityScore)

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		if s.tradeCount%5 == 0 {
			opps = append(opps, buyOpportunity("buy", symbol, eventTimeMs, price*0.999, 0.001, 0.85, 0.2, "strong momentum detected with low volatility"))
			action = "Buy"
		}
		if s.tradeCount%8 == 0 {
			opps = append(opps, sellOpportunity("sell", symbol, eventTimeMs, price*1.001, 0.001, 0.65, 0.4, "local resistance breakout attempt"))
			action = "Sell"
		}
	}
	state.PushHistoryAt(eventTimeMs, price, qty, action)
	return opps
}

func (s *paperTrader) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *paperTrader) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *paperTrader) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())

	var spreadScore, imbalanceScore, midPrice, volume float64
	if len(event.Bids) > 0 && len(event.Asks) > 0 {
		bestBid := types.ParsePriceOrZero(event.Bids[0].Price)
		bestAsk := types.ParsePriceOrZero(event.Asks[0].Price)
		bestBidQty := types.ParsePriceOrZero(event.Bids[0].Quantity)
		bestAskQty := types.ParsePriceOrZero(event.Asks[0].Quantity)
		midPrice = (bestBid + bestAsk) / 2
		volume = (bestBidQty + bestAskQty) / 2
		spread := bestAsk - bestBid
		s.lastSpread = spread
		if midPrice > 0 {
			spreadScore = spread / midPrice * 1000
		}
		if bestBidQty+bestAskQty > 0 {
			imbalanceScore = (bestBidQty - bestAskQty) / (bestBidQty + bestAskQty)
		}
	}

	sm := state.StateMachine()
	if sm.State() == types.StateBooting {
		sm.TransitionTo(types.StateAccumulating)
	}
	sm.UpdateInferredProbabilities(spreadScore, imbalanceScore, 0.0)

	if midPrice > 0 {
		state.PushHistoryAt(event.LastUpdateID, midPrice, volume, "")
	}
	return nil
}
