package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func init() {
	Default.Register("ChaikinMoneyFlow", func() Strategy { return newChaikinMoneyFlow() })
	Default.Register("SwingTrader", func() Strategy { return newSwingTrader() })
	Default.Register("ScalperStrategy", func() Strategy { return newScalperStrategy() })
}

// chaikinMoneyFlow approximates the Chaikin Money Flow oscillator from
// tick-to-tick price direction (no OHLC high/low is available off a
// trade stream), grounded on chaikin_money_flow.rs.
type chaikinMoneyFlow struct {
	base
	prices, volumes []float64
	lastCMF         float64
}

func newChaikinMoneyFlow() *chaikinMoneyFlow {
	return &chaikinMoneyFlow{base: newBase("ChaikinMoneyFlow", 60 * time.Second)}
}

func (s *chaikinMoneyFlow) calcCMF() float64 {
	const period = 21
	if len(s.prices) < period {
		return 0
	}
	start := len(s.prices) - period
	var mfvSum, volSum float64
	for i := start; i < len(s.prices); i++ {
		price := s.prices[i]
		prevPrice := price
		if i > 0 {
			prevPrice = s.prices[i-1]
		}
		var mfm float64
		if price > prevPrice {
			mfm = 1
		} else if price < prevPrice {
			mfm = -1
		}
		mfvSum += mfm * s.volumes[i]
		volSum += s.volumes[i]
	}
	if volSum == 0 {
		return 0
	}
	return mfvSum / volSum
}

func (s *chaikinMoneyFlow) Features() []Feature {
	var volSum float64
	for _, v := range s.volumes {
		volSum += v
	}
	return []Feature{{"CMF", fmt.Sprintf("%.3f", s.lastCMF)}, {"Volume Sum", fmt.Sprintf("%.0f", volSum)}}
}

func (s *chaikinMoneyFlow) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.prices = append(s.prices, price)
	s.volumes = append(s.volumes, qty)
	if len(s.prices) > 50 {
		s.prices = s.prices[1:]
		s.volumes = s.volumes[1:]
	}
	s.lastCMF = s.calcCMF()

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if s.lastCMF > 0.1 {
			opps = append(opps, buyOpportunity("cmf_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.3, fmt.Sprintf("CMF bullish accumulation: %.3f", s.lastCMF)))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if s.lastCMF < -0.1 {
			opps = append(opps, sellOpportunity("cmf_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.3, fmt.Sprintf("CMF bearish distribution: %.3f", s.lastCMF)))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *chaikinMoneyFlow) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.prices = append(s.prices, types.ParsePriceOrZero(event.PriceStr))
	s.volumes = append(s.volumes, types.ParsePriceOrZero(event.QtyStr))
	if len(s.prices) > 50 {
		s.prices = s.prices[1:]
		s.volumes = s.volumes[1:]
	}
	return nil
}

func (s *chaikinMoneyFlow) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// swingTrader holds a single long position across multi-minute swings,
// entering on 20-sample momentum and exiting on reversal or a fixed
// profit/loss band, grounded on swing_trader.rs.
type swingTrader struct {
	base
	prices     []float64
	position   int // -1 short, 0 flat, 1 long (only long entries are taken)
	entryPrice float64
}

func newSwingTrader() *swingTrader {
	return &swingTrader{base: newBase("SwingTrader", 0)}
}

func (s *swingTrader) momentum() float64 {
	const window = 20
	if len(s.prices) < window {
		return 0
	}
	now := s.prices[len(s.prices)-1]
	old := s.prices[len(s.prices)-window]
	if old == 0 {
		return 0
	}
	return (now - old) / old * 100
}

func (s *swingTrader) Features() []Feature {
	posLabel := "Flat"
	switch s.position {
	case 1:
		posLabel = "Long"
	case -1:
		posLabel = "Short"
	}
	return []Feature{{"Momentum", fmt.Sprintf("%.2f%%", s.momentum())}, {"Position", posLabel}}
}

func (s *swingTrader) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.prices = append(s.prices, price)
	if len(s.prices) > 50 {
		s.prices = s.prices[1:]
	}

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		momentum := s.momentum()
		if s.position == 0 && momentum > 0.1 {
			s.position = 1
			s.entryPrice = price
			opps = append(opps, buyOpportunity("swing_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.75, 0.35, fmt.Sprintf("strong momentum: +%.2f%%", momentum)))
			action = "Buy"
		}
		if s.position == 1 {
			pnlPct := (price - s.entryPrice) / s.entryPrice * 100
			if momentum < -0.2 || pnlPct > 1.0 || pnlPct < -0.5 {
				s.position = 0
				opps = append(opps, sellOpportunity("swing_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.75, 0.3, fmt.Sprintf("exit: PnL=%.2f%%, mom=%.2f%%", pnlPct, momentum)))
				action = "Sell"
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *swingTrader) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.OnTrade(&types.TradeEvent{EventTimeMs: event.EventTimeMs, Symbol: event.Symbol, PriceStr: event.PriceStr, QtyStr: event.QtyStr}, state)
}

func (s *swingTrader) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// scalperStrategy takes small, fast positions off a 5-vs-5 tick
// micro-trend in basis points, grounded on scalper_strategy.rs.
type scalperStrategy struct {
	base
	ticks        []float64
	positionOpen bool
	entryPrice   float64
}

func newScalperStrategy() *scalperStrategy {
	return &scalperStrategy{base: newBase("ScalperStrategy", 5 * time.Second)}
}

func (s *scalperStrategy) microTrend() (float64, bool) {
	if len(s.ticks) < 10 {
		return 0, false
	}
	n := len(s.ticks)
	recent := s.ticks[n-5:]
	older := s.ticks[n-10 : n-5]
	recentAvg := sma(recent)
	olderAvg := sma(older)
	if olderAvg == 0 {
		return 0, false
	}
	return (recentAvg - olderAvg) / olderAvg * 10000, true
}

func (s *scalperStrategy) Features() []Feature {
	trend, _ := s.microTrend()
	return []Feature{{"Trend (bps)", fmt.Sprintf("%.1f", trend)}, {"In Position", fmt.Sprintf("%v", s.positionOpen)}}
}

func (s *scalperStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ticks = append(s.ticks, price)
	if len(s.ticks) > 20 {
		s.ticks = s.ticks[1:]
	}

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		if microTrend, ok := s.microTrend(); ok {
			if !s.positionOpen && microTrend > 1.0 && s.canEmit(state, event.EventTimeMs) {
				s.positionOpen = true
				s.entryPrice = price
				score := min(microTrend/10, 0.8)
				opps = append(opps, buyOpportunity("scalp_buy", event.Symbol, event.EventTimeMs, price, 0.0005, score, 0.5, fmt.Sprintf("micro uptrend: %.1f bps", microTrend)))
				action = "Buy"
				s.markSignaled(event.EventTimeMs)
			} else if s.positionOpen {
				pnlBps := (price - s.entryPrice) / s.entryPrice * 10000
				if pnlBps > 5.0 || pnlBps < -3.0 {
					s.positionOpen = false
					opps = append(opps, sellOpportunity("scalp_sell", event.Symbol, event.EventTimeMs, price, 0.0005, 0.7, 0.3, fmt.Sprintf("scalp exit: %.1f bps P&L", pnlBps)))
					action = "Sell"
				}
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *scalperStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ticks = append(s.ticks, types.ParsePriceOrZero(event.PriceStr))
	if len(s.ticks) > 20 {
		s.ticks = s.ticks[1:]
	}
	return nil
}

func (s *scalperStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}
