package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func init() {
	Default.Register("DonchianChannels", func() Strategy { return newDonchianChannels() })
	Default.Register("BreakoutRange", func() Strategy { return newBreakoutRange() })
	Default.Register("MomentumBreakout", func() Strategy { return newMomentumBreakout() })
	Default.Register("VolatilityBreakout", func() Strategy { return newVolatilityBreakout() })
	Default.Register("IchimokuCloud", func() Strategy { return newIchimokuCloud() })
	Default.Register("ParabolicSAR", func() Strategy { return newParabolicSAR() })
}

// donchianChannels trades breaks of a 20-period rolling high/low
// channel, grounded on donchian_channels.rs.
type donchianChannels struct {
	base
	ring         priceRing
	upper, lower float64
}

func newDonchianChannels() *donchianChannels {
	return &donchianChannels{base: newBase("DonchianChannels", 60 * time.Second), ring: newPriceRing(50)}
}

func (s *donchianChannels) updateChannels() {
	const period = 20
	if s.ring.len() < period {
		return
	}
	window := s.ring.last(period)
	s.upper, s.lower = window[0], window[0]
	for _, v := range window {
		if v > s.upper {
			s.upper = v
		}
		if v < s.lower {
			s.lower = v
		}
	}
}

func (s *donchianChannels) Features() []Feature {
	return []Feature{
		{"Upper", fmt.Sprintf("%.2f", s.upper)},
		{"Lower", fmt.Sprintf("%.2f", s.lower)},
		{"Mid", fmt.Sprintf("%.2f", (s.upper+s.lower)/2)},
	}
}

func (s *donchianChannels) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)
	s.updateChannels()

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if price >= s.upper && s.upper > 0 {
			opps = append(opps, buyOpportunity("donchian_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.85, 0.35, fmt.Sprintf("Donchian upper breakout: %.2f", price)))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if price <= s.lower && s.lower > 0 {
			opps = append(opps, sellOpportunity("donchian_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.85, 0.4, fmt.Sprintf("Donchian lower breakdown: %.2f", price)))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *donchianChannels) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	s.updateChannels()
	return nil
}

func (s *donchianChannels) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// breakoutRange waits for 3+ consecutive low-range periods, then trades
// the break of that consolidation range, grounded on breakout_range.rs.
type breakoutRange struct {
	base
	ring                  priceRing
	rangeHigh, rangeLow   float64
	consolidationPeriods  int
}

func newBreakoutRange() *breakoutRange {
	return &breakoutRange{base: newBase("BreakoutRange", 60 * time.Second), ring: newPriceRing(50)}
}

func (s *breakoutRange) updateRange() {
	if s.ring.len() < 20 {
		return
	}
	window := s.ring.last(20)
	s.rangeHigh, s.rangeLow = window[0], window[0]
	for _, v := range window {
		if v > s.rangeHigh {
			s.rangeHigh = v
		}
		if v < s.rangeLow {
			s.rangeLow = v
		}
	}
	if s.rangeLow <= 0 {
		return
	}
	rangePct := (s.rangeHigh - s.rangeLow) / s.rangeLow * 100
	if rangePct < 0.2 {
		s.consolidationPeriods++
	} else {
		s.consolidationPeriods = 0
	}
}

func (s *breakoutRange) Features() []Feature {
	rangePct := 0.0
	if s.rangeLow > 0 {
		rangePct = (s.rangeHigh - s.rangeLow) / s.rangeLow * 100
	}
	return []Feature{
		{"Range High", fmt.Sprintf("%.2f", s.rangeHigh)},
		{"Range Low", fmt.Sprintf("%.2f", s.rangeLow)},
		{"Range %", fmt.Sprintf("%.2f%%", rangePct)},
		{"Consolidation", fmt.Sprintf("%d", s.consolidationPeriods)},
	}
}

func (s *breakoutRange) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.updateRange()
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if s.consolidationPeriods >= 3 && s.canEmit(state, event.EventTimeMs) {
		if price > s.rangeHigh*1.0001 {
			opps = append(opps, buyOpportunity("breakout_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.85, 0.4, fmt.Sprintf("bullish breakout after %d periods consolidation", s.consolidationPeriods)))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
			s.consolidationPeriods = 0
		} else if price < s.rangeLow*0.9999 {
			opps = append(opps, sellOpportunity("breakout_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.45, fmt.Sprintf("bearish breakdown after %d periods consolidation", s.consolidationPeriods)))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
			s.consolidationPeriods = 0
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *breakoutRange) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *breakoutRange) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// momentumBreakout sizes entries by an ATR-like measure of recent price
// velocity and volume surge, grounded on momentum_breakout.rs.
type momentumBreakout struct {
	base
	prices, volumes []float64
	atr             float64
}

func newMomentumBreakout() *momentumBreakout {
	return &momentumBreakout{base: newBase("MomentumBreakout", 60 * time.Second)}
}

func (s *momentumBreakout) calcATR() float64 {
	if len(s.prices) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(s.prices); i++ {
		sum += absf(s.prices[i] - s.prices[i-1])
	}
	return sum / float64(len(s.prices)-1)
}

func (s *momentumBreakout) calcMomentum() float64 {
	const window = 20
	if len(s.prices) < window {
		return 0
	}
	old := s.prices[len(s.prices)-window]
	cur := s.prices[len(s.prices)-1]
	if old == 0 {
		return 0
	}
	return (cur - old) / old * 100
}

func (s *momentumBreakout) calcVolumeSurge() float64 {
	if len(s.volumes) < 10 {
		return 1
	}
	var recentSum, totalSum float64
	n := len(s.volumes)
	for i := n - 3; i < n; i++ {
		recentSum += s.volumes[i]
	}
	for _, v := range s.volumes {
		totalSum += v
	}
	avg := totalSum / float64(n)
	if avg == 0 {
		return 1
	}
	return (recentSum / 3) / avg
}

func (s *momentumBreakout) Features() []Feature {
	return []Feature{
		{"Momentum", fmt.Sprintf("%.2f%%", s.calcMomentum())},
		{"ATR", fmt.Sprintf("%.2f", s.atr)},
		{"Vol Surge", fmt.Sprintf("%.2fx", s.calcVolumeSurge())},
	}
}

func (s *momentumBreakout) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
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
	s.atr = s.calcATR()
	momentum := s.calcMomentum()
	volumeSurge := s.calcVolumeSurge()

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) && len(s.prices) >= 20 {
		if momentum > 0.2 && volumeSurge > 1.1 {
			atrFrac := s.atr
			if atrFrac < 0.0001 {
				atrFrac = 0.0001
			}
			size := 0.001 * (1.0 / (atrFrac / price))
			size = min(max(size, 0.0001), 0.01)
			entryPrice := price * 1.0001
			score := min(momentum/2+volumeSurge/3, 0.95)
			risk := min(s.atr/price*100, 1.0)
			opps = append(opps, buyOpportunity("momentum_buy", event.Symbol, event.EventTimeMs, entryPrice, size, score, risk, fmt.Sprintf("momentum breakout: %.2f%% velocity, %.1fx volume", momentum, volumeSurge)))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		}
		if momentum < -0.3 && len(s.prices) > 10 {
			recentHigh := 0.0
			n := len(s.prices)
			for i := n - 10; i < n; i++ {
				if s.prices[i] > recentHigh {
					recentHigh = s.prices[i]
				}
			}
			if price < recentHigh*0.998 {
				exitPrice := price * 0.9999
				score := min(absf(momentum)/2, 0.75)
				opps = append(opps, sellOpportunity("momentum_sell", event.Symbol, event.EventTimeMs, exitPrice, 0.001, score, 0.3, fmt.Sprintf("momentum reversal detected: %.2f%% decline", momentum)))
				action = "Sell"
				s.markSignaled(event.EventTimeMs)
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *momentumBreakout) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.OnTrade(&types.TradeEvent{
		EventTimeMs: event.EventTimeMs,
		Symbol:      event.Symbol,
		PriceStr:    event.PriceStr,
		QtyStr:      event.QtyStr,
	}, state)
}

func (s *momentumBreakout) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// volatilityBreakout enters on a break above a 10-sample range plus 1%,
// then exits on a fixed take-profit/stop-loss band, grounded on
// volatility_breakout.rs.
type volatilityBreakout struct {
	base
	prices      []float64
	inPosition  bool
	entryPrice  float64
}

func newVolatilityBreakout() *volatilityBreakout {
	return &volatilityBreakout{base: newBase("VolatilityBreakout", 0)}
}

func (s *volatilityBreakout) getRange() (high, low float64) {
	if len(s.prices) < 10 {
		return 0, 0
	}
	recent := s.prices[len(s.prices)-10:]
	high, low = recent[0], recent[0]
	for _, v := range recent {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return
}

func (s *volatilityBreakout) Features() []Feature {
	high, low := s.getRange()
	return []Feature{
		{"Range High", fmt.Sprintf("%.2f", high)},
		{"Range Low", fmt.Sprintf("%.2f", low)},
		{"Volatility", fmt.Sprintf("%.2f", high-low)},
		{"In Position", fmt.Sprintf("%v", s.inPosition)},
	}
}

func (s *volatilityBreakout) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	high, low := s.getRange()
	s.prices = append(s.prices, price)
	if len(s.prices) > 30 {
		s.prices = s.prices[1:]
	}

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		rng := high - low
		if rng > 0 {
			if !s.inPosition && price > high+rng*0.01 {
				s.inPosition = true
				s.entryPrice = price
				opps = append(opps, buyOpportunity("vb_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.4, fmt.Sprintf("breakout above %.2f (+1%% range)", high)))
				action = "Buy"
			}
			if s.inPosition {
				pnlPct := (price - s.entryPrice) / s.entryPrice * 100
				if pnlPct > 0.2 || pnlPct < -0.1 {
					s.inPosition = false
					opps = append(opps, sellOpportunity("vb_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.3, fmt.Sprintf("exit: PnL=%.2f%%", pnlPct)))
					action = "Sell"
				}
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *volatilityBreakout) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.OnTrade(&types.TradeEvent{EventTimeMs: event.EventTimeMs, Symbol: event.Symbol, PriceStr: event.PriceStr, QtyStr: event.QtyStr}, state)
}

func (s *volatilityBreakout) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// ichimokuCloud trades Tenkan(9)/Kijun(26) line crossovers, a
// simplified read of the Ichimoku system, grounded on ichimoku_cloud.rs.
type ichimokuCloud struct {
	base
	ring           priceRing
	tenkan, kijun  float64
}

func newIchimokuCloud() *ichimokuCloud {
	return &ichimokuCloud{base: newBase("IchimokuCloud", 60 * time.Second), ring: newPriceRing(100)}
}

func (s *ichimokuCloud) nPeriodMid(n int) float64 {
	if s.ring.len() < n {
		return 0
	}
	window := s.ring.last(n)
	high, low := window[0], window[0]
	for _, v := range window {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return (high + low) / 2
}

func (s *ichimokuCloud) Features() []Feature {
	return []Feature{
		{"Tenkan", fmt.Sprintf("%.2f", s.tenkan)},
		{"Kijun", fmt.Sprintf("%.2f", s.kijun)},
		{"TK Gap", fmt.Sprintf("%.2f", s.tenkan-s.kijun)},
	}
}

func (s *ichimokuCloud) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	prevTenkan, prevKijun := s.tenkan, s.kijun
	s.tenkan = s.nPeriodMid(9)
	s.kijun = s.nPeriodMid(26)

	var opps []types.Opportunity
	action := ""
	if prevKijun > 0 && s.canEmit(state, event.EventTimeMs) {
		if prevTenkan <= prevKijun && s.tenkan > s.kijun {
			opps = append(opps, buyOpportunity("ichimoku_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.3, "Tenkan-Kijun bullish cross"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if prevTenkan >= prevKijun && s.tenkan < s.kijun {
			opps = append(opps, sellOpportunity("ichimoku_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.3, "Tenkan-Kijun bearish cross"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *ichimokuCloud) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *ichimokuCloud) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// parabolicSAR tracks a simplified Wilder parabolic stop-and-reverse
// using each trade price as both the bar high and low, grounded on
// parabolic_sar.rs.
type parabolicSAR struct {
	base
	sar, ep, af       float64
	afInit, afMax     float64
	isLong            bool
}

func newParabolicSAR() *parabolicSAR {
	return &parabolicSAR{base: newBase("ParabolicSAR", 0), af: 0.02, afInit: 0.02, afMax: 0.2, isLong: true}
}

func (s *parabolicSAR) update(high, low float64) {
	if s.sar == 0 {
		s.sar = low
		s.ep = high
		return
	}
	prevSAR := s.sar
	s.sar = prevSAR + s.af*(s.ep-prevSAR)

	if s.isLong {
		if low < s.sar {
			s.isLong = false
			s.sar = s.ep
			s.ep = low
			s.af = s.afInit
		} else if high > s.ep {
			s.ep = high
			s.af = min(s.af+s.afInit, s.afMax)
		}
	} else {
		if high > s.sar {
			s.isLong = true
			s.sar = s.ep
			s.ep = high
			s.af = s.afInit
		} else if low < s.ep {
			s.ep = low
			s.af = min(s.af+s.afInit, s.afMax)
		}
	}
}

func (s *parabolicSAR) Features() []Feature {
	trend := "Bearish"
	if s.isLong {
		trend = "Bullish"
	}
	return []Feature{{"SAR", fmt.Sprintf("%.2f", s.sar)}, {"Trend", trend}, {"AF", fmt.Sprintf("%.3f", s.af)}}
}

func (s *parabolicSAR) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.update(price, price)

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		if s.isLong && price > s.sar*1.001 {
			opps = append(opps, buyOpportunity("sar_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.4, "SAR bullish flip"))
			action = "Buy"
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *parabolicSAR) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	price := types.ParsePriceOrZero(event.PriceStr)
	s.update(price, price)
	return nil
}

func (s *parabolicSAR) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}
