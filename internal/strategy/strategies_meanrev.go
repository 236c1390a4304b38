package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func init() {
	Default.Register("MeanReversion", func() Strategy { return newMeanReversion() })
	Default.Register("RSIStrategy", func() Strategy { return newRSIStrategy() })
	Default.Register("StochasticOscillator", func() Strategy { return newStochasticOscillator() })
	Default.Register("VWAPStrategy", func() Strategy { return newVWAPStrategy() })
	Default.Register("BBSqueeze", func() Strategy { return newBBSqueeze() })
	Default.Register("FibonacciReversion", func() Strategy { return newFibonacciReversion() })
}

// meanReversion buys a one-standard-deviation dip and sells a
// one-standard-deviation spike over a 20-sample window, grounded on
// mean_reversion.rs.
type meanReversion struct {
	base
	ring        priceRing
	lastSpread  float64
}

func newMeanReversion() *meanReversion {
	return &meanReversion{base: newBase("MeanReversion", 0), ring: newPriceRing(20)}
}

func (s *meanReversion) Features() []Feature {
	if s.ring.len() == 0 {
		return []Feature{{"Mean", "0.00"}, {"StdDev", "0.0000"}}
	}
	mean := sma(s.ring.prices)
	return []Feature{
		{"Mean", fmt.Sprintf("%.2f", mean)},
		{"StdDev", fmt.Sprintf("%.4f", stddev(s.ring.prices, mean))},
		{"Spread", fmt.Sprintf("%.4f", s.lastSpread)},
	}
}

func (s *meanReversion) handle(symbol string, price, qty float64, eventTimeMs int64, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading && s.ring.len() >= 10 {
		mean := sma(s.ring.prices)
		dev := stddev(s.ring.prices, mean)
		if price < mean-dev {
			opps = append(opps, buyOpportunity("mr_buy", symbol, eventTimeMs, price, 0.001, 0.8, 0.3, fmt.Sprintf("price is %.2f below mean", mean-price)))
			action = "Buy"
		}
		if price > mean+dev {
			opps = append(opps, sellOpportunity("mr_sell", symbol, eventTimeMs, price, 0.001, 0.8, 0.3, fmt.Sprintf("price is %.2f above mean", price-mean)))
			action = "Sell"
		}
	}
	state.PushHistoryAt(eventTimeMs, price, qty, action)
	return opps
}

func (s *meanReversion) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *meanReversion) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return s.handle(event.Symbol, types.ParsePriceOrZero(event.PriceStr), types.ParsePriceOrZero(event.QtyStr), event.EventTimeMs, state)
}

func (s *meanReversion) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)
	if len(event.Bids) > 0 && len(event.Asks) > 0 {
		bid := types.ParsePriceOrZero(event.Bids[0].Price)
		ask := types.ParsePriceOrZero(event.Asks[0].Price)
		s.lastSpread = ask - bid
		mid := (bid + ask) / 2
		state.PushHistoryAt(int64(event.LastUpdateID), mid, 0, "")
	}
	return nil
}

// rsiStrategy trades classic RSI(14) oversold/overbought extremes,
// grounded on rsi_strategy.rs.
type rsiStrategy struct {
	base
	ring priceRing
}

func newRSIStrategy() *rsiStrategy {
	return &rsiStrategy{base: newBase("RSIStrategy", 0), ring: newPriceRing(50)}
}

func (s *rsiStrategy) rsi() (float64, bool) {
	const period = 14
	if s.ring.len() < period+1 {
		return 0, false
	}
	prices := s.ring.last(period + 1)
	var gains, losses float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains += d
		} else {
			losses += -d
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

func (s *rsiStrategy) Features() []Feature {
	rsi, ok := s.rsi()
	if !ok {
		rsi = 50
	}
	return []Feature{{"RSI", fmt.Sprintf("%.1f", rsi)}}
}

func (s *rsiStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if state.StateMachine().State() == types.StateTrading {
		if rsi, ok := s.rsi(); ok {
			if rsi < 30 {
				opps = append(opps, buyOpportunity("rsi_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.3, fmt.Sprintf("RSI=%.1f (oversold)", rsi)))
				action = "Buy"
			}
			if rsi > 70 {
				opps = append(opps, sellOpportunity("rsi_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.3, fmt.Sprintf("RSI=%.1f (overbought)", rsi)))
				action = "Sell"
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *rsiStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *rsiStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// stochasticOscillator trades %K(14) extremes below 20 / above 80,
// grounded on stochastic_oscillator.rs.
type stochasticOscillator struct {
	base
	ring    priceRing
	kValues []float64
}

func newStochasticOscillator() *stochasticOscillator {
	return &stochasticOscillator{base: newBase("StochasticOscillator", 60 * time.Second), ring: newPriceRing(50)}
}

func (s *stochasticOscillator) kd() (k, d float64, ok bool) {
	const kPeriod, dPeriod = 14, 3
	if s.ring.len() < kPeriod {
		return 0, 0, false
	}
	window := s.ring.last(kPeriod)
	high, low := window[0], window[0]
	for _, v := range window {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	current := window[len(window)-1]
	if high == low {
		return 50, 50, true
	}
	k = (current - low) / (high - low) * 100
	if len(s.kValues) < dPeriod {
		return k, 50, true
	}
	return k, sma(s.kValues), true
}

func (s *stochasticOscillator) Features() []Feature {
	k, d, ok := s.kd()
	if !ok {
		k, d = 0, 0
	}
	return []Feature{{"%K", fmt.Sprintf("%.1f", k)}, {"%D", fmt.Sprintf("%.1f", d)}}
}

func (s *stochasticOscillator) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if k, _, ok := s.kd(); ok {
		s.kValues = append(s.kValues, k)
		if len(s.kValues) > 3 {
			s.kValues = s.kValues[1:]
		}
		if s.canEmit(state, event.EventTimeMs) {
			if k < 20 {
				opps = append(opps, buyOpportunity("stoch_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.75, 0.3, fmt.Sprintf("Stochastic oversold: %%K=%.1f", k)))
				action = "Buy"
				s.markSignaled(event.EventTimeMs)
			} else if k > 80 {
				opps = append(opps, sellOpportunity("stoch_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.75, 0.3, fmt.Sprintf("Stochastic overbought: %%K=%.1f", k)))
				action = "Sell"
				s.markSignaled(event.EventTimeMs)
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *stochasticOscillator) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *stochasticOscillator) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// vwapStrategy trades reversions to a rolling volume-weighted average
// price, grounded on vwap_strategy.rs.
type vwapStrategy struct {
	base
	prices, volumes []float64
	vwap            float64
}

func newVWAPStrategy() *vwapStrategy {
	return &vwapStrategy{base: newBase("VWAPStrategy", 30 * time.Second)}
}

func (s *vwapStrategy) Features() []Feature {
	return []Feature{{"VWAP", fmt.Sprintf("%.2f", s.vwap)}, {"Samples", fmt.Sprintf("%d", len(s.prices))}}
}

func (s *vwapStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)

	s.prices = append(s.prices, price)
	s.volumes = append(s.volumes, qty)
	if len(s.prices) > 100 {
		s.prices = s.prices[1:]
		s.volumes = s.volumes[1:]
	}

	var pvSum, vSum float64
	for i := range s.prices {
		pvSum += s.prices[i] * s.volumes[i]
		vSum += s.volumes[i]
	}
	if vSum > 0 {
		s.vwap = pvSum / vSum
	}

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) && s.vwap > 0 {
		deviation := (price - s.vwap) / s.vwap * 100
		if deviation < -0.1 {
			score := min(absf(deviation)/0.5, 0.9)
			opps = append(opps, buyOpportunity("vwap_buy", event.Symbol, event.EventTimeMs, price, 0.001, score, 0.3, fmt.Sprintf("below VWAP by %.3f%%", absf(deviation))))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if deviation > 0.1 {
			score := min(deviation/0.5, 0.85)
			opps = append(opps, sellOpportunity("vwap_sell", event.Symbol, event.EventTimeMs, price, 0.001, score, 0.35, fmt.Sprintf("above VWAP by %.3f%%", deviation)))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *vwapStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.prices = append(s.prices, types.ParsePriceOrZero(event.PriceStr))
	s.volumes = append(s.volumes, types.ParsePriceOrZero(event.QtyStr))
	if len(s.prices) > 100 {
		s.prices = s.prices[1:]
		s.volumes = s.volumes[1:]
	}
	return nil
}

func (s *vwapStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// bbSqueeze trades a close outside the 20-sample Bollinger bands
// (2 standard deviations) while no Bollinger-inside-Keltner squeeze
// holds, grounded on bb_squeeze.rs. The Keltner width reuses the same
// standard deviation as its ATR at 1.5x, so the bands never sit inside
// it: the squeeze flag is always false, and no earlier squeeze is
// required before a signal.
type bbSqueeze struct {
	base
	ring priceRing
}

func newBBSqueeze() *bbSqueeze {
	return &bbSqueeze{base: newBase("BBSqueeze", 60 * time.Second), ring: newPriceRing(50)}
}

func (s *bbSqueeze) metrics() (upper, lower, smaV float64, squeeze, ok bool) {
	const period = 20
	if s.ring.len() < period {
		return 0, 0, 0, false, false
	}
	window := s.ring.last(period)
	smaV = sma(window)
	dev := stddev(window, smaV)
	upper = smaV + dev*2.0
	lower = smaV - dev*2.0
	atr := dev
	const kcMult = 1.5
	kcUpper := smaV + atr*kcMult
	kcLower := smaV - atr*kcMult
	squeeze = upper < kcUpper && lower > kcLower
	return upper, lower, smaV, squeeze, true
}

func (s *bbSqueeze) Features() []Feature {
	upper, lower, _, squeeze, ok := s.metrics()
	if !ok {
		return []Feature{{"Squeeze", "false"}, {"BB Width", "0.00"}}
	}
	return []Feature{{"Squeeze", fmt.Sprintf("%v", squeeze)}, {"BB Width", fmt.Sprintf("%.2f", upper-lower)}}
}

func (s *bbSqueeze) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if upper, lower, _, squeeze, ok := s.metrics(); ok && s.canEmit(state, event.EventTimeMs) {
		if !squeeze && price > upper {
			opps = append(opps, buyOpportunity("bb_squeeze_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.4, "BB squeeze release bullish"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if !squeeze && price < lower {
			opps = append(opps, sellOpportunity("bb_squeeze_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.4, "BB squeeze release bearish"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *bbSqueeze) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *bbSqueeze) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// fibonacciReversion buys support near a 61.8% Fibonacci retracement
// over a 50-sample swing range, grounded on fibonacci_reversion.rs.
type fibonacciReversion struct {
	base
	ring priceRing
}

func newFibonacciReversion() *fibonacciReversion {
	return &fibonacciReversion{base: newBase("FibonacciReversion", 120 * time.Second), ring: newPriceRing(100)}
}

func (s *fibonacciReversion) levels() (high, low, fib618 float64, ok bool) {
	const period = 50
	if s.ring.len() < period {
		return 0, 0, 0, false
	}
	window := s.ring.last(period)
	high, low = window[0], window[0]
	for _, v := range window {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	rng := high - low
	fib618 = high - rng*0.618
	return high, low, fib618, true
}

func (s *fibonacciReversion) Features() []Feature {
	high, low, fib618, ok := s.levels()
	if !ok {
		return []Feature{{"High", "0.00"}, {"Low", "0.00"}, {"Fib 0.618", "0.00"}}
	}
	return []Feature{{"High", fmt.Sprintf("%.2f", high)}, {"Low", fmt.Sprintf("%.2f", low)}, {"Fib 0.618", fmt.Sprintf("%.2f", fib618)}}
}

func (s *fibonacciReversion) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if _, low, fib618, ok := s.levels(); ok && s.canEmit(state, event.EventTimeMs) {
		if price > 0 && absf(price-fib618)/price < 0.001 && price > low {
			opps = append(opps, buyOpportunity("fib_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.8, 0.3, fmt.Sprintf("Fib 0.618 retracement support: %.2f", fib618)))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *fibonacciReversion) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *fibonacciReversion) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
