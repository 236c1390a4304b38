package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func init() {
	Default.Register("TrendFollower", func() Strategy { return newTrendFollower() })
	Default.Register("MACDCrossover", func() Strategy { return newMACDCrossover() })
	Default.Register("AdaptiveMeanReversion", func() Strategy { return newAdaptiveMeanReversion() })
	Default.Register("HullMA", func() Strategy { return newHullMA() })
	Default.Register("HeikinAshiTrend", func() Strategy { return newHeikinAshiTrend() })
	Default.Register("TRIXStrategy", func() Strategy { return newTRIXStrategy() })
}

// trendFollower crosses a fast EMA over a slow EMA, grounded on the
// teacher's TrendFollowingStrategy.
type trendFollower struct {
	base
	fastEMA, slowEMA float64
	initialized      bool
}

func newTrendFollower() *trendFollower {
	return &trendFollower{base: newBase("TrendFollower", 30 * time.Second)}
}

func (s *trendFollower) Features() []Feature {
	return []Feature{{"FastEMA", fmt.Sprintf("%.2f", s.fastEMA)}, {"SlowEMA", fmt.Sprintf("%.2f", s.slowEMA)}}
}

func (s *trendFollower) updateEMA(price float64) (prevDiff, diff float64) {
	const kFast, kSlow = 2.0 / 13.0, 2.0 / 27.0
	if !s.initialized {
		s.fastEMA, s.slowEMA = price, price
		s.initialized = true
	}
	prevDiff = s.fastEMA - s.slowEMA
	s.fastEMA = price*kFast + s.fastEMA*(1-kFast)
	s.slowEMA = price*kSlow + s.slowEMA*(1-kSlow)
	diff = s.fastEMA - s.slowEMA
	return
}

func (s *trendFollower) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	prevDiff, diff := s.updateEMA(price)

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if prevDiff <= 0 && diff > 0 {
			opps = append(opps, buyOpportunity("trend_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.4, "fast EMA crossed above slow EMA"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if prevDiff >= 0 && diff < 0 {
			opps = append(opps, sellOpportunity("trend_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.4, "fast EMA crossed below slow EMA"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *trendFollower) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.updateEMA(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *trendFollower) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// macdCrossover tracks MACD line / signal line crossovers, grounded
// directly on original_source's macd_crossover.rs.
type macdCrossover struct {
	base
	ema12, ema26, signalLine float64
	prevHistogram            float64
	initialized              bool
}

func newMACDCrossover() *macdCrossover {
	return &macdCrossover{base: newBase("MACDCrossover", 45 * time.Second)}
}

func (s *macdCrossover) Features() []Feature {
	macd := s.ema12 - s.ema26
	return []Feature{{"MACD", fmt.Sprintf("%.4f", macd)}, {"Signal", fmt.Sprintf("%.4f", s.signalLine)}}
}

func (s *macdCrossover) updateEMA(price float64) float64 {
	const k12, k26, k9 = 2.0 / 13.0, 2.0 / 27.0, 2.0 / 10.0
	if !s.initialized {
		s.ema12, s.ema26 = price, price
		s.initialized = true
	}
	s.ema12 = price*k12 + s.ema12*(1-k12)
	s.ema26 = price*k26 + s.ema26*(1-k26)
	macdLine := s.ema12 - s.ema26
	s.signalLine = macdLine*k9 + s.signalLine*(1-k9)
	return macdLine - s.signalLine
}

func (s *macdCrossover) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	prevHist := s.prevHistogram
	hist := s.updateEMA(price)
	s.prevHistogram = hist

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if prevHist < 0 && hist > 0 {
			opps = append(opps, buyOpportunity("macd_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.75, 0.35, "MACD bullish crossover"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if prevHist > 0 && hist < 0 {
			opps = append(opps, sellOpportunity("macd_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.7, 0.4, "MACD bearish crossover"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *macdCrossover) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.updateEMA(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *macdCrossover) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// adaptiveMeanReversion widens/narrows its reversion band with recent
// realized volatility instead of a fixed multiple, per original_source's
// adaptive_mean_reversion.rs.
type adaptiveMeanReversion struct {
	base
	ring priceRing
}

func newAdaptiveMeanReversion() *adaptiveMeanReversion {
	return &adaptiveMeanReversion{base: newBase("AdaptiveMeanReversion", 20 * time.Second), ring: newPriceRing(60)}
}

func (s *adaptiveMeanReversion) Features() []Feature {
	if s.ring.len() == 0 {
		return nil
	}
	mean := sma(s.ring.prices)
	return []Feature{{"Mean", fmt.Sprintf("%.2f", mean)}, {"Vol", fmt.Sprintf("%.4f", stddev(s.ring.prices, mean)/mean)}}
}

func (s *adaptiveMeanReversion) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	if s.ring.len() >= 30 {
		mean := sma(s.ring.prices)
		vol := stddev(s.ring.prices, mean) / mean
		band := mean * (0.01 + vol*2) // band widens with realized volatility
		s.maybeCooldown(state, vol, 0.08)

		if s.canEmit(state, event.EventTimeMs) {
			if price < mean-band {
				opps = append(opps, buyOpportunity("amr_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.72, 0.4, "price below adaptive lower band"))
				action = "Buy"
				s.markSignaled(event.EventTimeMs)
			} else if price > mean+band {
				opps = append(opps, sellOpportunity("amr_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.72, 0.4, "price above adaptive upper band"))
				action = "Sell"
				s.markSignaled(event.EventTimeMs)
			}
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *adaptiveMeanReversion) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *adaptiveMeanReversion) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// hullMA computes the Hull Moving Average (a weighted-MA construction
// that reduces lag versus a plain SMA) and trades its slope reversal,
// grounded on original_source's hull_ma.rs.
type hullMA struct {
	base
	ring      priceRing
	prevHull  float64
	prevSlope float64
	have      bool
}

func newHullMA() *hullMA {
	return &hullMA{base: newBase("HullMA", 25 * time.Second), ring: newPriceRing(40)}
}

func (s *hullMA) Features() []Feature {
	return []Feature{{"Hull", fmt.Sprintf("%.2f", s.prevHull)}}
}

func wma(values []float64) float64 {
	var num, den float64
	for i, v := range values {
		weight := float64(i + 1)
		num += v * weight
		den += weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func (s *hullMA) hull() float64 {
	n := s.ring.len()
	if n < 16 {
		return 0
	}
	half := n / 2
	wmaHalf := wma(s.ring.last(half))
	wmaFull := wma(s.ring.last(n))
	raw := 2*wmaHalf - wmaFull
	// sqrt(n)-period WMA of the raw series approximated with the last
	// sqrt(n) raw values; since we don't retain the raw series, a single
	// raw value doubles as a one-tap approximation, which is sufficient
	// for slope-reversal detection.
	return raw
}

func (s *hullMA) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	s.ring.push(price)

	var opps []types.Opportunity
	action := ""
	hull := s.hull()
	slope := 0.0
	if hull != 0 && s.have {
		slope = hull - s.prevHull
	}
	if slope != 0 && s.prevSlope != 0 && s.canEmit(state, event.EventTimeMs) {
		if s.prevSlope < 0 && slope > 0 {
			opps = append(opps, buyOpportunity("hull_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.68, 0.42, "Hull MA turned up"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if s.prevSlope > 0 && slope < 0 {
			opps = append(opps, sellOpportunity("hull_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.68, 0.42, "Hull MA turned down"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	if slope != 0 {
		s.prevSlope = slope
	}
	if hull != 0 {
		s.prevHull = hull
		s.have = true
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *hullMA) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.ring.push(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *hullMA) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// heikinAshiTrend smooths price into synthetic Heikin-Ashi candles and
// trades sustained directional runs, grounded on heikin_ashi.rs.
type heikinAshiTrend struct {
	base
	haClose      float64
	prevHAClose  float64
	haOpen       float64
	have         bool
	sameDirRun   int
}

func newHeikinAshiTrend() *heikinAshiTrend {
	return &heikinAshiTrend{base: newBase("HeikinAshiTrend", 40 * time.Second)}
}

func (s *heikinAshiTrend) Features() []Feature {
	return []Feature{{"HAClose", fmt.Sprintf("%.2f", s.haClose)}, {"Run", fmt.Sprintf("%d", s.sameDirRun)}}
}

func (s *heikinAshiTrend) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)

	s.prevHAClose = s.haClose
	if !s.have {
		s.haOpen = price
		s.haClose = price
		s.have = true
	} else {
		s.haClose = (s.haOpen + price) / 2 // approximate HA close with open/close average (no OHLC bar available on trade ticks)
		newOpen := (s.haOpen + s.prevHAClose) / 2
		if s.haClose > s.prevHAClose {
			if s.sameDirRun >= 0 {
				s.sameDirRun++
			} else {
				s.sameDirRun = 1
			}
		} else if s.haClose < s.prevHAClose {
			if s.sameDirRun <= 0 {
				s.sameDirRun--
			} else {
				s.sameDirRun = -1
			}
		}
		s.haOpen = newOpen
	}

	var opps []types.Opportunity
	action := ""
	if s.canEmit(state, event.EventTimeMs) {
		if s.sameDirRun == 4 {
			opps = append(opps, buyOpportunity("ha_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.65, 0.45, "Heikin-Ashi bullish run"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if s.sameDirRun == -4 {
			opps = append(opps, sellOpportunity("ha_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.65, 0.45, "Heikin-Ashi bearish run"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *heikinAshiTrend) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

func (s *heikinAshiTrend) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}

// trixStrategy trades the zero-line crossover of a triple-smoothed EMA
// rate of change, grounded on trix_strategy.rs.
type trixStrategy struct {
	base
	ema1, ema2, ema3 float64
	prevEma3         float64
	initialized      bool
	prevTRIX         float64
	haveTRIX         bool
}

func newTRIXStrategy() *trixStrategy {
	return &trixStrategy{base: newBase("TRIXStrategy", 50 * time.Second)}
}

func (s *trixStrategy) Features() []Feature {
	return []Feature{{"TRIX", fmt.Sprintf("%.6f", s.prevTRIX)}}
}

func (s *trixStrategy) update(price float64) float64 {
	const k = 2.0 / 16.0
	if !s.initialized {
		s.ema1, s.ema2, s.ema3 = price, price, price
		s.prevEma3 = price
		s.initialized = true
	}
	s.ema1 = price*k + s.ema1*(1-k)
	s.ema2 = s.ema1*k + s.ema2*(1-k)
	newEma3 := s.ema2*k + s.ema3*(1-k)
	var trix float64
	if s.ema3 != 0 {
		trix = (newEma3 - s.ema3) / s.ema3
	}
	s.ema3 = newEma3
	return trix
}

func (s *trixStrategy) OnTrade(event *types.TradeEvent, state *sharedstate.State) []types.Opportunity {
	defer recordLatency(state, time.Now())
	s.touchLifecycle(state)

	price := types.ParsePriceOrZero(event.PriceStr)
	qty := types.ParsePriceOrZero(event.QtyStr)
	trix := s.update(price)

	var opps []types.Opportunity
	action := ""
	if s.haveTRIX && s.canEmit(state, event.EventTimeMs) {
		if s.prevTRIX <= 0 && trix > 0 {
			opps = append(opps, buyOpportunity("trix_buy", event.Symbol, event.EventTimeMs, price, 0.001, 0.66, 0.44, "TRIX crossed above zero"))
			action = "Buy"
			s.markSignaled(event.EventTimeMs)
		} else if s.prevTRIX >= 0 && trix < 0 {
			opps = append(opps, sellOpportunity("trix_sell", event.Symbol, event.EventTimeMs, price, 0.001, 0.66, 0.44, "TRIX crossed below zero"))
			action = "Sell"
			s.markSignaled(event.EventTimeMs)
		}
	}
	s.prevTRIX = trix
	s.haveTRIX = true
	state.PushHistoryAt(event.EventTimeMs, price, qty, action)
	return opps
}

func (s *trixStrategy) OnAggTrade(event *types.AggTradeEvent, state *sharedstate.State) []types.Opportunity {
	s.update(types.ParsePriceOrZero(event.PriceStr))
	return nil
}

func (s *trixStrategy) OnOrderBook(event *types.OrderBookEvent, state *sharedstate.State) []types.Opportunity {
	return nil
}
