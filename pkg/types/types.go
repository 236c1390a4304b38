// Package types holds the domain model shared by every layer of the
// trading engine: market events as they arrive off the wire, the
// signals/opportunities strategies emit, and the records persisted or
// reported back out.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketType distinguishes spot trading from derivatives (futures) trading.
type MarketType string

const (
	MarketTypeSpot    MarketType = "SPOT"
	MarketTypeFutures MarketType = "FUTURES"
)

// EventKind tags which variant of MarketEvent is populated.
type EventKind string

const (
	EventTrade       EventKind = "trade"
	EventAggTrade    EventKind = "aggTrade"
	EventOrderBook   EventKind = "orderBook"
	EventDepthUpdate EventKind = "depthUpdate"
)

// PriceLevel is a single (price, quantity) rung of an order book, carried
// as decimal strings exactly as they arrive off the wire.
type PriceLevel struct {
	Price    string
	Quantity string
}

// MarketEvent is a tagged union of the four event shapes the ingest side
// produces. Exactly one of the per-kind fields is populated, selected by
// Kind. Prices and quantities are kept as decimal strings here and parsed
// lazily to float64 at the point of use (see ParsePriceOrZero) — this
// avoids binary floating loss on the wire at the cost of a parse on the
// hot path, matching the upstream exchange's own wire format.
type MarketEvent struct {
	Kind EventKind

	Trade     *TradeEvent
	AggTrade  *AggTradeEvent
	OrderBook *OrderBookEvent
	Depth     *DepthUpdateEvent
}

type TradeEvent struct {
	EventTimeMs   int64
	Symbol        string
	TradeID       int64
	PriceStr      string
	QtyStr        string
	BuyerOrderID  int64
	SellerOrderID int64
	IsBuyerMaker  bool
}

type AggTradeEvent struct {
	EventTimeMs  int64
	Symbol       string
	AggTradeID   int64
	PriceStr     string
	QtyStr       string
	FirstTradeID int64
	LastTradeID  int64
	IsBuyerMaker bool
}

type OrderBookEvent struct {
	LastUpdateID int64
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthUpdateEvent is carried through the pipeline but always passes the
// quality filter untouched and never drives opportunities.
type DepthUpdateEvent struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
}

// EventTimeMs returns the key for an event's history-ring entry, never
// wall clock: the event's own timestamp for trades and agg trades, and
// LastUpdateID for an order book, which carries no timestamp.
func (e *MarketEvent) EventTimeMs() int64 {
	switch e.Kind {
	case EventTrade:
		return e.Trade.EventTimeMs
	case EventAggTrade:
		return e.AggTrade.EventTimeMs
	case EventOrderBook:
		return int64(e.OrderBook.LastUpdateID)
	default:
		return 0
	}
}

func (e *MarketEvent) Symbol() string {
	switch e.Kind {
	case EventTrade:
		return e.Trade.Symbol
	case EventAggTrade:
		return e.AggTrade.Symbol
	case EventOrderBook:
		return e.OrderBook.Symbol
	case EventDepthUpdate:
		return e.Depth.Symbol
	default:
		return ""
	}
}

// ParsePriceOrZero parses a decimal-string price/quantity to float64,
// silently falling back to 0.0 on any parse failure. The fallback is
// preserved for wire compatibility with upstream producers that
// occasionally emit malformed decimal strings; callers that care should
// log when the result is exactly 0.0 for a nonzero input string.
func ParsePriceOrZero(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0.0
	}
	f, _ := d.Float64()
	return f
}

// SignalKind tags which variant of Signal is populated.
type SignalKind string

const (
	SignalBuy    SignalKind = "buy"
	SignalSell   SignalKind = "sell"
	SignalCancel SignalKind = "cancel"
)

// Signal is the concrete intention extracted from an Opportunity.
type Signal struct {
	Kind SignalKind

	Symbol   string
	Price    *float64 // price hint; nil when unknown
	Quantity float64

	OrderID int64 // only meaningful for SignalCancel
}

// Opportunity is a strategy-emitted candidate order with scoring metadata.
// Score and RiskScore are bounded to [0,1]; ID is unique within one
// strategy invocation.
type Opportunity struct {
	ID          string
	Signal      Signal
	Score       float64
	RiskScore   float64
	Reason      string
	TimestampMs int64
}

// RiskReport summarizes portfolio-level risk computed by the risk manager.
type RiskReport struct {
	TotalRisk          float64
	LeverageRisk       float64
	DrawdownWarning    bool
	RecommendedMaxSize float64
}

// SystemState is the 5-state lifecycle a strategy (or the coordinator
// acting on its behalf) drives the state machine through.
type SystemState int

const (
	StateBooting SystemState = iota
	StateAccumulating
	StateAnalyzing
	StateTrading
	StateCooldown
)

var allStates = []SystemState{StateBooting, StateAccumulating, StateAnalyzing, StateTrading, StateCooldown}

// AllStates returns the fixed, stably-indexed set of system states.
func AllStates() []SystemState { return allStates }

func (s SystemState) String() string {
	switch s {
	case StateBooting:
		return "Booting"
	case StateAccumulating:
		return "Accumulating"
	case StateAnalyzing:
		return "Analyzing"
	case StateTrading:
		return "Trading"
	case StateCooldown:
		return "Cooldown"
	default:
		return "Unknown"
	}
}

// PositionSide mirrors the exchange's long/short labeling.
type PositionSide string

const (
	PositionLong  PositionSide = "Long"
	PositionShort PositionSide = "Short"
)

// Position is an open holding tracked either by the simulation executor
// or derived from live account/position queries.
type Position struct {
	Symbol        string
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	MarketType    MarketType
	Side          PositionSide
}

// TradeStats are rolling per-symbol counters surfaced by Executor.GetTradeStats.
type TradeStats struct {
	TotalTrades     uint64
	BuyTrades       uint64
	SellTrades      uint64
	TotalVolume     float64
	TotalCommission float64
	CommissionAsset string
}

// PersistentTrade is the row shape written to and read from the trades
// table. Uniqueness, when indexed, is (Symbol, MarketType, TradeID).
type PersistentTrade struct {
	EventTimeMs   int64
	Symbol        string
	MarketType    MarketType
	TradeID       int64
	Price         string
	Quantity      string
	BuyerOrderID  int64
	SellerOrderID int64
	IsBuyerMaker  bool
}

// PersistentOrderBook is the row shape written to the order_books table.
type PersistentOrderBook struct {
	LastUpdateID int64
	Symbol       string
	MarketType   MarketType
	BidsJSON     string
	AsksJSON     string
}

// PortfolioSnapshot is a point-in-time valuation the coordinator appends
// at most once every 5 wall-clock seconds.
type PortfolioSnapshot struct {
	TimestampS    int64
	TotalValueUSD float64
}

// Now returns the current wall-clock time; isolated behind a function so
// components can be unit-tested with a fixed clock if ever needed.
var Now = func() time.Time { return time.Now() }
