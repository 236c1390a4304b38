package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/backtester"
	"github.com/atlas-desktop/trading-engine/internal/metrics"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

// currentSymbol is swapped by /api/change_symbol. Nothing re-subscribes
// the live websocket feed: it keeps streaming the symbol it was started
// with.
var currentSymbol atomic.Value

func init() {
	currentSymbol.Store("BTCUSDT")
}

type walletInfo struct {
	USDT         float64       `json:"usdt"`
	BTC          float64       `json:"btc"`
	AllBalances  []coinBalance `json:"all_balances"`
}

type coinBalance struct {
	Coin   string  `json:"coin"`
	Amount float64 `json:"amount"`
}

type statusResponse struct {
	State                  string              `json:"state"`
	StrategyMetrics        metricsSnapshot     `json:"strategy_metrics"`
	ExecutionMetrics       metricsSnapshot     `json:"execution_metrics"`
	RunMode                string              `json:"run_mode"`
	StrategyName           string              `json:"strategy_name"`
	TransitionProbabilities [][]float64        `json:"transition_probabilities"`
	InferredProbabilities   [][]float64        `json:"inferred_probabilities"`
	Wallet                 walletInfo          `json:"wallet"`
	Positions              []types.Position    `json:"positions"`
	Symbol                 string              `json:"symbol"`
	AvailableMarkets       []string            `json:"available_markets"`
	Opportunities          []types.Opportunity `json:"opportunities"`
	SelectedOpportunityID  string              `json:"selected_opportunity_id"`
	TotalTrades            uint64              `json:"total_trades"`
	RealizedPnL            float64             `json:"realized_pnl"`
	LastUpdateTs           int64               `json:"last_update_ts"`
	RiskReport             types.RiskReport    `json:"risk_report"`
	PortfolioHistory       []types.PortfolioSnapshot `json:"portfolio_history"`
	TradeStats             types.TradeStats    `json:"trade_stats"`
	IsTrading              bool                `json:"is_trading"`
	YieldPct               float64             `json:"yield_pct"`
	AvailableStrategies    []string            `json:"available_strategies"`
	DataQualityScore       float64             `json:"data_quality_score"`
}

type metricsSnapshot struct {
	MinUs  int64   `json:"min_us"`
	MeanUs float64 `json:"mean_us"`
	P50Us  int64   `json:"p50_us"`
	P90Us  int64   `json:"p90_us"`
	P99Us  int64   `json:"p99_us"`
	MaxUs  int64   `json:"max_us"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := s.cfg.State

	balances, _ := s.cfg.Executor.GetBalances(ctx)
	wallet := walletInfo{USDT: balances["USDT"], BTC: balances["BTC"]}
	for coin, amount := range balances {
		wallet.AllBalances = append(wallet.AllBalances, coinBalance{Coin: coin, Amount: amount})
	}

	positions, _ := s.cfg.Executor.GetPositions(ctx)
	symbol, _ := currentSymbol.Load().(string)
	tradeStats := s.cfg.Executor.GetTradeStats(symbol)

	totalTrades := state.TotalTrades()
	var winRate float64 // win/loss tracking lives in the backtester; live status reports 0 until wired to a live fill ledger
	_ = winRate

	snapshots := state.PortfolioSnapshots()
	totalValue := state.InitialBalance()
	if len(snapshots) > 0 {
		totalValue = snapshots[len(snapshots)-1].TotalValueUSD
	}
	yieldPct := 0.0
	if state.InitialBalance() > 0 {
		yieldPct = (totalValue - state.InitialBalance()) / state.InitialBalance() * 100
	}

	resp := statusResponse{
		State:                   state.StateMachine().State().String(),
		StrategyMetrics:         toSnapshot(state.Metrics().StrategyStats()),
		ExecutionMetrics:        toSnapshot(state.Metrics().ExecutionStats()),
		RunMode:                 s.cfg.RunMode,
		StrategyName:            state.StrategyName(),
		TransitionProbabilities: state.StateMachine().ObservedProbabilities(),
		InferredProbabilities:   state.StateMachine().InferredProbabilities(),
		Wallet:                  wallet,
		Positions:               positions,
		Symbol:                  symbol,
		AvailableMarkets:        AvailableMarkets,
		Opportunities:           state.Opportunities(),
		SelectedOpportunityID:   state.SelectedOpportunityID(),
		TotalTrades:             totalTrades,
		RealizedPnL:             state.RealizedPnL(),
		LastUpdateTs:            time.Now().Unix(),
		RiskReport:              state.RiskReport(),
		PortfolioHistory:        snapshots,
		TradeStats:              tradeStats,
		IsTrading:               state.IsTrading(),
		YieldPct:                yieldPct,
		AvailableStrategies:     s.cfg.Registry.Names(),
		DataQualityScore:        state.DataQualityScore(),
	}
	writeJSON(w, resp)
}

func toSnapshot(s metrics.LatencyStats) metricsSnapshot {
	return metricsSnapshot{
		MinUs:  s.Min,
		MeanUs: s.Mean,
		P50Us:  s.P50,
		P90Us:  s.P90,
		P99Us:  s.P99,
		MaxUs:  s.Max,
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.cfg.State.History()
	limit := parseIntQuery(r, "limit", int64(len(history)))
	if limit > 0 && limit < int64(len(history)) {
		history = history[int64(len(history))-limit:]
	}
	writeJSON(w, history)
}

func (s *Server) handleDataRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol, _ := currentSymbol.Load().(string)
	minTs, maxTs, err := s.cfg.Repo.GetDataRange(ctx, symbol, s.cfg.MarketType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]*int64{"min": minTs, "max": maxTs})
}

func (s *Server) handleChangeSymbol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		http.Error(w, "invalid symbol", http.StatusBadRequest)
		return
	}
	currentSymbol.Store(req.Symbol)
	s.logger.Info("symbol changed", zap.String("symbol", req.Symbol))
	writeJSON(w, map[string]any{"status": "success", "symbol": req.Symbol})
}

func (s *Server) handleSelectStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Strategy == "" {
		http.Error(w, "invalid strategy", http.StatusBadRequest)
		return
	}
	s.cfg.State.SetStrategyName(req.Strategy)
	s.logger.Info("strategy swap requested", zap.String("strategy", req.Strategy))
	writeJSON(w, map[string]any{"status": "success", "strategy": req.Strategy})
}

func (s *Server) handleStartTrading(w http.ResponseWriter, r *http.Request) {
	s.cfg.State.SetIsTrading(true)
	s.logger.Info("trading started by user request")
	writeJSON(w, map[string]any{"status": "success", "is_trading": true})
}

func (s *Server) handleStopTrading(w http.ResponseWriter, r *http.Request) {
	s.cfg.State.SetIsTrading(false)
	s.logger.Info("trading stopped by user request")
	writeJSON(w, map[string]any{"status": "success", "is_trading": false})
}

func (s *Server) handleDownloadData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
		Hours  int64  `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Hours <= 0 {
		req.Hours = 6
	}
	if s.cfg.Downloader == nil {
		http.Error(w, "downloader not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.cfg.Downloader.EnsureData(r.Context(), req.Symbol, s.cfg.MarketType, req.Hours); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "success"})
}

type backtestRequest struct {
	Strategies []string `json:"strategies"`
	Symbols    []string `json:"symbols"`
	StartTs    *int64   `json:"start_ts"`
	EndTs      *int64   `json:"end_ts"`
	FastMode   bool     `json:"fast_mode"`
}

type backtestReportResponse struct {
	Reports        []backtester.StrategyReport `json:"reports"`
	InitialCapital float64                     `json:"initial_capital"`
}

func (s *Server) handleBacktestExecute(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	startMs := int64(0)
	if req.StartTs != nil {
		startMs = *req.StartTs
	}
	endMs := int64(1 << 62)
	if req.EndTs != nil {
		endMs = *req.EndTs
	}

	specs := make([]backtester.SymbolSpec, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		specs = append(specs, backtester.ParseSymbolSpec(sym))
	}

	s.logger.Info("executing combinatorial backtest",
		zap.Strings("symbols", req.Symbols), zap.Strings("strategies", req.Strategies))

	report := s.cfg.Runner.Run(r.Context(), backtester.Request{
		Symbols:    specs,
		Strategies: req.Strategies,
		StartMs:    startMs,
		EndMs:      endMs,
		FastMode:   req.FastMode,
	})

	writeJSON(w, backtestReportResponse{Reports: report.Reports, InitialCapital: report.InitialCapital})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntQuery(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
