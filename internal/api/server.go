// Package api exposes the thin HTTP/SSE control surface over the
// pipeline: status and history polling, symbol/strategy control, and
// combinatorial backtest dispatch with progress streamed over SSE.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/backtester"
	"github.com/atlas-desktop/trading-engine/internal/execution"
	"github.com/atlas-desktop/trading-engine/internal/historical"
	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/sharedstate"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// AvailableMarkets is the fixed symbol list surfaced to the frontend's
// symbol picker.
var AvailableMarkets = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}

// Config configures the Server's dependencies.
type Config struct {
	Logger      *zap.Logger
	State       *sharedstate.State
	Executor    *execution.Executor
	Repo        *repository.Repository
	Registry    *strategy.Registry
	Runner      *backtester.Runner
	Broadcaster *backtester.Broadcaster
	Downloader  *historical.Downloader
	RunMode     string
	Symbol      string
	MarketType  types.MarketType

	// Config carries no market-event channel: /api/change_symbol only
	// records the new symbol and does not re-subscribe the live feed.
}

// Server wraps the HTTP surface; it holds no business logic of its own,
// only translating requests into calls against the shared components
// the coordinator also uses.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	cfg        Config
}

func NewServer(cfg Config, addr string) *Server {
	s := &Server{logger: cfg.Logger, cfg: cfg}

	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/data_range", s.handleDataRange).Methods(http.MethodGet)
	router.HandleFunc("/api/change_symbol", s.handleChangeSymbol).Methods(http.MethodPost)
	router.HandleFunc("/api/select_strategy", s.handleSelectStrategy).Methods(http.MethodPost)
	router.HandleFunc("/api/backtest/progress", s.handleBacktestProgress).Methods(http.MethodGet)
	router.HandleFunc("/api/backtest/execute", s.handleBacktestExecute).Methods(http.MethodPost)
	router.HandleFunc("/api/download_data", s.handleDownloadData).Methods(http.MethodPost)
	router.HandleFunc("/api/start_trading", s.handleStartTrading).Methods(http.MethodPost)
	router.HandleFunc("/api/stop_trading", s.handleStopTrading).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.HandlerFor(cfg.State.Metrics().Registry(), promhttp.HandlerOpts{}))

	handler := cors.AllowAll().Handler(router)
	s.router = router
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops or errors.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
