// Package execution bridges the asynchronous core to blocking exchange
// APIs via dedicated-thread actors, plus an in-memory simulation
// executor for paper trading and backtests.
//
// The actor pattern exists because the exchange SDK's blocking HTTP
// client is not safe to construct or tear down from inside goroutines
// that come and go with request load: isolating it on one long-lived
// goroutine locked to its own OS thread, and never destroying it during
// process lifetime, sidesteps that entirely. Only the owning goroutine
// ever touches the client; every other goroutine holds nothing but the
// channel send handle, which is naturally safe to share.
package execution

import (
	"context"
	"fmt"
	"runtime"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
)

// MarginType mirrors the exchange's CROSSED/ISOLATED margin modes.
type MarginType string

const (
	MarginCrossed  MarginType = "CROSSED"
	MarginIsolated MarginType = "ISOLATED"
)

// commandKind tags which actor command is populated.
type commandKind int

const (
	cmdMarketBuy commandKind = iota
	cmdMarketSell
	cmdCancelOrder
	cmdGetAccount
	cmdGetTradeHistory
	cmdSetLeverage
	cmdSetMarginType
	cmdGetPositions
	cmdShutdown
)

// command is the single envelope every actor command travels as; reply
// carries the one-shot reply channel. A failed send on reply is silently
// ignored by the actor — the caller may have stopped waiting.
type command struct {
	kind commandKind

	symbol   string
	quantity float64
	orderID  int64
	limit    int
	leverage int
	margin   MarginType

	reply chan response
}

// responseKind tags which response variant is populated.
type responseKind int

const (
	respOrderSuccess responseKind = iota
	respFailure
	respAccount
	respTradeHistory
	respPositions
	respLeverageSet
	respMarginSet
	respCancelled
)

type response struct {
	kind responseKind

	orderID  int64
	symbol   string
	qty      float64
	err      string
	balances  []Balance
	history   []TradeRecord
	positions []types.Position
}

// Balance is one asset free balance as reported by an account query.
type Balance struct {
	Asset  string
	Amount float64
}

// TradeRecord is one fill returned by GetTradeHistory.
type TradeRecord struct {
	ID              int64
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
	IsBuyer         bool
	TimeMs          int64
}

// ExchangeClient is the opaque blocking client boundary every actor
// owns exclusively. Real wire-protocol implementations are an external
// collaborator per the specification's scope; this interface is the
// seam a concrete Binance (or other) SDK wrapper implements.
type ExchangeClient interface {
	MarketBuy(symbol string, quantity float64) (orderID int64, err error)
	MarketSell(symbol string, quantity float64) (orderID int64, err error)
	CancelOrder(symbol string, orderID int64) error
	GetAccount() ([]Balance, error)
	GetTradeHistory(symbol string, limit int) ([]TradeRecord, error)
	SetLeverage(symbol string, leverage int) error
	SetMarginType(symbol string, margin MarginType) error
	GetPositions() ([]types.Position, error)
}

// Actor owns one ExchangeClient on a dedicated, never-destroyed
// goroutine and drains a single command queue. Two actors exist in the
// system: one for spot, one for derivatives; GetTradeHistory is spot
// only and SetLeverage/SetMarginType/GetPositions are derivatives only,
// enforced by which commands the caller constructs, not by the actor.
type Actor struct {
	name   string
	client ExchangeClient
	logger *zap.Logger
	cmds   chan command
	done   chan struct{}
}

// NewActor spawns the actor's dedicated goroutine, locking it to its own
// OS thread so the blocking client's connection state is never migrated
// across threads by the Go scheduler.
func NewActor(logger *zap.Logger, name string, client ExchangeClient) *Actor {
	a := &Actor{
		name:   name,
		client: client,
		logger: logger,
		cmds:   make(chan command, 64),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.done)

	a.logger.Info("execution actor started", zap.String("actor", a.name))
	for cmd := range a.cmds {
		if cmd.kind == cmdShutdown {
			a.logger.Info("execution actor shutting down", zap.String("actor", a.name))
			return
		}
		resp := a.execute(cmd)
		trySend(cmd.reply, resp)
	}
}

// trySend delivers resp without blocking if the caller already gave up
// waiting; the in-flight API call this response carries has already
// completed regardless.
func trySend(reply chan response, resp response) {
	select {
	case reply <- resp:
	default:
	}
}

func (a *Actor) execute(cmd command) response {
	switch cmd.kind {
	case cmdMarketBuy:
		id, err := a.client.MarketBuy(cmd.symbol, cmd.quantity)
		if err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respOrderSuccess, orderID: id, symbol: cmd.symbol, qty: cmd.quantity}
	case cmdMarketSell:
		id, err := a.client.MarketSell(cmd.symbol, cmd.quantity)
		if err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respOrderSuccess, orderID: id, symbol: cmd.symbol, qty: cmd.quantity}
	case cmdCancelOrder:
		if err := a.client.CancelOrder(cmd.symbol, cmd.orderID); err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respCancelled}
	case cmdGetAccount:
		balances, err := a.client.GetAccount()
		if err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respAccount, balances: balances}
	case cmdGetTradeHistory:
		history, err := a.client.GetTradeHistory(cmd.symbol, cmd.limit)
		if err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respTradeHistory, history: history}
	case cmdSetLeverage:
		if err := a.client.SetLeverage(cmd.symbol, cmd.leverage); err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respLeverageSet, symbol: cmd.symbol}
	case cmdSetMarginType:
		if err := a.client.SetMarginType(cmd.symbol, cmd.margin); err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respMarginSet, symbol: cmd.symbol}
	case cmdGetPositions:
		positions, err := a.client.GetPositions()
		if err != nil {
			return response{kind: respFailure, err: err.Error()}
		}
		return response{kind: respPositions, positions: positions}
	default:
		return response{kind: respFailure, err: "unknown command"}
	}
}

// send enqueues cmd and awaits its reply, or ctx's cancellation —
// callers needing bounded latency must pass a context with a deadline;
// the actor itself never honors per-command cancellation once a command
// has been dequeued, since the underlying API call is already in flight.
func (a *Actor) send(ctx context.Context, cmd command) (response, error) {
	cmd.reply = make(chan response, 1)
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-cmd.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Shutdown enqueues a Shutdown command and waits for the actor goroutine
// to exit. The command queue is never closed; a later Shutdown still
// returns, because its command lands in the buffered queue and done is
// already closed, as long as the buffer has room. The two-phase process
// shutdown (drain queues, then join actors) calls this exactly once per
// actor.
func (a *Actor) Shutdown() {
	a.cmds <- command{kind: cmdShutdown}
	<-a.done
}

func (a *Actor) MarketBuy(ctx context.Context, symbol string, qty float64) (int64, error) {
	resp, err := a.send(ctx, command{kind: cmdMarketBuy, symbol: symbol, quantity: qty})
	if err != nil {
		return 0, err
	}
	if resp.kind == respFailure {
		return 0, fmt.Errorf("market buy failed: %s", resp.err)
	}
	return resp.orderID, nil
}

func (a *Actor) MarketSell(ctx context.Context, symbol string, qty float64) (int64, error) {
	resp, err := a.send(ctx, command{kind: cmdMarketSell, symbol: symbol, quantity: qty})
	if err != nil {
		return 0, err
	}
	if resp.kind == respFailure {
		return 0, fmt.Errorf("market sell failed: %s", resp.err)
	}
	return resp.orderID, nil
}

func (a *Actor) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	resp, err := a.send(ctx, command{kind: cmdCancelOrder, symbol: symbol, orderID: orderID})
	if err != nil {
		return err
	}
	if resp.kind == respFailure {
		return fmt.Errorf("cancel failed: %s", resp.err)
	}
	return nil
}

func (a *Actor) GetAccount(ctx context.Context) ([]Balance, error) {
	resp, err := a.send(ctx, command{kind: cmdGetAccount})
	if err != nil {
		return nil, err
	}
	if resp.kind == respFailure {
		return nil, fmt.Errorf("get account failed: %s", resp.err)
	}
	return resp.balances, nil
}

func (a *Actor) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	if limit > 100 {
		limit = 100
	}
	resp, err := a.send(ctx, command{kind: cmdGetTradeHistory, symbol: symbol, limit: limit})
	if err != nil {
		return nil, err
	}
	if resp.kind == respFailure {
		return nil, fmt.Errorf("get trade history failed: %s", resp.err)
	}
	return resp.history, nil
}

func (a *Actor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		leverage = 1
	}
	if leverage > 125 {
		leverage = 125
	}
	resp, err := a.send(ctx, command{kind: cmdSetLeverage, symbol: symbol, leverage: leverage})
	if err != nil {
		return err
	}
	if resp.kind == respFailure {
		return fmt.Errorf("set leverage failed: %s", resp.err)
	}
	return nil
}

func (a *Actor) SetMarginType(ctx context.Context, symbol string, margin MarginType) error {
	resp, err := a.send(ctx, command{kind: cmdSetMarginType, symbol: symbol, margin: margin})
	if err != nil {
		return err
	}
	if resp.kind == respFailure {
		return fmt.Errorf("set margin type failed: %s", resp.err)
	}
	return nil
}

func (a *Actor) GetPositions(ctx context.Context) ([]types.Position, error) {
	resp, err := a.send(ctx, command{kind: cmdGetPositions})
	if err != nil {
		return nil, err
	}
	if resp.kind == respFailure {
		return nil, fmt.Errorf("get positions failed: %s", resp.err)
	}
	return resp.positions, nil
}
