// Package repository is the persistent store for trades and order-book
// snapshots: bulk insert, range queries, and time-bucket aggregation over
// a relational backend. Migrations run on boot.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/trading-engine/pkg/types"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// Repository wraps a *sql.DB with the trade/order-book persistence
// operations the pipeline, historical downloader and backtester all
// share. A single connection pool is safe for concurrent use from the
// fire-and-forget persistence spawns described in the coordinator.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the sqlite-backed store at path and
// applies migrations. Using modernc.org/sqlite keeps the driver pure Go
// (no cgo), matching the rest of the engine's dependency-light stack.
func Open(logger *zap.Logger, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers; avoid SQLITE_BUSY under concurrent spawns

	r := &Repository{db: db, logger: logger}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	event_time     INTEGER NOT NULL,
	symbol         TEXT NOT NULL,
	market_type    TEXT NOT NULL,
	trade_id       INTEGER NOT NULL,
	price          TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	buyer_order_id INTEGER NOT NULL,
	seller_order_id INTEGER NOT NULL,
	is_buyer_maker INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_unique ON trades(symbol, market_type, trade_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, market_type, event_time);

CREATE TABLE IF NOT EXISTS order_books (
	last_update_id INTEGER NOT NULL,
	symbol         TEXT NOT NULL,
	market_type    TEXT NOT NULL,
	bids_json      TEXT NOT NULL,
	asks_json      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_books_symbol ON order_books(symbol, market_type, last_update_id);
`

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveTrade inserts a single trade row.
func (r *Repository) SaveTrade(ctx context.Context, t *types.TradeEvent, marketType types.MarketType) error {
	_, err := r.db.ExecContext(ctx, insertTradeSQL,
		t.EventTimeMs, t.Symbol, string(marketType), t.TradeID,
		t.PriceStr, t.QtyStr, t.BuyerOrderID, t.SellerOrderID, t.IsBuyerMaker)
	if err != nil {
		return fmt.Errorf("repository: save trade: %w", err)
	}
	return nil
}

// SaveAggTrade inserts a single aggregated-trade row into the trades
// table; it has no distinct buyer/seller order IDs so both are stored 0.
func (r *Repository) SaveAggTrade(ctx context.Context, a *types.AggTradeEvent, marketType types.MarketType) error {
	_, err := r.db.ExecContext(ctx, insertTradeSQL,
		a.EventTimeMs, a.Symbol, string(marketType), a.AggTradeID,
		a.PriceStr, a.QtyStr, 0, 0, a.IsBuyerMaker)
	if err != nil {
		return fmt.Errorf("repository: save aggr trade: %w", err)
	}
	return nil
}

const insertTradeSQL = `
INSERT INTO trades (event_time, symbol, market_type, trade_id, price, quantity, buyer_order_id, seller_order_id, is_buyer_maker)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveAggTradesBulk inserts many aggregated trades in one multi-row
// INSERT OR IGNORE. Rows whose (symbol, market_type, trade_id) is
// already stored, e.g. by an earlier overlapping fetch, are skipped and
// the rest of the chunk is inserted; a unique-constraint error that
// still surfaces is swallowed.
func (r *Repository) SaveAggTradesBulk(ctx context.Context, events []*types.AggTradeEvent, marketType types.MarketType) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT OR IGNORE INTO trades (event_time, symbol, market_type, trade_id, price, quantity, buyer_order_id, seller_order_id, is_buyer_maker) VALUES ")
	args := make([]any, 0, len(events)*9)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, e.EventTimeMs, e.Symbol, string(marketType), e.AggTradeID,
			e.PriceStr, e.QtyStr, 0, 0, e.IsBuyerMaker)
	}

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("repository: bulk save: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint")
}

// SaveOrderBook inserts a single order-book snapshot row, JSON-encoding
// the bid/ask levels.
func (r *Repository) SaveOrderBook(ctx context.Context, symbol string, marketType types.MarketType, book *types.OrderBookEvent, bidsJSON, asksJSON string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO order_books (last_update_id, symbol, market_type, bids_json, asks_json) VALUES (?, ?, ?, ?, ?)`,
		book.LastUpdateID, symbol, string(marketType), bidsJSON, asksJSON)
	if err != nil {
		return fmt.Errorf("repository: save order book: %w", err)
	}
	return nil
}

// GetHistoricalTradesRange returns trades ordered ascending by event
// time; start/end are inclusive bounds, nil meaning unbounded. Null
// price/quantity columns are normalized to "0" (shouldn't occur given
// the NOT NULL schema, but keeps the contract honest if the table is
// ever widened).
func (r *Repository) GetHistoricalTradesRange(ctx context.Context, symbol string, marketType types.MarketType, start, end *int64) ([]types.PersistentTrade, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT event_time, symbol, market_type, trade_id, price, quantity, buyer_order_id, seller_order_id, is_buyer_maker
		FROM trades WHERE symbol = ? AND market_type = ?`)
	args := []any{symbol, string(marketType)}
	if start != nil {
		sb.WriteString(" AND event_time >= ?")
		args = append(args, *start)
	}
	if end != nil {
		sb.WriteString(" AND event_time <= ?")
		args = append(args, *end)
	}
	sb.WriteString(" ORDER BY event_time ASC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("repository: range query: %w", err)
	}
	defer rows.Close()

	var out []types.PersistentTrade
	for rows.Next() {
		var row types.PersistentTrade
		var marketTypeStr string
		var price, qty sql.NullString
		if err := rows.Scan(&row.EventTimeMs, &row.Symbol, &marketTypeStr, &row.TradeID,
			&price, &qty, &row.BuyerOrderID, &row.SellerOrderID, &row.IsBuyerMaker); err != nil {
			return nil, fmt.Errorf("repository: scan trade row: %w", err)
		}
		row.MarketType = types.MarketType(marketTypeStr)
		row.Price = "0"
		if price.Valid {
			row.Price = price.String
		}
		row.Quantity = "0"
		if qty.Valid {
			row.Quantity = qty.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AggregatedBucket is one row of the interval-bucketed aggregation
// GetAggregatedTrades returns.
type AggregatedBucket struct {
	BucketEpochS int64
	ClosePrice   float64
	VolumeSum    float64
}

// GetAggregatedTrades groups trades into truncated UTC buckets
// ("minute" or "hour"), returning for each bucket the price of the row
// with the maximum event time (its close) and the summed quantity,
// ordered ascending by bucket.
func (r *Repository) GetAggregatedTrades(ctx context.Context, symbol string, marketType types.MarketType, interval string) ([]AggregatedBucket, error) {
	var bucketSeconds int64
	switch interval {
	case "hour":
		bucketSeconds = 3600
	default:
		bucketSeconds = 60
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT (event_time / 1000 / ?) * ? AS bucket, event_time, price, quantity
		 FROM trades WHERE symbol = ? AND market_type = ? ORDER BY event_time ASC`,
		bucketSeconds, bucketSeconds, symbol, string(marketType))
	if err != nil {
		return nil, fmt.Errorf("repository: aggregate query: %w", err)
	}
	defer rows.Close()

	type acc struct {
		bucket     int64
		closePrice float64
		lastEvent  int64
		volume     float64
	}
	order := make([]int64, 0)
	byBucket := make(map[int64]*acc)

	for rows.Next() {
		var bucket, eventTime int64
		var priceStr, qtyStr string
		if err := rows.Scan(&bucket, &eventTime, &priceStr, &qtyStr); err != nil {
			return nil, fmt.Errorf("repository: scan aggregate row: %w", err)
		}
		a, ok := byBucket[bucket]
		if !ok {
			a = &acc{bucket: bucket}
			byBucket[bucket] = a
			order = append(order, bucket)
		}
		a.volume += types.ParsePriceOrZero(qtyStr)
		if eventTime >= a.lastEvent {
			a.lastEvent = eventTime
			a.closePrice = types.ParsePriceOrZero(priceStr)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]AggregatedBucket, 0, len(order))
	for _, b := range order {
		a := byBucket[b]
		out = append(out, AggregatedBucket{BucketEpochS: a.bucket, ClosePrice: a.closePrice, VolumeSum: a.volume})
	}
	return out, nil
}

// GetDataRange returns the min/max event time persisted for a symbol,
// nil when no rows exist.
func (r *Repository) GetDataRange(ctx context.Context, symbol string, marketType types.MarketType) (min, max *int64, err error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT MIN(event_time), MAX(event_time) FROM trades WHERE symbol = ? AND market_type = ?`,
		symbol, string(marketType))
	var minN, maxN sql.NullInt64
	if err := row.Scan(&minN, &maxN); err != nil {
		return nil, nil, fmt.Errorf("repository: data range: %w", err)
	}
	if minN.Valid {
		min = &minN.Int64
	}
	if maxN.Valid {
		max = &maxN.Int64
	}
	return min, max, nil
}

// CleanupOldData deletes trades older than now-hours and order-book rows
// whose last_update_id falls below the same threshold expressed in
// seconds — an acknowledged approximation, since last_update_id is an
// exchange sequence number, not a timestamp. Returns total rows
// affected.
func (r *Repository) CleanupOldData(ctx context.Context, hours int64) (int64, error) {
	thresholdMs := time.Now().UnixMilli() - hours*3600*1000

	res1, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE event_time < ?`, thresholdMs)
	if err != nil {
		return 0, fmt.Errorf("repository: cleanup trades: %w", err)
	}
	n1, _ := res1.RowsAffected()

	res2, err := r.db.ExecContext(ctx, `DELETE FROM order_books WHERE last_update_id < ?`, thresholdMs/1000)
	if err != nil {
		return n1, fmt.Errorf("repository: cleanup order books: %w", err)
	}
	n2, _ := res2.RowsAffected()

	return n1 + n2, nil
}
