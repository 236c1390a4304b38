// Package historical fills gaps in persisted trade history by chunking
// a time range into windows the exchange's aggTrades endpoint accepts,
// fetching each chunk under a concurrency cap and a per-request stagger,
// and bulk-persisting the results.
package historical

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/repository"
	"github.com/atlas-desktop/trading-engine/internal/workers"
	"github.com/atlas-desktop/trading-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxWindowMs is the exchange aggTrades API's startTime/endTime span
// ceiling.
const maxWindowMs = int64(3_600_000)

// maxConcurrentRequests bounds in-flight fetches to stay under the
// exchange's per-minute rate limit alongside the per-request stagger.
const maxConcurrentRequests = 5

// requestStagger is slept before every fetch call, inside the held
// semaphore permit, to spread bursts across the rate-limit window.
const requestStagger = 200 * time.Millisecond

// AggTradeFetcher is the opaque blocking exchange client boundary: a
// single chunked aggTrades fetch. Real implementations perform a
// blocking HTTP call; tests can substitute a fake.
type AggTradeFetcher interface {
	FetchAggTrades(ctx context.Context, symbol string, marketType types.MarketType, startMs, endMs int64) ([]*types.AggTradeEvent, error)
}

// Downloader ensures the repository holds at least a requested window
// of historical trade data, backfilling missing prefixes/suffixes via
// chunked concurrent fetches.
type Downloader struct {
	repo    *repository.Repository
	fetcher AggTradeFetcher
	pool    *workers.Pool
	logger  *zap.Logger
}

func New(logger *zap.Logger, repo *repository.Repository, fetcher AggTradeFetcher, pool *workers.Pool) *Downloader {
	return &Downloader{repo: repo, fetcher: fetcher, pool: pool, logger: logger}
}

// EnsureData checks the oldest persisted event time for (symbol,
// marketType) and, if it does not already cover now-hours, fetches the
// missing prefix.
func (d *Downloader) EnsureData(ctx context.Context, symbol string, marketType types.MarketType, hours int64) error {
	now := time.Now().UnixMilli()
	targetStart := now - hours*3600*1000

	oldest, _, err := d.repo.GetDataRange(ctx, symbol, marketType)
	if err != nil {
		return fmt.Errorf("historical: ensure data: %w", err)
	}

	var startFrom int64
	switch {
	case oldest != nil && *oldest <= targetStart:
		d.logger.Info("data already covers requested window", zap.String("symbol", symbol), zap.Int64("hours", hours))
		return nil
	case oldest != nil:
		startFrom = *oldest
	default:
		startFrom = now
	}

	return d.fetchAndSaveRange(ctx, symbol, marketType, targetStart, startFrom)
}

// EnsureDataRange fills gaps both before the existing minimum and after
// the existing maximum persisted event time.
func (d *Downloader) EnsureDataRange(ctx context.Context, symbol string, marketType types.MarketType, startMs, endMs int64) error {
	dbMin, dbMax, err := d.repo.GetDataRange(ctx, symbol, marketType)
	if err != nil {
		return fmt.Errorf("historical: ensure data range: %w", err)
	}

	needBefore := dbMin == nil || *dbMin > startMs
	needAfter := dbMax == nil || *dbMax < endMs
	if !needBefore && !needAfter {
		return nil
	}

	existingMin := endMs
	if dbMin != nil {
		existingMin = *dbMin
	}
	existingMax := startMs
	if dbMax != nil {
		existingMax = *dbMax
	}

	if needBefore && startMs < existingMin {
		if err := d.fetchAndSaveRange(ctx, symbol, marketType, startMs, existingMin); err != nil {
			return err
		}
	}
	if needAfter && endMs > existingMax {
		if err := d.fetchAndSaveRange(ctx, symbol, marketType, existingMax, endMs); err != nil {
			return err
		}
	}
	return nil
}

// fetchAndSaveRange chunks [start, end) into <=1h windows and drains
// them through a concurrency-capped errgroup; each chunk is staggered
// by requestStagger inside its permit and run on the shared worker pool
// since the fetch is a blocking call. Empty chunks are skipped; API
// errors are logged but never abort the remaining chunks.
func (d *Downloader) fetchAndSaveRange(ctx context.Context, symbol string, marketType types.MarketType, startMs, endMs int64) error {
	type window struct{ start, end int64 }
	var chunks []window
	for s := startMs; s < endMs; {
		e := s + maxWindowMs
		if e > endMs {
			e = endMs
		}
		chunks = append(chunks, window{s, e})
		s = e
	}

	d.logger.Info("fetching historical agg trades",
		zap.String("symbol", symbol), zap.Int("chunks", len(chunks)), zap.Int("concurrency", maxConcurrentRequests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRequests)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			time.Sleep(requestStagger)

			var events []*types.AggTradeEvent
			err := d.pool.SubmitWait(func() error {
				var fetchErr error
				events, fetchErr = d.fetcher.FetchAggTrades(gctx, symbol, marketType, c.start, c.end)
				return fetchErr
			})
			if err != nil {
				d.logger.Error("exchange fetch failed", zap.Int64("start", c.start), zap.Int64("end", c.end), zap.Error(err))
				return nil
			}
			if len(events) == 0 {
				return nil
			}
			if err := d.repo.SaveAggTradesBulk(gctx, events, marketType); err != nil {
				d.logger.Error("bulk save failed", zap.Int64("start", c.start), zap.Int64("end", c.end), zap.Error(err))
			}
			return nil
		})
	}

	// g.Wait only returns an error if a Go func returned one; every path
	// above logs and returns nil so failed chunks never abort siblings.
	return g.Wait()
}
