// Package poller snapshots external market data into local storage on
// per-type intervals during the collection window.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"qtrade/internal/news"
	"qtrade/internal/quote"
	"qtrade/internal/store"
	"qtrade/internal/strategy"
	"qtrade/internal/util"
)

// Default collection intervals per data type.
var defaultIntervals = map[string]time.Duration{
	"quote":      30 * time.Second,
	"price_tick": 10 * time.Second,
	"sector":     2 * time.Minute,
	"news":       5 * time.Minute,
	"signal":     5 * time.Minute,
}

// Poller runs one collection loop per data type. Each tick is gated on the
// weekday collection window and on the persist toggle stored alongside the
// history, so operators can pause a type without restarting the process.
type Poller struct {
	quotes  quote.Source
	signals *strategy.Engine
	news    *news.Fetcher
	store   *store.SQLiteStore
	archive *store.ParquetStore
	log     *slog.Logger

	intervals map[string]time.Duration
	window    func(time.Time) bool
	now       func() time.Time
}

// New builds a Poller over the given quote source, strategy engine and
// stores. archive may be nil to skip the Parquet quote archive; nf may be
// nil to skip news collection.
func New(quotes quote.Source, signals *strategy.Engine, nf *news.Fetcher, st *store.SQLiteStore, archive *store.ParquetStore) *Poller {
	intervals := make(map[string]time.Duration, len(defaultIntervals))
	for k, v := range defaultIntervals {
		intervals[k] = v
	}
	return &Poller{
		quotes:    quotes,
		signals:   signals,
		news:      nf,
		store:     st,
		archive:   archive,
		log:       slog.Default().With("component", "poller"),
		intervals: intervals,
		window:    util.InCollectionWindow,
		now:       time.Now,
	}
}

// SetInterval overrides the collection interval for one data type.
func (p *Poller) SetInterval(dataType string, every time.Duration) {
	p.intervals[dataType] = every
}

// job pairs a data type with its collection pass.
type job struct {
	dataType string
	collect  func(context.Context) (int, error)
}

// Run starts every collection loop and blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	jobs := []job{
		{"quote", p.collectQuotes},
		{"price_tick", p.collectTicks},
		{"sector", p.collectSectors},
		{"signal", p.collectSignals},
	}
	if p.news != nil {
		jobs = append(jobs, job{"news", p.collectNews})
	}

	p.log.Info("poller starting", "jobs", len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			p.loop(ctx, j.dataType, j.collect)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("poller stopped")
	return err
}

func (p *Poller) loop(ctx context.Context, dataType string, collect func(context.Context) (int, error)) {
	ticker := time.NewTicker(p.intervals[dataType])
	defer ticker.Stop()
	for {
		p.tick(ctx, dataType, collect)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one collection pass for a data type, skipping outside the
// window and when persistence is toggled off.
func (p *Poller) tick(ctx context.Context, dataType string, collect func(context.Context) (int, error)) {
	if !p.window(p.now()) {
		p.log.Debug("outside collection window", "type", dataType)
		return
	}
	if !p.store.PersistEnabled(ctx, dataType) {
		p.log.Debug("persistence disabled", "type", dataType)
		return
	}
	n, err := collect(ctx)
	if err != nil {
		p.log.Error("collection failed", "type", dataType, "error", err)
		return
	}
	if n > 0 {
		p.log.Info("persisted snapshots", "type", dataType, "count", n)
	}
}

// ---------------------------------------------------------------------------
// Collectors
// ---------------------------------------------------------------------------

func (p *Poller) collectQuotes(ctx context.Context) (int, error) {
	quotes, err := p.quotes.Pool(ctx, nil)
	if err != nil {
		return 0, err
	}
	ts := p.now()
	snaps := make([]store.Snapshot, 0, len(quotes))
	for _, q := range quotes {
		raw, err := json.Marshal(q)
		if err != nil {
			continue
		}
		snaps = append(snaps, store.Snapshot{
			DataType:     "quote",
			DataID:       snapshotID("quote", q.Code, ts),
			SnapshotTime: ts.Format("2006-01-02 15:04:05"),
			StockCode:    q.Code,
			StockName:    q.Name,
			Summary:      q.Name,
			DataJSON:     string(raw),
		})
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	if p.archive != nil {
		if err := p.archive.WriteQuotes(quotes, ts); err != nil {
			p.log.Error("quote archive failed", "error", err)
		}
	}
	return len(snaps), nil
}

// priceTick is the slim per-tick record written for intraday charts.
type priceTick struct {
	Code  string  `json:"code"`
	Price float64 `json:"price"`
	Time  string  `json:"time"`
}

func (p *Poller) collectTicks(ctx context.Context) (int, error) {
	quotes, err := p.quotes.Pool(ctx, nil)
	if err != nil {
		return 0, err
	}
	ts := p.now()
	snaps := make([]store.Snapshot, 0, len(quotes))
	for _, q := range quotes {
		raw, err := json.Marshal(priceTick{Code: q.Code, Price: q.Price, Time: ts.Format("15:04:05")})
		if err != nil {
			continue
		}
		snaps = append(snaps, store.Snapshot{
			DataType:     "price_tick",
			SnapshotTime: ts.Format("2006-01-02 15:04:05"),
			StockCode:    q.Code,
			StockName:    q.Name,
			DataJSON:     string(raw),
		})
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

func (p *Poller) collectNews(ctx context.Context) (int, error) {
	articles, err := p.news.Fetch(ctx, "A股", 30)
	if err != nil {
		return 0, err
	}
	snaps := make([]store.Snapshot, 0, len(articles))
	for _, a := range articles {
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		snaps = append(snaps, store.Snapshot{
			DataType:     "news",
			DataID:       "news_" + a.ID,
			SnapshotTime: a.Time.Format("2006-01-02 15:04:05"),
			Summary:      a.Headline,
			Impact:       a.Impact,
			DataJSON:     string(raw),
		})
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

func (p *Poller) collectSignals(ctx context.Context) (int, error) {
	signals, err := p.signals.RunAll(ctx)
	if err != nil {
		return 0, err
	}
	ts := p.now()
	snaps := make([]store.Snapshot, 0, len(signals))
	for _, sig := range signals {
		raw, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		snaps = append(snaps, store.Snapshot{
			DataType:     "signal",
			DataID:       snapshotID("signal", sig.StockCode, ts),
			SnapshotTime: ts.Format("2006-01-02 15:04:05"),
			StockCode:    sig.StockCode,
			StockName:    sig.StockName,
			Summary:      sig.StockName,
			Impact:       sig.Signal,
			DataJSON:     string(raw),
		})
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// snapshotID builds the dedup key: one row per code per minute per type.
func snapshotID(dataType, code string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s", dataType, code, ts.Format("2006-01-02 15:04"))
}
