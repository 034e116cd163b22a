package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"qtrade/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quant.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountDefaultsAndSaveCash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cash, err := s.LoadAccount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cash != 500_000 {
		t.Fatalf("default cash = %v, want 500000", cash)
	}

	if err := s.SaveCash(ctx, 123_456.78); err != nil {
		t.Fatal(err)
	}
	cash, err = s.LoadAccount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cash != 123_456.78 {
		t.Fatalf("cash = %v, want 123456.78", cash)
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := []domain.Position{
		{StockCode: "600519", StockName: "贵州茅台", Volume: 200, AvailableVolume: 200, AvgCost: 1650},
		{StockCode: "000001", StockName: "平安银行", Volume: 1000, AvailableVolume: 1000, AvgCost: 12.10},
	}
	if err := s.SavePositions(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("positions = %d, want 2", len(out))
	}
	if out[1].StockCode != "600519" || out[1].Volume != 200 || out[1].AvgCost != 1650 {
		t.Fatalf("position %+v", out[1])
	}

	// A later save replaces the whole table.
	if err := s.SavePositions(ctx, in[:1]); err != nil {
		t.Fatal(err)
	}
	out, _ = s.LoadPositions(ctx)
	if len(out) != 1 {
		t.Fatalf("positions after replace = %d, want 1", len(out))
	}
}

func TestOrderUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	o := &domain.Order{
		OrderID:   "SIM-AAAA1111",
		StockCode: "600519",
		Direction: domain.DirectionBuy,
		Price:     1700,
		Volume:    100,
		Status:    domain.OrderStatusSubmitted,
		Strategy:  domain.StrategyMultiFactor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.AppendOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	o.FilledVolume = 100
	o.FilledPrice = 1701.5
	o.Status = domain.OrderStatusFilled
	if err := s.AppendOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListOrders(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("orders = %d, want 1 (upsert)", len(all))
	}
	if all[0].Status != domain.OrderStatusFilled || all[0].FilledPrice != 1701.5 {
		t.Fatalf("order %+v", all[0])
	}

	filled, _ := s.ListOrders(ctx, domain.OrderStatusFilled)
	if len(filled) != 1 {
		t.Fatalf("filled orders = %d, want 1", len(filled))
	}
	cancelled, _ := s.ListOrders(ctx, domain.OrderStatusCancelled)
	if len(cancelled) != 0 {
		t.Fatalf("cancelled orders = %d, want 0", len(cancelled))
	}
}

func TestSnapshotDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := Snapshot{
		DataType:     "news",
		DataID:       "n-1",
		SnapshotTime: "2026-03-10 10:00:00",
		Summary:      "first",
		DataJSON:     `{"v":1}`,
	}
	if err := s.AppendSnapshots(ctx, []Snapshot{snap}); err != nil {
		t.Fatal(err)
	}

	snap.SnapshotTime = "2026-03-10 11:00:00"
	snap.Summary = "second"
	if err := s.AppendSnapshots(ctx, []Snapshot{snap}); err != nil {
		t.Fatal(err)
	}

	page, err := s.QueryHistory(ctx, HistoryQuery{DataType: "news"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1 (dedup by data_id)", page.Total)
	}
	if page.Items[0].Summary != "second" {
		t.Fatalf("summary = %q, want updated row", page.Items[0].Summary)
	}

	// Rows without a data id always append.
	anon := Snapshot{DataType: "quote", SnapshotTime: "2026-03-10 10:00:30", DataJSON: "{}"}
	s.AppendSnapshots(ctx, []Snapshot{anon})
	s.AppendSnapshots(ctx, []Snapshot{anon})
	page, _ = s.QueryHistory(ctx, HistoryQuery{DataType: "quote"})
	if page.Total != 2 {
		t.Fatalf("quote rows = %d, want 2", page.Total)
	}
}

func TestQueryHistoryFiltersAndPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var snaps []Snapshot
	for i := 0; i < 25; i++ {
		snaps = append(snaps, Snapshot{
			DataType:     "sector",
			SnapshotTime: time.Date(2026, 3, 10, 9, i, 0, 0, time.UTC).Format("2006-01-02 15:04:05"),
			StockCode:    "600519",
			StockName:    "贵州茅台",
			Summary:      "白酒板块走强",
			Impact:       "positive",
			DataJSON:     "{}",
		})
	}
	snaps = append(snaps, Snapshot{
		DataType:     "sector",
		SnapshotTime: "2026-03-11 09:00:00",
		Summary:      "别的",
		Impact:       "negative",
		DataJSON:     "{}",
	})
	if err := s.AppendSnapshots(ctx, snaps); err != nil {
		t.Fatal(err)
	}

	page, err := s.QueryHistory(ctx, HistoryQuery{DataType: "sector", Page: 2, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 26 || page.TotalPages != 2 || len(page.Items) != 6 {
		t.Fatalf("page %+v items=%d", page, len(page.Items))
	}

	page, _ = s.QueryHistory(ctx, HistoryQuery{Impact: "negative"})
	if page.Total != 1 {
		t.Fatalf("impact filter total = %d, want 1", page.Total)
	}

	page, _ = s.QueryHistory(ctx, HistoryQuery{Search: "白酒"})
	if page.Total != 25 {
		t.Fatalf("search total = %d, want 25", page.Total)
	}

	page, _ = s.QueryHistory(ctx, HistoryQuery{StartDate: "2026-03-11", EndDate: "2026-03-11"})
	if page.Total != 1 {
		t.Fatalf("date filter total = %d, want 1", page.Total)
	}
}

func TestDeleteHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.AppendSnapshots(ctx, []Snapshot{
		{DataType: "news", SnapshotTime: "2026-03-09 10:00:00", DataJSON: "{}"},
		{DataType: "news", SnapshotTime: "2026-03-10 10:00:00", DataJSON: "{}"},
		{DataType: "quote", SnapshotTime: "2026-03-10 10:00:00", DataJSON: "{}"},
	})

	if _, err := s.DeleteHistory(ctx, "", "", false); err == nil {
		t.Fatal("delete without filters must error")
	}

	n, err := s.DeleteHistory(ctx, "news", "2026-03-09", false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	page, _ := s.QueryHistory(ctx, HistoryQuery{})
	if page.Total != 2 {
		t.Fatalf("remaining = %d, want 2", page.Total)
	}

	ok, err := s.DeleteHistoryRecord(ctx, page.Items[0].ID)
	if err != nil || !ok {
		t.Fatalf("delete by id: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.DeleteHistoryRecord(ctx, 99999); ok {
		t.Fatal("delete of missing id must report false")
	}

	n, _ = s.DeleteHistory(ctx, "", "", true)
	if n != 1 {
		t.Fatalf("delete all removed %d, want 1", n)
	}
}

func TestPersistConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.PersistConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg["quote"] || !cfg["news"] {
		t.Fatalf("seeded toggles must default to enabled: %v", cfg)
	}

	if err := s.SetPersistConfig(ctx, map[string]bool{"quote": false, "custom": true}); err != nil {
		t.Fatal(err)
	}
	if s.PersistEnabled(ctx, "quote") {
		t.Fatal("quote toggle must be off")
	}
	if !s.PersistEnabled(ctx, "custom") {
		t.Fatal("custom toggle must be on")
	}
	// Types never configured default to persisted.
	if !s.PersistEnabled(ctx, "unknown_type") {
		t.Fatal("unknown type must default to enabled")
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.AppendSnapshots(ctx, []Snapshot{
		{DataType: "quote", SnapshotTime: now.Format("2006-01-02 15:04:05"), DataJSON: "{}"},
		{DataType: "quote", SnapshotTime: now.Format("2006-01-02 15:04:05"), DataJSON: "{}"},
		{DataType: "news", SnapshotTime: now.AddDate(0, 0, -7).Format("2006-01-02 15:04:05"), Summary: "old", DataJSON: "{}"},
	})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 3 {
		t.Fatalf("total = %d, want 3", stats.TotalRecords)
	}
	if stats.TypeCounts["quote"] != 2 {
		t.Fatalf("24h quote count = %d, want 2", stats.TypeCounts["quote"])
	}
	if _, ok := stats.TypeCounts["news"]; ok {
		t.Fatal("week-old news must not appear in the 24h window")
	}
	if len(stats.Recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(stats.Recent))
	}
}

func TestParquetQuoteArchive(t *testing.T) {
	p := NewParquetStore(t.TempDir())
	ts := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	batch := []domain.Quote{
		{Code: "600519", Name: "贵州茅台", Price: 1700, Volume: 35000},
		{Code: "000001", Name: "平安银行", Price: 12.34, Volume: 800000},
	}
	if err := p.WriteQuotes(batch, ts); err != nil {
		t.Fatal(err)
	}

	// Same timestamp again: replaced, not duplicated.
	batch[0].Price = 1702
	if err := p.WriteQuotes(batch[:1], ts); err != nil {
		t.Fatal(err)
	}
	// A later poll appends.
	if err := p.WriteQuotes(batch[:1], ts.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}

	records, err := p.ReadQuotes("2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Code != "000001" {
		t.Fatalf("sort order wrong: %+v", records[0])
	}
	if records[1].Code != "600519" || records[1].Price != 1702 {
		t.Fatalf("dedup did not keep latest: %+v", records[1])
	}

	missing, err := p.ReadQuotes("2026-03-11")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("missing day = %v, want nil", missing)
	}
}
