// Package store persists the trading book and collected market data. SQLite
// holds the account, positions, order history and data snapshots; Parquet
// files archive the daily quote stream.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"qtrade/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// snapshotTypes is the set of data types seeded into persist_config. New
// types default to enabled.
var snapshotTypes = []string{
	"quote", "price_tick", "sector", "news", "scanner",
	"fund_flow", "capital_alert", "trading_alert", "signal",
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	stock_code TEXT NOT NULL,
	stock_name TEXT DEFAULT '',
	direction TEXT NOT NULL,
	price REAL NOT NULL,
	volume INTEGER NOT NULL,
	filled_volume INTEGER DEFAULT 0,
	filled_price REAL DEFAULT 0,
	status TEXT DEFAULT 'pending',
	strategy TEXT DEFAULT 'multi_factor',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	stock_code TEXT PRIMARY KEY,
	stock_name TEXT DEFAULT '',
	volume INTEGER DEFAULT 0,
	available_volume INTEGER DEFAULT 0,
	avg_cost REAL DEFAULT 0,
	market_value REAL DEFAULT 0,
	profit REAL DEFAULT 0,
	profit_ratio REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cash REAL DEFAULT 500000
);

INSERT OR IGNORE INTO account (id, cash) VALUES (1, 500000);

CREATE TABLE IF NOT EXISTS data_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data_type TEXT NOT NULL,
	data_id TEXT,
	snapshot_time TEXT NOT NULL,
	data_json TEXT NOT NULL,
	stock_code TEXT,
	stock_name TEXT,
	summary TEXT,
	impact TEXT,
	created_at TEXT DEFAULT (datetime('now','localtime'))
);

CREATE INDEX IF NOT EXISTS idx_dh_type_time
	ON data_history (data_type, snapshot_time DESC);
CREATE INDEX IF NOT EXISTS idx_dh_stock_type
	ON data_history (stock_code, data_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dh_type_dataid
	ON data_history (data_type, data_id)
	WHERE data_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS persist_config (
	data_type TEXT PRIMARY KEY,
	enabled INTEGER DEFAULT 1,
	updated_at TEXT DEFAULT (datetime('now','localtime'))
);
`

// SQLiteStore is the database-backed book and snapshot store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath, applies the
// schema and seeds the account row and persist toggles.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; funneling everything through a single
	// connection avoids SQLITE_BUSY under concurrent snapshot writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	for _, dt := range snapshotTypes {
		if _, err := db.Exec("INSERT OR IGNORE INTO persist_config (data_type) VALUES (?)", dt); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding persist_config: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Account and positions
// ---------------------------------------------------------------------------

// LoadAccount returns the persisted cash balance.
func (s *SQLiteStore) LoadAccount(ctx context.Context) (float64, error) {
	var cash float64
	err := s.db.QueryRowContext(ctx, "SELECT cash FROM account WHERE id = 1").Scan(&cash)
	if err != nil {
		return 0, fmt.Errorf("loading account: %w", err)
	}
	return cash, nil
}

// SaveCash writes the cash balance into the single account row.
func (s *SQLiteStore) SaveCash(ctx context.Context, cash float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE account SET cash = ? WHERE id = 1", cash)
	if err != nil {
		return fmt.Errorf("saving cash: %w", err)
	}
	return nil
}

// LoadPositions returns all persisted positions.
func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stock_code, stock_name, volume, available_volume,
		       avg_cost, market_value, profit, profit_ratio
		FROM positions ORDER BY stock_code`)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.StockCode, &p.StockName, &p.Volume, &p.AvailableVolume,
			&p.AvgCost, &p.MarketValue, &p.Profit, &p.ProfitRatio); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePositions replaces the positions table with the given snapshot in one
// transaction.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions []domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM positions"); err != nil {
		return fmt.Errorf("clearing positions: %w", err)
	}
	for _, p := range positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (stock_code, stock_name, volume, available_volume,
			                       avg_cost, market_value, profit, profit_ratio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.StockCode, p.StockName, p.Volume, p.AvailableVolume,
			p.AvgCost, p.MarketValue, p.Profit, p.ProfitRatio)
		if err != nil {
			return fmt.Errorf("saving position %s: %w", p.StockCode, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// AppendOrder upserts one order row. Fills and cancels re-write the same
// order_id with the latest state.
func (s *SQLiteStore) AppendOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
			(order_id, stock_code, stock_name, direction, price, volume,
			 filled_volume, filled_price, status, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.StockCode, o.StockName, string(o.Direction), o.Price, o.Volume,
		o.FilledVolume, o.FilledPrice, string(o.Status), string(o.Strategy),
		o.CreatedAt.Format(time.RFC3339), o.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving order %s: %w", o.OrderID, err)
	}
	return nil
}

// ListOrders returns persisted orders, newest first, optionally filtered by
// status.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT order_id, stock_code, stock_name, direction, price, volume,
		       filled_volume, filled_price, status, strategy, created_at, updated_at
		FROM orders`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var direction, ostatus, strategy, created, updated string
		if err := rows.Scan(&o.OrderID, &o.StockCode, &o.StockName, &direction,
			&o.Price, &o.Volume, &o.FilledVolume, &o.FilledPrice,
			&ostatus, &strategy, &created, &updated); err != nil {
			return nil, err
		}
		o.Direction = domain.Direction(direction)
		o.Status = domain.OrderStatus(ostatus)
		o.Strategy = domain.StrategyType(strategy)
		o.CreatedAt, _ = time.Parse(time.RFC3339, created)
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Data history
// ---------------------------------------------------------------------------

// Snapshot is one collected data record. DataID, when set, deduplicates:
// a snapshot with the same (DataType, DataID) replaces the earlier row.
type Snapshot struct {
	DataType     string `json:"data_type"`
	DataID       string `json:"data_id,omitempty"`
	SnapshotTime string `json:"snapshot_time"`
	StockCode    string `json:"stock_code,omitempty"`
	StockName    string `json:"stock_name,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Impact       string `json:"impact,omitempty"`
	DataJSON     string `json:"-"`
}

// HistoryRecord is a stored snapshot as served by the history API.
type HistoryRecord struct {
	ID           int64  `json:"id"`
	DataType     string `json:"data_type"`
	DataID       string `json:"data_id,omitempty"`
	SnapshotTime string `json:"snapshot_time"`
	StockCode    string `json:"stock_code,omitempty"`
	StockName    string `json:"stock_name,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Impact       string `json:"impact,omitempty"`
	DataJSON     string `json:"data_json,omitempty"`
}

// AppendSnapshots stores a batch of snapshots, deduplicating rows that carry
// a data id.
func (s *SQLiteStore) AppendSnapshots(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sn := range snaps {
		var dataID any
		if sn.DataID != "" {
			dataID = sn.DataID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO data_history
				(data_type, data_id, snapshot_time, data_json,
				 stock_code, stock_name, summary, impact)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (data_type, data_id) WHERE data_id IS NOT NULL
			DO UPDATE SET
				snapshot_time = excluded.snapshot_time,
				data_json = excluded.data_json,
				summary = excluded.summary,
				impact = excluded.impact`,
			sn.DataType, dataID, sn.SnapshotTime, sn.DataJSON,
			sn.StockCode, sn.StockName, sn.Summary, sn.Impact)
		if err != nil {
			return fmt.Errorf("saving %s snapshot: %w", sn.DataType, err)
		}
	}
	return tx.Commit()
}

// HistoryQuery filters and paginates a history read. Page starts at 1;
// PageSize is clamped to [1, 100].
type HistoryQuery struct {
	DataType  string
	StockCode string
	Search    string
	Impact    string
	StartDate string // YYYY-MM-DD inclusive
	EndDate   string // YYYY-MM-DD inclusive
	Page      int
	PageSize  int
}

// HistoryPage is one page of history records.
type HistoryPage struct {
	Items      []HistoryRecord `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// QueryHistory returns one page of snapshots matching the query, newest
// first.
func (s *SQLiteStore) QueryHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}

	var conds []string
	var args []any
	if q.DataType != "" {
		conds = append(conds, "data_type = ?")
		args = append(args, q.DataType)
	}
	if q.StockCode != "" {
		conds = append(conds, "stock_code = ?")
		args = append(args, q.StockCode)
	}
	if q.Impact != "" {
		conds = append(conds, "impact = ?")
		args = append(args, q.Impact)
	}
	if q.Search != "" {
		conds = append(conds, "(summary LIKE ? OR stock_name LIKE ?)")
		pat := "%" + q.Search + "%"
		args = append(args, pat, pat)
	}
	if q.StartDate != "" {
		conds = append(conds, "snapshot_time >= ?")
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		conds = append(conds, "snapshot_time <= ?")
		args = append(args, q.EndDate+" 23:59:59")
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM data_history WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}

	offset := (q.Page - 1) * q.PageSize
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data_type, COALESCE(data_id, ''), snapshot_time,
		       COALESCE(stock_code, ''), COALESCE(stock_name, ''),
		       COALESCE(summary, ''), COALESCE(impact, ''), data_json
		FROM data_history WHERE `+where+`
		ORDER BY snapshot_time DESC
		LIMIT ? OFFSET ?`, append(args, q.PageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	page := &HistoryPage{
		Items:      []HistoryRecord{},
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.ID, &r.DataType, &r.DataID, &r.SnapshotTime,
			&r.StockCode, &r.StockName, &r.Summary, &r.Impact, &r.DataJSON); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, r)
	}
	return page, rows.Err()
}

// HistoryStats summarizes the history table: per-type counts over the last
// 24 hours, the five newest records and the total row count.
type HistoryStats struct {
	TypeCounts   map[string]int  `json:"type_counts"`
	Recent       []HistoryRecord `json:"recent"`
	TotalRecords int             `json:"total_records"`
}

// Stats computes the history overview.
func (s *SQLiteStore) Stats(ctx context.Context) (*HistoryStats, error) {
	stats := &HistoryStats{TypeCounts: map[string]int{}, Recent: []HistoryRecord{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data_type, COUNT(*) FROM data_history
		WHERE snapshot_time >= datetime('now','-1 day','localtime')
		GROUP BY data_type`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	for rows.Next() {
		var dt string
		var n int
		if err := rows.Scan(&dt, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.TypeCounts[dt] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, data_type, snapshot_time, COALESCE(summary, ''), COALESCE(impact, '')
		FROM data_history ORDER BY snapshot_time DESC LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.ID, &r.DataType, &r.SnapshotTime, &r.Summary, &r.Impact); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Recent = append(stats.Recent, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_history").Scan(&stats.TotalRecords)
	return stats, err
}

// DeleteHistory removes snapshots by type and/or cut-off date, or the whole
// table when all is set. It returns the number of rows removed and requires
// at least one filter when all is false.
func (s *SQLiteStore) DeleteHistory(ctx context.Context, dataType, beforeDate string, all bool) (int64, error) {
	if all {
		res, err := s.db.ExecContext(ctx, "DELETE FROM data_history")
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	var conds []string
	var args []any
	if dataType != "" {
		conds = append(conds, "data_type = ?")
		args = append(args, dataType)
	}
	if beforeDate != "" {
		conds = append(conds, "snapshot_time <= ?")
		args = append(args, beforeDate+" 23:59:59")
	}
	if len(conds) == 0 {
		return 0, fmt.Errorf("delete requires data_type or before_date")
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM data_history WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteHistoryRecord removes one snapshot by id. The bool reports whether
// a row existed.
func (s *SQLiteStore) DeleteHistoryRecord(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM data_history WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Persist toggles
// ---------------------------------------------------------------------------

// PersistConfig returns the enabled flag for every known data type.
func (s *SQLiteStore) PersistConfig(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data_type, enabled FROM persist_config")
	if err != nil {
		return nil, fmt.Errorf("loading persist config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var dt string
		var enabled int
		if err := rows.Scan(&dt, &enabled); err != nil {
			return nil, err
		}
		out[dt] = enabled != 0
	}
	return out, rows.Err()
}

// SetPersistConfig upserts the given toggles.
func (s *SQLiteStore) SetPersistConfig(ctx context.Context, toggles map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for dt, enabled := range toggles {
		v := 0
		if enabled {
			v = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO persist_config (data_type, enabled, updated_at)
			VALUES (?, ?, datetime('now','localtime'))
			ON CONFLICT (data_type) DO UPDATE
			SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
			dt, v)
		if err != nil {
			return fmt.Errorf("setting persist toggle %s: %w", dt, err)
		}
	}
	return tx.Commit()
}

// PersistEnabled reports whether snapshots of the given type should be
// stored. Unknown types are persisted.
func (s *SQLiteStore) PersistEnabled(ctx context.Context, dataType string) bool {
	var enabled int
	err := s.db.QueryRowContext(ctx,
		"SELECT enabled FROM persist_config WHERE data_type = ?", dataType).Scan(&enabled)
	if err != nil {
		return true
	}
	return enabled != 0
}
