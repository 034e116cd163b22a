package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"qtrade/internal/domain"
)

// ParquetStore archives the quote stream as one Parquet file per trading
// day.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// QuoteRecord is the Parquet schema for archived quotes.
type QuoteRecord struct {
	Code          string  `parquet:"code"`
	Name          string  `parquet:"name"`
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price         float64 `parquet:"price"`
	ChangePercent float64 `parquet:"change_percent"`
	Volume        int64   `parquet:"volume"`
	Amount        float64 `parquet:"amount"`
	High          float64 `parquet:"high"`
	Low           float64 `parquet:"low"`
	Open          float64 `parquet:"open"`
	PrevClose     float64 `parquet:"prev_close"`
	TurnoverRate  float64 `parquet:"turnover_rate"`
	PE            float64 `parquet:"pe"`
}

// WriteQuotes appends a quote batch taken at ts to that day's archive file
// at <DataDir>/cn/quotes/<YYYY-MM-DD>.parquet. Existing records for the
// same (code, timestamp) are replaced, so re-running a poll is harmless.
func (s *ParquetStore) WriteQuotes(quotes []domain.Quote, ts time.Time) error {
	if len(quotes) == 0 {
		return nil
	}
	records := make([]QuoteRecord, 0, len(quotes))
	for _, q := range quotes {
		records = append(records, QuoteRecord{
			Code:          q.Code,
			Name:          q.Name,
			Timestamp:     ts.UnixMilli(),
			Price:         q.Price,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			Amount:        q.Amount,
			High:          q.High,
			Low:           q.Low,
			Open:          q.Open,
			PrevClose:     q.PrevClose,
			TurnoverRate:  q.TurnoverRate,
			PE:            q.PE,
		})
	}

	path := s.quotePath(ts.Format("2006-01-02"))
	existing, _ := readParquetFile[QuoteRecord](path)
	merged := mergeQuoteRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing quote archive: %w", err)
	}
	return nil
}

// ReadQuotes returns all archived quotes for a YYYY-MM-DD date, sorted by
// timestamp then code. A missing day yields an empty slice.
func (s *ParquetStore) ReadQuotes(date string) ([]QuoteRecord, error) {
	records, err := readParquetFile[QuoteRecord](s.quotePath(date))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// quotePath returns <dataDir>/cn/quotes/<date>.parquet.
func (s *ParquetStore) quotePath(date string) string {
	return filepath.Join(s.DataDir, "cn", "quotes", date+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeQuoteRecords deduplicates by (code, timestamp), preferring incoming
// records. Results are sorted by timestamp then code.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	type key struct {
		code string
		ts   int64
	}
	seen := make(map[key]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Code, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Code, r.Timestamp}] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Code < merged[j].Code
	})
	return merged
}
