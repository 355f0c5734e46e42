// Package hist loads fine-granularity historical bars for calibration.
package hist

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PraneshBalekai/vol-range-momentum/internal/config"
	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// Loader produces the bar series fed into the calibrator.
type Loader interface {
	Bars(ctx context.Context) ([]market.Bar, error)
}

// New selects a loader implementation from config.
func New(cfg config.Historical) (Loader, error) {
	switch strings.ToLower(cfg.Source) {
	case "csv":
		return &CSVLoader{Path: cfg.Path}, nil
	case "binance":
		return NewBinanceLoader(cfg.Symbol, cfg.Interval, cfg.FetchDays), nil
	default:
		return nil, fmt.Errorf("unknown historical data source %q", cfg.Source)
	}
}

// CSVLoader reads bars from a local file with rows of
// timestamp,open,high,low,close,volume. Timestamps are RFC3339 or unix
// seconds; a header row is skipped.
type CSVLoader struct {
	Path string
}

// Bars reads and parses the whole file.
func (l *CSVLoader) Bars(ctx context.Context) ([]market.Bar, error) {
	file, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	var bars []market.Bar
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bars file: %w", err)
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(record))
		}
		if line == 1 && isHeader(record[0]) {
			continue
		}
		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			vals[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
		}
		bars = append(bars, market.Bar{
			Start: ts,
			Open:  vals[0], High: vals[1], Low: vals[2], Close: vals[3],
			Volume: vals[4],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars in %s", l.Path)
	}
	return bars, nil
}

// isHeader recognizes the timestamp column of a header row by name, so a
// malformed first data row in a headerless file errors instead of vanishing.
func isHeader(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timestamp", "time", "date", "datetime":
		return true
	}
	return false
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
