package hist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

const (
	defaultBinanceBaseURL = "https://api.binance.com"
	klinesPageLimit       = 1000
)

// BinanceLoader pages 1-minute klines from the public REST API. Requests are
// throttled to stay inside the venue's request-weight budget.
type BinanceLoader struct {
	Symbol   string
	Interval string
	Days     int
	BaseURL  string

	client  *http.Client
	limiter *rate.Limiter
}

// NewBinanceLoader builds a loader for symbol covering the trailing days.
func NewBinanceLoader(symbol, interval string, days int) *BinanceLoader {
	if interval == "" {
		interval = "1m"
	}
	if days <= 0 {
		days = 30
	}
	return &BinanceLoader{
		Symbol:   symbol,
		Interval: interval,
		Days:     days,
		BaseURL:  defaultBinanceBaseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// Bars pages klines forward from the start of the window until now.
func (l *BinanceLoader) Bars(ctx context.Context) ([]market.Bar, error) {
	if l.client == nil {
		l.client = &http.Client{Timeout: 15 * time.Second}
	}
	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	}

	start := time.Now().UTC().AddDate(0, 0, -l.Days).UnixMilli()
	var bars []market.Bar
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := l.fetchPage(ctx, start)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)
		start = page[len(page)-1].Start.Add(time.Minute).UnixMilli()
		if len(page) < klinesPageLimit {
			break
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no klines returned for %s", l.Symbol)
	}
	return bars, nil
}

func (l *BinanceLoader) fetchPage(ctx context.Context, startMs int64) ([]market.Bar, error) {
	q := url.Values{}
	q.Set("symbol", l.Symbol)
	q.Set("interval", l.Interval)
	q.Set("limit", strconv.Itoa(klinesPageLimit))
	q.Set("startTime", strconv.FormatInt(startMs, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.BaseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request failed: %s", resp.Status)
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("short kline row: %d fields", len(k))
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline open time: %w", err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			var s string
			if err := json.Unmarshal(k[i+1], &s); err != nil {
				return nil, fmt.Errorf("kline field %d: %w", i+1, err)
			}
			vals[i], err = strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline field %d: %w", i+1, err)
			}
		}
		bars = append(bars, market.Bar{
			Start: time.UnixMilli(openMs).UTC(),
			Open:  vals[0], High: vals[1], Low: vals[2], Close: vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}
