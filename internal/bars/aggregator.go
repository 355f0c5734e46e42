// Package bars aggregates streaming trade ticks into minute OHLCV bars and
// resamples them to decision-epoch bars.
package bars

import (
	"sort"
	"sync"
	"time"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// Aggregator owns the growing map of minute bars. The market-data goroutine
// writes through ApplyPrice/ApplySize while the scheduler reads snapshots;
// all access goes through the mutex.
type Aggregator struct {
	mu          sync.Mutex
	bars        map[int64]*market.MinuteBar // keyed by unix minute
	order       []int64                     // arrival order of minute keys
	sessionOpen float64
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{bars: make(map[int64]*market.MinuteBar)}
}

func minuteKey(at time.Time) int64 {
	return at.Truncate(time.Minute).Unix()
}

// ApplyPrice folds a last-price tick into the bar for at's minute, creating
// the bar on first sight. A bar created earlier by a size tick has zero OHLC
// and is reconciled here.
func (a *Aggregator) ApplyPrice(price float64, at time.Time) {
	key := minuteKey(at)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sessionOpen == 0 {
		a.sessionOpen = price
	}
	b, ok := a.bars[key]
	if !ok {
		a.bars[key] = &market.MinuteBar{
			Minute: time.Unix(key, 0).UTC(),
			Open:   price, High: price, Low: price, Close: price,
		}
		a.order = append(a.order, key)
		return
	}
	b.Close = price
	if b.Open == 0 {
		b.Open = price
	}
	if b.Low == 0 || price < b.Low {
		b.Low = price
	}
	if price > b.High {
		b.High = price
	}
}

// ApplySize adds a last-size tick's quantity to the bar volume for at's
// minute, creating a zero-OHLC bar if no price tick has arrived yet.
func (a *Aggregator) ApplySize(size float64, at time.Time) {
	key := minuteKey(at)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.bars[key]
	if !ok {
		b = &market.MinuteBar{Minute: time.Unix(key, 0).UTC()}
		a.bars[key] = b
		a.order = append(a.order, key)
	}
	b.Volume += size
}

// SessionOpen returns the first traded price observed this session, or 0
// before any price tick has arrived.
func (a *Aggregator) SessionOpen() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionOpen
}

// Snapshot returns copies of all bars with minute <= until, sorted by minute.
// The copies are stable: later ticks to the live map do not revise them.
func (a *Aggregator) Snapshot(until time.Time) []market.MinuteBar {
	limit := minuteKey(until)

	a.mu.Lock()
	out := make([]market.MinuteBar, 0, len(a.order))
	for _, key := range a.order {
		if key > limit {
			continue
		}
		out = append(out, *a.bars[key])
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Minute.Before(out[j].Minute) })
	return out
}

// Resample folds minute bars into epoch bars of the given width:
// open=first, close=last, high=max, low=min, volume=sum, and VWAP as the
// typical-price volume average accumulated within each epoch. Minutes created
// by size ticks and never reconciled by a price tick carry volume but no
// price; they contribute to the epoch's volume only, never to its OHLC or
// VWAP. Bars must be sorted by minute, as returned by Snapshot.
func Resample(bars []market.MinuteBar, width time.Duration) []market.EpochBar {
	if width <= 0 || len(bars) == 0 {
		return nil
	}

	var out []market.EpochBar
	var cur *market.EpochBar
	var pvSum, volSum float64

	for _, b := range bars {
		start := b.Minute.Truncate(width)
		if cur == nil || !cur.Start.Equal(start) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &market.EpochBar{Start: start}
			pvSum, volSum = 0, 0
		}
		cur.Volume += b.Volume
		if b.Close == 0 {
			continue
		}
		if cur.Open == 0 {
			cur.Open, cur.High, cur.Low = b.Open, b.High, b.Low
		} else {
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
		}
		cur.Close = b.Close
		pvSum += b.TypicalPrice() * b.Volume
		volSum += b.Volume
		if volSum > 0 {
			cur.VWAP = pvSum / volSum
		}
	}
	out = append(out, *cur)
	return out
}
