// Package market standardizes payloads shared between the broker collaborator,
// the bar aggregator, and the calibrator.
package market

import "time"

// TickKind identifies the broker's tick type codes. Only last-price and
// last-size kinds (real-time or delayed) update aggregation state.
type TickKind int

const (
	KindLast            TickKind = 4
	KindLastSize        TickKind = 5
	KindDelayedLast     TickKind = 68
	KindDelayedLastSize TickKind = 71
)

// IsLastPrice reports whether the kind carries a trade price.
func (k TickKind) IsLastPrice() bool {
	return k == KindLast || k == KindDelayedLast
}

// IsLastSize reports whether the kind carries a trade size.
func (k TickKind) IsLastSize() bool {
	return k == KindLastSize || k == KindDelayedLastSize
}

// Bar is a fine-granularity OHLCV bar as delivered by historical loaders.
type Bar struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MinuteBar is a live bar keyed by its wall-clock minute. Owned exclusively
// by the aggregator while the minute is open.
type MinuteBar struct {
	Minute time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// EpochBar is a MinuteBar run resampled to the decision-epoch width, with the
// volume-weighted average price accumulated within the epoch.
type EpochBar struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	VWAP   float64
}

// TypicalPrice is the (high+low+close)/3 price used for VWAP accumulation.
func (b MinuteBar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}
