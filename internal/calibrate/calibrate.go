// Package calibrate derives the dynamic noise-area bound curve from
// historical intraday bars. Calibration runs once at startup; its output is
// immutable and shared read-only with the scheduler and order manager.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// ErrInsufficientHistory signals fewer trading days than lookback_days+2.
var ErrInsufficientHistory = errors.New("insufficient history for calibration")

// Params are the calibration inputs beyond the bar series itself.
type Params struct {
	LookbackDays int
	// Multiplier scales avg_move when projecting the upper/lower bounds.
	Multiplier float64
	// Location is the session timezone used to partition days and minutes.
	Location *time.Location
}

// DailyStat holds per-day aggregates and trailing statistics.
// Mu and Sigma are NaN for days where the trailing window is not yet full.
type DailyStat struct {
	Date      time.Time
	DayOpen   float64
	DayClose  float64
	PrevClose float64
	Mu        float64
	Sigma     float64
}

// CurvePoint is one minute of the historical bound-curve table.
type CurvePoint struct {
	Date        time.Time
	MinuteOfDay int
	AvgMove     float64
	Upper       float64
	Lower       float64
}

// MinuteAvg is the most recent lookback-window average move for one
// minute-of-day, used to seed the live session's bound curve.
type MinuteAvg struct {
	MinuteOfDay int
	AvgMove     float64
}

// Result is the full calibration output.
type Result struct {
	Days []DailyStat
	// Curve holds bound-curve entries for every (day, minute) where both the
	// shifted average move and the previous close are defined.
	Curve []CurvePoint
	// LatestAvg is the unshifted average move over the final lookback window,
	// ordered by minute-of-day.
	LatestAvg []MinuteAvg
	// Sigma is the most recent realized-volatility estimate.
	Sigma float64
	// LastClose is the final day's close, the live session's prev_close.
	LastClose float64
}

// SessionBounds projects the latest average-move profile onto a live session
// given the previous close and the session's observed opening price.
// Returned bounds are keyed by minute-of-day in calibration order.
func (r *Result) SessionBounds(sessionOpen float64, multiplier float64) []CurvePoint {
	ref := r.LastClose
	hi := math.Max(ref, sessionOpen)
	lo := math.Min(ref, sessionOpen)
	out := make([]CurvePoint, 0, len(r.LatestAvg))
	for _, m := range r.LatestAvg {
		out = append(out, CurvePoint{
			MinuteOfDay: m.MinuteOfDay,
			AvgMove:     m.AvgMove,
			Upper:       hi * (1 + multiplier*m.AvgMove),
			Lower:       lo * (1 - multiplier*m.AvgMove),
		})
	}
	return out
}

type day struct {
	date    time.Time
	open    float64
	close   float64
	moves   map[int]float64 // minute-of-day -> |close/day_open - 1|
	minutes []int
}

// Run computes the bound curve from fine-granularity historical bars.
// It is a pure function: deterministic for identical input, no side effects.
func Run(bars []market.Bar, p Params) (*Result, error) {
	if p.LookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive, got %d", p.LookbackDays)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	days := partitionDays(bars, loc)
	n := p.LookbackDays
	if len(days) < n+2 {
		return nil, fmt.Errorf("%w: have %d trading days, need %d", ErrInsufficientHistory, len(days), n+2)
	}

	stats := dailyStats(days, n)

	// Universe of observed minutes-of-day, sorted.
	minuteSet := map[int]struct{}{}
	for _, d := range days {
		for _, m := range d.minutes {
			minuteSet[m] = struct{}{}
		}
	}
	minutes := make([]int, 0, len(minuteSet))
	for m := range minuteSet {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	// filled[i][j] is day i's move at minute j, forward-filled per minute
	// column across days so early closes inherit the prior day's value.
	filled := make([][]float64, len(days))
	for i := range filled {
		filled[i] = make([]float64, len(minutes))
	}
	for j, m := range minutes {
		carry := math.NaN()
		for i, d := range days {
			if v, ok := d.moves[m]; ok {
				carry = v
			}
			filled[i][j] = carry
		}
	}

	// avgMove[i][j]: trailing n-day mean shifted by one day, so day i only
	// sees days strictly before it. NaN until the window is fully populated.
	avgMove := make([][]float64, len(days))
	for i := range avgMove {
		avgMove[i] = make([]float64, len(minutes))
		for j := range avgMove[i] {
			avgMove[i][j] = trailingMean(filled, i-1, n, j)
		}
	}

	var curve []CurvePoint
	for i := 1; i < len(days); i++ {
		st := stats[i]
		hi := math.Max(st.PrevClose, st.DayOpen)
		lo := math.Min(st.PrevClose, st.DayOpen)
		for j, m := range minutes {
			av := avgMove[i][j]
			if math.IsNaN(av) {
				continue
			}
			curve = append(curve, CurvePoint{
				Date:        st.Date,
				MinuteOfDay: m,
				AvgMove:     av,
				Upper:       hi * (1 + p.Multiplier*av),
				Lower:       lo * (1 - p.Multiplier*av),
			})
		}
	}

	// Unshifted average over the final n days, skipping still-missing values.
	latest := make([]MinuteAvg, 0, len(minutes))
	for j, m := range minutes {
		var sum float64
		var cnt int
		for i := len(days) - n; i < len(days); i++ {
			if !math.IsNaN(filled[i][j]) {
				sum += filled[i][j]
				cnt++
			}
		}
		if cnt == 0 {
			continue
		}
		latest = append(latest, MinuteAvg{MinuteOfDay: m, AvgMove: sum / float64(cnt)})
	}

	return &Result{
		Days:      stats,
		Curve:     curve,
		LatestAvg: latest,
		Sigma:     stats[len(stats)-1].Sigma,
		LastClose: stats[len(stats)-1].DayClose,
	}, nil
}

func partitionDays(bars []market.Bar, loc *time.Location) []*day {
	sorted := make([]market.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var days []*day
	var cur *day
	for _, b := range sorted {
		ts := b.Start.In(loc)
		date := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
		if cur == nil || !cur.date.Equal(date) {
			cur = &day{date: date, open: b.Open, moves: map[int]float64{}}
			days = append(days, cur)
		}
		cur.close = b.Close
		m := ts.Hour()*60 + ts.Minute()
		if _, seen := cur.moves[m]; !seen {
			cur.minutes = append(cur.minutes, m)
		}
		if cur.open != 0 {
			cur.moves[m] = math.Abs(b.Close/cur.open - 1)
		}
	}
	return days
}

// dailyStats computes prev_close, the shifted trailing mean return mu, and
// the realized-volatility estimate sigma for each day.
//
// sigma anchors every squared deviation in the trailing window to the
// window's own mu, not each day's own trailing mean. The window spans n+2
// days ending at day i; returns are taken for the n interior days.
func dailyStats(days []*day, n int) []DailyStat {
	stats := make([]DailyStat, len(days))
	rets := make([]float64, len(days))
	rets[0] = math.NaN()
	for i := 1; i < len(days); i++ {
		rets[i] = days[i].close/days[i-1].close - 1
	}

	for i, d := range days {
		st := DailyStat{Date: d.date, DayOpen: d.open, DayClose: d.close}
		st.PrevClose = math.NaN()
		if i > 0 {
			st.PrevClose = days[i-1].close
		}

		// mu[i] = mean of the n daily returns ending at day i-1.
		st.Mu = math.NaN()
		if i-n >= 1 {
			var sum float64
			for k := i - n; k <= i-1; k++ {
				sum += rets[k]
			}
			st.Mu = sum / float64(n)
		}

		st.Sigma = math.NaN()
		if i-(n+1) >= 0 && !math.IsNaN(st.Mu) {
			var sum float64
			for k := i - n; k <= i-1; k++ {
				dev := rets[k] - st.Mu
				sum += dev * dev
			}
			st.Sigma = math.Sqrt(sum / float64(n-1))
		}
		stats[i] = st
	}
	return stats
}

// trailingMean averages column j over the n rows ending at row last.
// Returns NaN when the window extends past the start or contains gaps.
func trailingMean(filled [][]float64, last, n, j int) float64 {
	if last-n+1 < 0 {
		return math.NaN()
	}
	var sum float64
	for i := last - n + 1; i <= last; i++ {
		v := filled[i][j]
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += v
	}
	return sum / float64(n)
}
