package bars

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

var sessionStart = time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)

func TestApplyPriceBuildsBar(t *testing.T) {
	agg := New()
	at := sessionStart.Add(17 * time.Second)
	agg.ApplyPrice(100, at)
	agg.ApplyPrice(102, at.Add(5*time.Second))
	agg.ApplyPrice(99, at.Add(10*time.Second))
	agg.ApplyPrice(101, at.Add(20*time.Second))

	snap := agg.Snapshot(at.Add(time.Minute))
	if len(snap) != 1 {
		t.Fatalf("expected one bar, got %d", len(snap))
	}
	b := snap[0]
	if b.Open != 100 || b.High != 102 || b.Low != 99 || b.Close != 101 {
		t.Fatalf("unexpected OHLC: %+v", b)
	}
	if b.Low > b.Open || b.Open > b.High || b.Low > b.Close || b.Close > b.High {
		t.Fatalf("bar invariant violated: %+v", b)
	}
	if agg.SessionOpen() != 100 {
		t.Fatalf("session open should be first traded price, got %v", agg.SessionOpen())
	}
}

func TestApplySizeBeforePriceReconciles(t *testing.T) {
	agg := New()
	at := sessionStart
	agg.ApplySize(300, at)
	agg.ApplyPrice(50, at.Add(2*time.Second))
	agg.ApplySize(200, at.Add(3*time.Second))

	snap := agg.Snapshot(at)
	if len(snap) != 1 {
		t.Fatalf("expected one bar, got %d", len(snap))
	}
	b := snap[0]
	if b.Volume != 500 {
		t.Fatalf("expected volume 500, got %v", b.Volume)
	}
	if b.Open != 50 || b.High != 50 || b.Low != 50 || b.Close != 50 {
		t.Fatalf("zero-OHLC bar not reconciled by price tick: %+v", b)
	}
}

func TestOutOfOrderTickHitsOriginalMinute(t *testing.T) {
	agg := New()
	agg.ApplyPrice(100, sessionStart)
	agg.ApplyPrice(101, sessionStart.Add(time.Minute))
	// Late tick for the already-closed first minute.
	agg.ApplyPrice(99, sessionStart.Add(30*time.Second))

	snap := agg.Snapshot(sessionStart.Add(2 * time.Minute))
	if len(snap) != 2 {
		t.Fatalf("expected two bars, got %d", len(snap))
	}
	if snap[0].Close != 99 || snap[0].Low != 99 {
		t.Fatalf("late tick should update its original minute: %+v", snap[0])
	}
	if snap[1].Close != 101 {
		t.Fatalf("second minute disturbed: %+v", snap[1])
	}
}

func TestSnapshotIsStable(t *testing.T) {
	agg := New()
	agg.ApplyPrice(100, sessionStart)
	snap := agg.Snapshot(sessionStart)
	agg.ApplyPrice(200, sessionStart.Add(10*time.Second))
	if snap[0].Close != 100 {
		t.Fatalf("snapshot must not be revised by later ticks, got close %v", snap[0].Close)
	}
}

func TestConcurrentSizeTicksNoLostUpdates(t *testing.T) {
	agg := New()
	at := sessionStart
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				agg.ApplySize(1, at)
			}
		}()
	}
	wg.Wait()

	snap := agg.Snapshot(at)
	if snap[0].Volume != 1000 {
		t.Fatalf("expected summed volume 1000, got %v", snap[0].Volume)
	}
}

// One tick per second for a 30-minute window: minute bars resampled to a
// single epoch bar must equal the bar built directly from the raw ticks.
func TestRoundTripTicksToEpochBar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	agg := New()

	var (
		first, last float64
		hi          = -1.0
		lo          = 1e18
		vol         float64
	)
	px := 100.0
	for i := 0; i < 1800; i++ {
		px += (rng.Float64() - 0.5) * 0.2
		size := float64(rng.Intn(50) + 1)
		at := sessionStart.Add(time.Duration(i) * time.Second)
		agg.ApplyPrice(px, at)
		agg.ApplySize(size, at)

		if i == 0 {
			first = px
		}
		last = px
		if px > hi {
			hi = px
		}
		if px < lo {
			lo = px
		}
		vol += size
	}

	snap := agg.Snapshot(sessionStart.Add(30 * time.Minute))
	if len(snap) != 30 {
		t.Fatalf("expected 30 minute bars, got %d", len(snap))
	}
	epochs := Resample(snap, 30*time.Minute)
	if len(epochs) != 1 {
		t.Fatalf("expected a single 30-minute epoch bar, got %d", len(epochs))
	}
	e := epochs[0]
	if e.Open != first || e.Close != last || e.High != hi || e.Low != lo || e.Volume != vol {
		t.Fatalf("round trip mismatch: %+v vs first=%v last=%v hi=%v lo=%v vol=%v", e, first, last, hi, lo, vol)
	}
}

func TestResampleVWAP(t *testing.T) {
	mins := []market.MinuteBar{
		{Minute: sessionStart, Open: 10, High: 12, Low: 8, Close: 11, Volume: 100},
		{Minute: sessionStart.Add(time.Minute), Open: 11, High: 14, Low: 10, Close: 13, Volume: 300},
	}
	epochs := Resample(mins, 30*time.Minute)
	if len(epochs) != 1 {
		t.Fatalf("expected one epoch, got %d", len(epochs))
	}
	tp1 := (12.0 + 8.0 + 11.0) / 3
	tp2 := (14.0 + 10.0 + 13.0) / 3
	want := (tp1*100 + tp2*300) / 400
	if diff := epochs[0].VWAP - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("vwap mismatch: got %v want %v", epochs[0].VWAP, want)
	}
}

// A leading minute created by a size tick and never reconciled by a price
// tick must not seed the epoch with zero prices or drag the VWAP to zero.
func TestResamplePricelessLeadingMinuteVolumeOnly(t *testing.T) {
	agg := New()
	agg.ApplySize(500, sessionStart)
	agg.ApplyPrice(100, sessionStart.Add(time.Minute))
	agg.ApplySize(10, sessionStart.Add(time.Minute))
	agg.ApplyPrice(101, sessionStart.Add(2*time.Minute))
	agg.ApplySize(30, sessionStart.Add(2*time.Minute))

	snap := agg.Snapshot(sessionStart.Add(2 * time.Minute))
	epochs := Resample(snap, 30*time.Minute)
	if len(epochs) != 1 {
		t.Fatalf("expected one epoch, got %d", len(epochs))
	}
	e := epochs[0]
	if e.Open != 100 || e.High != 101 || e.Low != 100 || e.Close != 101 {
		t.Fatalf("priceless minute leaked into OHLC: %+v", e)
	}
	if e.Low > e.Open || e.Open > e.High || e.Low > e.Close || e.Close > e.High {
		t.Fatalf("bar invariant violated: %+v", e)
	}
	if e.Volume != 540 {
		t.Fatalf("priceless minute's volume must still count, got %v", e.Volume)
	}
	want := (100.0*10 + 101.0*30) / 40
	if diff := e.VWAP - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("vwap must exclude priceless volume: got %v want %v", e.VWAP, want)
	}
}

func TestResampleSplitsEpochs(t *testing.T) {
	mins := []market.MinuteBar{
		{Minute: sessionStart, Open: 10, High: 10, Low: 10, Close: 10, Volume: 1},
		{Minute: sessionStart.Add(29 * time.Minute), Open: 11, High: 11, Low: 11, Close: 11, Volume: 1},
		{Minute: sessionStart.Add(30 * time.Minute), Open: 12, High: 12, Low: 12, Close: 12, Volume: 1},
	}
	epochs := Resample(mins, 30*time.Minute)
	if len(epochs) != 2 {
		t.Fatalf("expected two epochs, got %d", len(epochs))
	}
	if epochs[0].Close != 11 || epochs[1].Open != 12 {
		t.Fatalf("epoch boundaries wrong: %+v", epochs)
	}
}
