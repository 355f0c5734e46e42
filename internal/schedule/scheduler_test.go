package schedule

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/bars"
	"github.com/PraneshBalekai/vol-range-momentum/internal/calibrate"
)

var epochStart = time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)

// flatCurve fabricates a calibration result whose latest average move is
// constant across the session, giving bounds 100*(1±0.8*0.01).
func flatCurve() *calibrate.Result {
	res := &calibrate.Result{LastClose: 100, Sigma: 0.01}
	for m := 13*60 + 30; m < 16*60; m++ {
		res.LatestAvg = append(res.LatestAvg, calibrate.MinuteAvg{MinuteOfDay: m, AvgMove: 0.01})
	}
	return res
}

func newTestScheduler(agg *bars.Aggregator, out chan Instruction) *Scheduler {
	return New(agg, flatCurve(), out, Config{
		EpochWidth:  30 * time.Minute,
		Multiplier:  0.8,
		Location:    time.UTC,
		SendTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
}

func drain(out chan Instruction) []Instruction {
	var got []Instruction
	for {
		select {
		case in := <-out:
			got = append(got, in)
		default:
			return got
		}
	}
}

func TestFiresOncePerEpoch(t *testing.T) {
	agg := bars.New()
	agg.ApplyPrice(100, epochStart.Add(time.Minute))
	out := make(chan Instruction, 16)
	s := newTestScheduler(agg, out)

	s.Tick(epochStart.Add(2 * time.Minute)) // primes only
	s.Tick(epochStart.Add(10 * time.Minute))
	if got := drain(out); len(got) != 0 {
		t.Fatalf("no epoch boundary crossed yet, got %v", got)
	}

	s.Tick(epochStart.Add(31 * time.Minute))
	first := drain(out)
	if len(first) == 0 {
		t.Fatalf("expected instructions after epoch boundary")
	}

	s.Tick(epochStart.Add(32 * time.Minute))
	s.Tick(epochStart.Add(45 * time.Minute))
	if got := drain(out); len(got) != 0 {
		t.Fatalf("epoch already fired, got %v", got)
	}

	s.Tick(epochStart.Add(61 * time.Minute))
	if got := drain(out); len(got) == 0 {
		t.Fatalf("expected instructions in the next epoch")
	}
}

func TestBreakoutAboveUpperEmitsEnterLong(t *testing.T) {
	agg := bars.New()
	// Session open 100, close pushed above upper bound 100.8.
	agg.ApplyPrice(100, epochStart.Add(time.Minute))
	agg.ApplyPrice(102, epochStart.Add(20*time.Minute))
	agg.ApplySize(500, epochStart.Add(20*time.Minute))

	out := make(chan Instruction, 16)
	s := newTestScheduler(agg, out)
	s.Tick(epochStart.Add(time.Minute))
	s.Tick(epochStart.Add(30*time.Minute + time.Second))

	got := drain(out)
	if !contains(got, EnterLong) {
		t.Fatalf("expected EnterLong on breakout above upper, got %v", got)
	}
	if contains(got, EnterShort) {
		t.Fatalf("EnterShort must not fire above the lower bound, got %v", got)
	}
}

func TestBreakdownBelowLowerEmitsEnterShort(t *testing.T) {
	agg := bars.New()
	agg.ApplyPrice(100, epochStart.Add(time.Minute))
	agg.ApplyPrice(98, epochStart.Add(20*time.Minute))
	agg.ApplySize(500, epochStart.Add(20*time.Minute))

	out := make(chan Instruction, 16)
	s := newTestScheduler(agg, out)
	s.Tick(epochStart.Add(time.Minute))
	s.Tick(epochStart.Add(30*time.Minute + time.Second))

	got := drain(out)
	if !contains(got, EnterShort) {
		t.Fatalf("expected EnterShort on breakdown below lower, got %v", got)
	}
	if !contains(got, ExitLong) {
		t.Fatalf("close below upper also emits ExitLong for the state machine to arbitrate, got %v", got)
	}
}

func TestInsideBandsEmitsExitsOnly(t *testing.T) {
	agg := bars.New()
	agg.ApplyPrice(100, epochStart.Add(time.Minute))
	agg.ApplyPrice(100.1, epochStart.Add(20*time.Minute))
	agg.ApplySize(500, epochStart.Add(20*time.Minute))

	out := make(chan Instruction, 16)
	s := newTestScheduler(agg, out)
	s.Tick(epochStart.Add(time.Minute))
	s.Tick(epochStart.Add(30*time.Minute + time.Second))

	got := drain(out)
	if contains(got, EnterLong) || contains(got, EnterShort) {
		t.Fatalf("no entries expected inside the noise area, got %v", got)
	}
	if !contains(got, ExitLong) || !contains(got, ExitShort) {
		t.Fatalf("expected both exit instructions inside the noise area, got %v", got)
	}
}

// Size ticks alone must not produce a decision: an epoch whose bars carry no
// traded price has nothing to compare against the bounds.
func TestEpochWithoutTradedPriceEmitsNothing(t *testing.T) {
	agg := bars.New()
	agg.ApplyPrice(100, epochStart.Add(time.Minute)) // session open, first epoch
	agg.ApplySize(500, epochStart.Add(31*time.Minute))
	agg.ApplySize(300, epochStart.Add(45*time.Minute))

	out := make(chan Instruction, 16)
	s := newTestScheduler(agg, out)
	s.Tick(epochStart.Add(31 * time.Minute))
	s.Tick(epochStart.Add(60*time.Minute + time.Second))

	if got := drain(out); len(got) != 0 {
		t.Fatalf("priceless epoch must not emit instructions, got %v", got)
	}
}

func TestStalledConsumerDropsInstruction(t *testing.T) {
	agg := bars.New()
	agg.ApplyPrice(100, epochStart.Add(time.Minute))
	agg.ApplyPrice(102, epochStart.Add(20*time.Minute))

	out := make(chan Instruction) // unbuffered, nobody consuming
	s := newTestScheduler(agg, out)
	s.Tick(epochStart.Add(time.Minute))

	done := make(chan struct{})
	go func() {
		s.Tick(epochStart.Add(30*time.Minute + time.Second))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler wedged on a stalled consumer")
	}
}

func contains(in []Instruction, want Instruction) bool {
	for _, i := range in {
		if i == want {
			return true
		}
	}
	return false
}
