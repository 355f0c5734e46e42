// Package schedule evaluates resampled bars against the session bound curve
// at fixed decision epochs and emits directional trading instructions.
package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/bars"
	"github.com/PraneshBalekai/vol-range-momentum/internal/calibrate"
	"github.com/PraneshBalekai/vol-range-momentum/internal/metrics"
)

// Instruction is a directional order-management instruction. Produced here,
// consumed exactly once by the order manager, which is the sole arbiter of
// whether the instruction is actionable in the current position state.
type Instruction int

const (
	EnterLong Instruction = iota
	EnterShort
	ExitLong
	ExitShort
)

func (i Instruction) String() string {
	switch i {
	case EnterLong:
		return "ENTER_LONG"
	case EnterShort:
		return "ENTER_SHORT"
	case ExitLong:
		return "EXIT_LONG"
	case ExitShort:
		return "EXIT_SHORT"
	default:
		return "UNKNOWN"
	}
}

type epochLimit struct {
	upper float64
	lower float64
}

// Scheduler fires once per decision epoch, guarded by a monotonic epoch ID
// derived from wall-clock time rather than a sleep debounce.
type Scheduler struct {
	agg        *bars.Aggregator
	calib      *calibrate.Result
	multiplier float64
	width      time.Duration
	loc        *time.Location
	out        chan<- Instruction
	log        zerolog.Logger

	// sendTimeout bounds how long an emit may wait on a stalled consumer
	// before the instruction is dropped and logged.
	sendTimeout time.Duration

	lastEpoch int64
	primed    bool
	limits    map[int]epochLimit // epoch index within day -> bounds
}

// Config collects scheduler construction parameters.
type Config struct {
	EpochWidth  time.Duration
	Multiplier  float64
	Location    *time.Location
	SendTimeout time.Duration
}

// New builds a scheduler reading agg and calib, writing instructions to out.
func New(agg *bars.Aggregator, calib *calibrate.Result, out chan<- Instruction, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		agg:         agg,
		calib:       calib,
		multiplier:  cfg.Multiplier,
		width:       cfg.EpochWidth,
		loc:         cfg.Location,
		out:         out,
		log:         log,
		sendTimeout: cfg.SendTimeout,
	}
}

// Run drives Tick on a one-second cadence until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

func (s *Scheduler) epochID(now time.Time) int64 {
	return now.Unix() / int64(s.width/time.Second)
}

// Tick fires the evaluation at most once per epoch. The first observed epoch
// only primes the guard so a process started mid-epoch does not evaluate a
// partial window.
func (s *Scheduler) Tick(now time.Time) {
	id := s.epochID(now)
	if !s.primed {
		s.primed = true
		s.lastEpoch = id
		return
	}
	if id == s.lastEpoch {
		return
	}
	s.lastEpoch = id
	s.evaluate(now)
}

func (s *Scheduler) evaluate(now time.Time) {
	snapshot := s.agg.Snapshot(now)
	if len(snapshot) == 0 {
		s.log.Debug().Time("at", now).Msg("epoch fired with no bars, skipping")
		return
	}
	if s.limits == nil {
		open := s.agg.SessionOpen()
		if open <= 0 {
			s.log.Debug().Msg("session open not observed yet, skipping epoch")
			return
		}
		s.limits = resampleLimits(s.calib.SessionBounds(open, s.multiplier), s.width)
		s.log.Info().Float64("session_open", open).Int("epochs", len(s.limits)).Msg("session limits built")
	}

	epochs := bars.Resample(snapshot, s.width)
	last := epochs[len(epochs)-1]
	if last.Close == 0 {
		s.log.Debug().Time("epoch", last.Start).Msg("no traded price in epoch, skipping")
		return
	}

	local := last.Start.In(s.loc)
	epochIdx := (local.Hour()*60 + local.Minute()) / int(s.width/time.Minute)
	limit, ok := s.limits[epochIdx]
	if !ok {
		s.log.Warn().Int("epoch_idx", epochIdx).Msg("no session limits for epoch, skipping")
		return
	}

	px := last.Close
	vwap := last.VWAP
	s.log.Info().
		Float64("close", px).Float64("vwap", vwap).
		Float64("upper", limit.upper).Float64("lower", limit.lower).
		Time("epoch", last.Start).
		Msg("epoch evaluation")

	// The enter and exit conditions can be jointly true in one epoch; all
	// matching instructions are emitted and the order manager's state machine
	// arbitrates. Resolving the overlap here is a pending product decision.
	if px > limit.upper {
		s.emit(EnterLong)
	}
	if px < limit.lower {
		s.emit(EnterShort)
	}
	if px < vwap || px < limit.upper {
		s.emit(ExitLong)
	}
	if px > vwap || px > limit.lower {
		s.emit(ExitShort)
	}
}

func (s *Scheduler) emit(in Instruction) {
	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.out <- in:
		metrics.InstructionsTotal.WithLabelValues(in.String()).Inc()
	case <-timer.C:
		metrics.InstructionsDropped.Inc()
		s.log.Error().Str("instruction", in.String()).Dur("timeout", s.sendTimeout).Msg("order manager stalled, instruction dropped")
	}
}

// resampleLimits reduces the per-minute session bounds to one limit per epoch
// within the day, keeping the last minute's value inside each epoch.
func resampleLimits(points []calibrate.CurvePoint, width time.Duration) map[int]epochLimit {
	widthMin := int(width / time.Minute)
	out := make(map[int]epochLimit)
	for _, pt := range points {
		// Points arrive ordered by minute-of-day, so the last write wins.
		out[pt.MinuteOfDay/widthMin] = epochLimit{upper: pt.Upper, lower: pt.Lower}
	}
	return out
}
