// Package engine wires the calibrator output, bar aggregator, decision
// scheduler, and order manager into one live session and owns its lifecycle.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/bars"
	"github.com/PraneshBalekai/vol-range-momentum/internal/broker"
	"github.com/PraneshBalekai/vol-range-momentum/internal/calibrate"
	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
	"github.com/PraneshBalekai/vol-range-momentum/internal/metrics"
	"github.com/PraneshBalekai/vol-range-momentum/internal/orders"
	"github.com/PraneshBalekai/vol-range-momentum/internal/risk"
	"github.com/PraneshBalekai/vol-range-momentum/internal/schedule"
)

// Options collects the engine's construction parameters.
type Options struct {
	Contract   broker.Contract
	MarketData broker.MarketData
	Gateway    broker.OrderGateway
	Calib      *calibrate.Result
	Scheduler  schedule.Config
	Sizer      risk.Sizer
	Recorder   orders.FillRecorder
	Log        zerolog.Logger
}

// Engine is the live session. It implements broker.Handler: the market-data
// goroutine delivers callbacks here, the scheduler and order manager run on
// their own goroutines, and the instruction channel is the only hand-off
// between them.
type Engine struct {
	contract broker.Contract
	md       broker.MarketData
	agg      *bars.Aggregator
	sched    *schedule.Scheduler
	manager  *orders.Manager
	log      zerolog.Logger
	symbol   string

	instructions chan schedule.Instruction
	fatal        chan error
}

// New builds an engine around a pre-run calibration result. The order manager
// is constructed here so entry sizing can reference the aggregator's observed
// session open.
func New(opts Options) *Engine {
	agg := bars.New()
	instructions := make(chan schedule.Instruction, 64)
	e := &Engine{
		contract:     opts.Contract,
		md:           opts.MarketData,
		agg:          agg,
		log:          opts.Log,
		symbol:       opts.Contract.Symbol,
		instructions: instructions,
		fatal:        make(chan error, 1),
	}
	e.manager = orders.New(opts.Gateway, opts.Contract, opts.Sizer, opts.Calib.Sigma, agg.SessionOpen, opts.Recorder, opts.Log)
	e.sched = schedule.New(agg, opts.Calib, instructions, opts.Scheduler, opts.Log)
	metrics.CalibratedSigma.Set(opts.Calib.Sigma)
	return e
}

// Aggregator exposes the bar map owner, mainly for the session-open getter.
func (e *Engine) Aggregator() *bars.Aggregator { return e.agg }

// OnTick folds last-price ticks into the current minute's bar. Other tick
// kinds are ignored.
func (e *Engine) OnTick(reqID int64, kind market.TickKind, price float64) {
	if !kind.IsLastPrice() {
		return
	}
	e.agg.ApplyPrice(price, time.Now().UTC())
	metrics.TicksTotal.WithLabelValues(e.symbol).Inc()
}

// OnSize folds last-size ticks into the current minute's volume.
func (e *Engine) OnSize(reqID int64, kind market.TickKind, size float64) {
	if !kind.IsLastSize() {
		return
	}
	e.agg.ApplySize(size, time.Now().UTC())
	metrics.SizeTicksTotal.WithLabelValues(e.symbol).Inc()
}

// OnOrderStatus hands fill confirmations to the order-manager goroutine.
func (e *Engine) OnOrderStatus(status broker.OrderStatus) {
	e.manager.HandleOrderStatus(status)
}

// OnError logs venue errors. A disconnect ends the session: no reconnection
// is attempted, the operator restarts manually.
func (e *Engine) OnError(reqID int64, code int, message string) {
	if code == broker.CodeDisconnected {
		select {
		case e.fatal <- fmt.Errorf("%w: %s", broker.ErrDisconnected, message):
		default:
		}
		return
	}
	e.log.Warn().Int64("req_id", reqID).Int("code", code).Str("message", message).Msg("broker error")
}

// Run subscribes market data and blocks until ctx is canceled or the broker
// disconnects. On the way out it stops the scheduler, drains the instruction
// channel through the order manager, cancels any outstanding order, and tears
// down the market-data subscription.
func (e *Engine) Run(ctx context.Context) error {
	reqID, err := e.md.RequestMarketData(e.contract)
	if err != nil {
		return fmt.Errorf("subscribe market data: %w", err)
	}

	schedCtx, stopSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = e.sched.Run(schedCtx)
	}()

	managerDone := make(chan error, 1)
	go func() {
		managerDone <- e.manager.Run(context.Background(), e.instructions)
	}()

	var cause error
	select {
	case <-ctx.Done():
		e.log.Info().Msg("shutdown requested")
	case cause = <-e.fatal:
		e.log.Error().Err(cause).Msg("fatal broker condition, halting session")
	}

	stopSched()
	<-schedDone
	close(e.instructions)
	if err := <-managerDone; err != nil && err != context.Canceled {
		e.log.Warn().Err(err).Msg("order manager exited with error")
	}
	e.manager.CancelOutstanding()
	if err := e.md.CancelMarketData(reqID); err != nil {
		e.log.Warn().Err(err).Msg("market data teardown failed")
	}
	return cause
}
