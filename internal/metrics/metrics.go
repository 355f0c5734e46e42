// Package metrics exposes prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of last-price ticks ingested"},
		[]string{"symbol"},
	)
	SizeTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "size_ticks_total", Help: "Count of last-size ticks ingested"},
		[]string{"symbol"},
	)
	InstructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "instructions_total", Help: "Instructions emitted by the scheduler"},
		[]string{"kind"},
	)
	InstructionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "instructions_rejected_total", Help: "Instructions rejected by the order manager state machine"},
		[]string{"kind"},
	)
	InstructionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "instructions_dropped_total", Help: "Instructions dropped because the order manager stalled"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to the broker"},
		[]string{"side"},
	)
	FillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fills_total", Help: "Fill confirmations absorbed"},
	)
	PositionQty = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "position_quantity", Help: "Current signed filled position quantity"},
	)
	CalibratedSigma = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "calibrated_sigma", Help: "Latest realized volatility estimate from calibration"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SizeTicksTotal,
		InstructionsTotal, InstructionsRejected, InstructionsDropped,
		OrdersTotal, FillsTotal,
		PositionQty, CalibratedSigma,
	)
}

// Serve starts a background HTTP server exposing /metrics on addr.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
