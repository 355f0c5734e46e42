package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/PraneshBalekai/vol-range-momentum/internal/broker"
	"github.com/PraneshBalekai/vol-range-momentum/internal/calibrate"
	"github.com/PraneshBalekai/vol-range-momentum/internal/config"
	"github.com/PraneshBalekai/vol-range-momentum/internal/engine"
	"github.com/PraneshBalekai/vol-range-momentum/internal/hist"
	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
	"github.com/PraneshBalekai/vol-range-momentum/internal/metrics"
	"github.com/PraneshBalekai/vol-range-momentum/internal/orders"
	"github.com/PraneshBalekai/vol-range-momentum/internal/risk"
	"github.com/PraneshBalekai/vol-range-momentum/internal/schedule"
	"github.com/PraneshBalekai/vol-range-momentum/internal/util"
)

// handlerRelay lets the venue be constructed before the engine that consumes
// its callbacks. The target is bound before any subscription starts.
type handlerRelay struct {
	target broker.Handler
}

func (r *handlerRelay) OnTick(reqID int64, kind market.TickKind, price float64) {
	r.target.OnTick(reqID, kind, price)
}

func (r *handlerRelay) OnSize(reqID int64, kind market.TickKind, size float64) {
	r.target.OnSize(reqID, kind, size)
}

func (r *handlerRelay) OnOrderStatus(status broker.OrderStatus) {
	r.target.OnOrderStatus(status)
}

func (r *handlerRelay) OnError(reqID int64, code int, message string) {
	r.target.OnError(reqID, code, message)
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loader, err := hist.New(cfg.Historical)
	if err != nil {
		log.Fatal().Err(err).Msg("historical source")
	}
	histBars, err := loader.Bars(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load historical bars")
	}
	loc, err := time.LoadLocation(cfg.Strategy.SessionTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Strategy.SessionTimezone).Msg("session timezone")
	}
	calib, err := calibrate.Run(histBars, calibrate.Params{
		LookbackDays: cfg.Strategy.LookbackDays,
		Multiplier:   cfg.Strategy.VolatilityMultiplier,
		Location:     loc,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("calibration")
	}
	log.Info().Float64("sigma", calib.Sigma).Float64("last_close", calib.LastClose).Int("curve_points", len(calib.Curve)).Msg("calibrated")

	relay := &handlerRelay{}
	sim := broker.NewSim(relay, broker.SimConfig{
		TickInterval:           time.Duration(cfg.Sim.TickIntervalMs) * time.Millisecond,
		StartPrice:             cfg.Sim.StartPrice,
		Drift:                  cfg.Sim.Drift,
		SlippageBps:            cfg.Sim.SlippageBps,
		PartialFillProbability: cfg.Sim.PartialFillProbability,
		MaxPartialFills:        cfg.Sim.MaxPartialFills,
	}, log)
	if err := sim.Connect(ctx, cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.ClientID); err != nil {
		log.Fatal().Err(err).Msg("venue connect")
	}
	defer sim.Close()

	// Paper mode takes ticks from the sim's random walk; otherwise prices come
	// from the live trade stream while order flow stays on the sim gateway.
	var md broker.MarketData = sim
	var feed *broker.BinanceFeed
	if !cfg.Broker.Paper {
		feed = broker.NewBinanceFeed(relay, "", log)
		md = feed
	}
	if feed != nil {
		defer feed.Close()
	}

	var recorder orders.FillRecorder
	if cfg.Orders.FillsPath != "" {
		jr, err := orders.NewJSONLRecorder(cfg.Orders.FillsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("fill journal")
		}
		defer jr.Close()
		log.Info().Str("path", cfg.Orders.FillsPath).Str("run_id", jr.RunID()).Msg("fill journal open")
		recorder = jr
	}

	eng := engine.New(engine.Options{
		Contract: broker.Contract{
			Symbol:   cfg.Contract.Symbol,
			SecType:  cfg.Contract.SecType,
			Exchange: cfg.Contract.Exchange,
			Currency: cfg.Contract.Currency,
		},
		MarketData: md,
		Gateway:    sim,
		Calib:      calib,
		Scheduler: schedule.Config{
			EpochWidth: time.Duration(cfg.Strategy.EpochWidthMinutes) * time.Minute,
			Multiplier: cfg.Strategy.VolatilityMultiplier,
			Location:   loc,
		},
		Sizer: risk.Sizer{
			Capital:          cfg.Strategy.Capital,
			VolatilityTarget: cfg.Strategy.VolatilityTarget,
			MaxLeverage:      cfg.Strategy.MaxLeverage,
		},
		Recorder: recorder,
		Log:      log,
	})
	relay.target = eng

	log.Info().Str("symbol", cfg.Contract.Symbol).Bool("paper", cfg.Broker.Paper).Msg("engine started")
	if err := eng.Run(ctx); err != nil {
		log.Error().Err(err).Msg("session halted")
		os.Exit(1)
	}
	log.Info().Msg("session closed")
}
