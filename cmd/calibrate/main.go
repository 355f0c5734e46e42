// Command calibrate runs the bound-curve calibration offline and prints the
// result, for inspecting what the live engine would trade with.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/PraneshBalekai/vol-range-momentum/internal/calibrate"
	"github.com/PraneshBalekai/vol-range-momentum/internal/config"
	"github.com/PraneshBalekai/vol-range-momentum/internal/hist"
	"github.com/PraneshBalekai/vol-range-momentum/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	tail := flag.Int("tail", 10, "curve points to print from the end of the latest session")
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

	loader, err := hist.New(cfg.Historical)
	if err != nil {
		log.Fatal().Err(err).Msg("historical source")
	}
	bars, err := loader.Bars(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("load historical bars")
	}
	loc, err := time.LoadLocation(cfg.Strategy.SessionTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Strategy.SessionTimezone).Msg("session timezone")
	}

	res, err := calibrate.Run(bars, calibrate.Params{
		LookbackDays: cfg.Strategy.LookbackDays,
		Multiplier:   cfg.Strategy.VolatilityMultiplier,
		Location:     loc,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("calibration")
	}

	fmt.Printf("bars: %d  session days: %d\n", len(bars), len(res.Days))
	fmt.Printf("sigma: %.6f  last close: %.4f\n", res.Sigma, res.LastClose)

	n := *tail
	if n > len(res.LatestAvg) {
		n = len(res.LatestAvg)
	}
	fmt.Printf("latest average move, last %d minutes:\n", n)
	for _, m := range res.LatestAvg[len(res.LatestAvg)-n:] {
		fmt.Printf("  %02d:%02d  avg_move %.6f\n", m.MinuteOfDay/60, m.MinuteOfDay%60, m.AvgMove)
	}

	if len(res.Curve) == 0 {
		fmt.Fprintln(os.Stderr, "no curve points produced")
		os.Exit(1)
	}
	last := res.Curve[len(res.Curve)-1]
	fmt.Printf("final curve point %s %02d:%02d  upper %.4f  lower %.4f\n",
		last.Date.Format("2006-01-02"), last.MinuteOfDay/60, last.MinuteOfDay%60, last.Upper, last.Lower)
}
