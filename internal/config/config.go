// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics address, and log level.
type App struct {
	Name        string `yaml:"name"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Broker describes connectivity to the broker gateway.
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
	// Paper routes everything through the simulated venue instead of a live session.
	Paper bool `yaml:"paper"`
}

// Contract identifies the traded instrument.
type Contract struct {
	Symbol   string `yaml:"symbol"`
	SecType  string `yaml:"sec_type"`
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

// Historical selects the calibration data source.
type Historical struct {
	// Source is "csv" or "binance".
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Symbol string `yaml:"symbol"`
	// Interval is the kline interval for the binance loader, e.g. "1m".
	Interval string `yaml:"interval"`
	// FetchDays bounds how far back the binance loader pages.
	FetchDays int `yaml:"fetch_days"`
}

// Strategy groups the breakout strategy knobs recognized by the engine core.
type Strategy struct {
	LookbackDays         int     `yaml:"lookback_days"`
	VolatilityMultiplier float64 `yaml:"volatility_multiplier"`
	Capital              float64 `yaml:"capital"`
	VolatilityTarget     float64 `yaml:"volatility_target"`
	MaxLeverage          float64 `yaml:"max_leverage"`
	EpochWidthMinutes    int     `yaml:"epoch_width_minutes"`
	SessionTimezone      string  `yaml:"session_timezone"`
}

// Sim tunes the simulated paper venue.
type Sim struct {
	TickIntervalMs         int     `yaml:"tick_interval_ms"`
	StartPrice             float64 `yaml:"start_price"`
	Drift                  float64 `yaml:"drift"`
	SlippageBps            float64 `yaml:"slippage_bps"`
	PartialFillProbability float64 `yaml:"partial_fill_probability"`
	MaxPartialFills        int     `yaml:"max_partial_fills"`
}

// Orders configures order-manager side effects.
type Orders struct {
	FillsPath string `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Broker     Broker     `yaml:"broker"`
	Contract   Contract   `yaml:"contract"`
	Historical Historical `yaml:"historical"`
	Strategy   Strategy   `yaml:"strategy"`
	Sim        Sim        `yaml:"sim"`
	Orders     Orders     `yaml:"orders"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the strategy knobs the engine core depends on.
func (c *Config) Validate() error {
	s := c.Strategy
	if s.LookbackDays <= 0 {
		return fmt.Errorf("strategy.lookback_days must be > 0, got %d", s.LookbackDays)
	}
	if s.VolatilityMultiplier < 0 {
		return fmt.Errorf("strategy.volatility_multiplier must be >= 0, got %g", s.VolatilityMultiplier)
	}
	if s.Capital <= 0 {
		return fmt.Errorf("strategy.capital must be > 0, got %g", s.Capital)
	}
	if s.VolatilityTarget <= 0 {
		return fmt.Errorf("strategy.volatility_target must be > 0, got %g", s.VolatilityTarget)
	}
	if s.MaxLeverage <= 0 {
		return fmt.Errorf("strategy.max_leverage must be > 0, got %g", s.MaxLeverage)
	}
	if s.EpochWidthMinutes <= 0 {
		return fmt.Errorf("strategy.epoch_width_minutes must be > 0, got %d", s.EpochWidthMinutes)
	}
	if s.SessionTimezone == "" {
		return fmt.Errorf("strategy.session_timezone must be an IANA zone name")
	}
	return nil
}
