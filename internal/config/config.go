package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/bootstrap"
	"portfolio-backtest/internal/data"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/strategy"
	"portfolio-backtest/internal/timeutil"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInitialBalance = 10000
	DefaultBufferSize     = 100
	DefaultContractSize   = 100000
	DefaultMinLotSize     = 0.01
	DefaultLogLevel       = "info"
	DefaultOutputDir      = "results"
)

// Config is the on-disk configuration shape (YAML). The API accepts the same
// document as JSON.
type Config struct {
	TestID   int    `yaml:"test_id" json:"test_id"`
	Label    string `yaml:"label" json:"label"`
	Timezone string `yaml:"timezone" json:"timezone"`
	// From and To bound the strategy window, YYYY-MM-DD or RFC3339.
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`

	InitialBalance      float64 `yaml:"initial_balance" json:"initial_balance"`
	CompoundingDisabled bool    `yaml:"compounding_disabled" json:"compounding_disabled"`
	Optimization        bool    `yaml:"optimization" json:"optimization"`
	Excursions          bool    `yaml:"excursions" json:"excursions"`
	OrderCapacity       int     `yaml:"order_capacity" json:"order_capacity"`

	LogLevel  string      `yaml:"log_level" json:"log_level"`
	OutputDir string      `yaml:"output_dir" json:"output_dir"`
	Retry     RetryConfig `yaml:"retry" json:"retry"`

	// Defaults is overlaid with each instrument; instrument fields win.
	Defaults    InstrumentConfig   `yaml:"defaults" json:"defaults"`
	Instruments []InstrumentConfig `yaml:"instruments" json:"instruments"`

	dir string
	// confined keeps every data path inside dir.
	confined bool
}

// RetryConfig is the bootstrap polling policy. Delays are Go duration strings.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay" json:"initial_delay"`
	Factor       float64 `yaml:"factor" json:"factor"`
	MaxDelay     string  `yaml:"max_delay" json:"max_delay"`
}

type InstrumentConfig struct {
	ID       int            `yaml:"id" json:"id"`
	Symbol   string         `yaml:"symbol" json:"symbol"`
	Strategy StrategyConfig `yaml:"strategy" json:"strategy"`

	// Rates lists one bar file per timeframe, base timeframe first.
	Rates []string `yaml:"rates" json:"rates"`
	// Ticks is an optional tick file replacing synthesized ticks.
	Ticks string `yaml:"ticks" json:"ticks"`

	// Conversion is "" or "fixed" (ConversionRate, default 1), "inverse",
	// "quotes" or "quotes_inverse" (QuotesFile).
	Conversion     string  `yaml:"conversion" json:"conversion"`
	ConversionRate float64 `yaml:"conversion_rate" json:"conversion_rate"`
	QuotesFile     string  `yaml:"quotes" json:"quotes"`

	ContractSize float64 `yaml:"contract_size" json:"contract_size"`
	MinLotSize   float64 `yaml:"min_lot_size" json:"min_lot_size"`
	MinimumStop  float64 `yaml:"minimum_stop" json:"minimum_stop"`
	Spread       float64 `yaml:"spread" json:"spread"`
	SwapLong     float64 `yaml:"swap_long" json:"swap_long"`
	SwapShort    float64 `yaml:"swap_short" json:"swap_short"`
	BufferSize   int     `yaml:"buffer_size" json:"buffer_size"`
}

type StrategyConfig struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params" json:"params"`
}

func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads the config without defaults or validation.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	c, err := parse(raw)
	if err != nil {
		return nil, err
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse reads a YAML or JSON document. Relative paths in it resolve against
// dir, or the working directory when dir is empty. With a non-empty dir every
// data path must stay inside it: absolute paths and paths climbing out through
// ".." are rejected.
func Parse(raw []byte, dir string) (*Config, error) {
	c, err := parse(raw)
	if err != nil {
		return nil, err
	}
	c.dir = dir
	c.confined = dir != ""
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkPaths(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) checkPaths() error {
	if !c.confined {
		return nil
	}
	for _, in := range c.Instruments {
		paths := append([]string{in.Ticks, in.QuotesFile}, in.Rates...)
		for _, p := range paths {
			if p == "" {
				continue
			}
			if !insideDir(p) {
				return fmt.Errorf("%w: instrument %d: path %q is outside the data directory", model.ErrConfig, in.ID, p)
			}
		}
	}
	return nil
}

// insideDir reports whether the relative path p stays below its base.
func insideDir(p string) bool {
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return false
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

func parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.InitialBalance == 0 {
		c.InitialBalance = DefaultInitialBalance
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.TestID == 0 {
		c.TestID = 1
	}
	for i := range c.Instruments {
		in := MergeInstrument(c.Defaults, c.Instruments[i])
		if in.ID == 0 {
			in.ID = i + 1
		}
		if in.BufferSize == 0 {
			in.BufferSize = DefaultBufferSize
		}
		if in.ContractSize == 0 {
			in.ContractSize = DefaultContractSize
		}
		if in.MinLotSize == 0 {
			in.MinLotSize = DefaultMinLotSize
		}
		c.Instruments[i] = in
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial_balance must be positive", model.ErrConfig)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: at least one instrument is required", model.ErrConfig)
	}
	seen := map[int]bool{}
	for _, in := range c.Instruments {
		if seen[in.ID] {
			return fmt.Errorf("%w: duplicate instrument id %d", model.ErrConfig, in.ID)
		}
		seen[in.ID] = true
		if in.Strategy.Name == "" {
			return fmt.Errorf("%w: instrument %d: strategy.name is required", model.ErrConfig, in.ID)
		}
		if len(in.Rates) == 0 {
			return fmt.Errorf("%w: instrument %d: at least one rates file is required", model.ErrConfig, in.ID)
		}
		if len(in.Rates) > model.MaxTimeframes {
			return fmt.Errorf("%w: instrument %d: %d timeframes, at most %d", model.ErrConfig, in.ID, len(in.Rates), model.MaxTimeframes)
		}
		switch in.Conversion {
		case "", "fixed", "inverse":
		case "quotes", "quotes_inverse":
			if in.QuotesFile == "" {
				return fmt.Errorf("%w: instrument %d: conversion %q needs a quotes file", model.ErrConfig, in.ID, in.Conversion)
			}
		default:
			return fmt.Errorf("%w: instrument %d: unknown conversion %q", model.ErrConfig, in.ID, in.Conversion)
		}
	}
	return nil
}

// Location is the timezone the from/to dates are read in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", model.ErrConfig, c.Timezone, err)
	}
	return loc, nil
}

// Window returns the strategy window in broker seconds; zero means open.
func (c *Config) Window() (from, to int64, err error) {
	loc, err := c.Location()
	if err != nil {
		return 0, 0, err
	}
	if c.From != "" {
		if from, err = timeutil.ParseDate(c.From, loc); err != nil {
			return 0, 0, fmt.Errorf("%w: from: %v", model.ErrConfig, err)
		}
	}
	if c.To != "" {
		if to, err = timeutil.ParseDate(c.To, loc); err != nil {
			return 0, 0, fmt.Errorf("%w: to: %v", model.ErrConfig, err)
		}
	}
	if to > 0 && from > to {
		return 0, 0, fmt.Errorf("%w: from %s is after to %s", model.ErrConfig, c.From, c.To)
	}
	return from, to, nil
}

func (c *Config) RetryPolicy() (bootstrap.RetryPolicy, error) {
	p := bootstrap.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, Factor: c.Retry.Factor}
	var err error
	if c.Retry.InitialDelay != "" {
		if p.InitialDelay, err = time.ParseDuration(c.Retry.InitialDelay); err != nil {
			return p, fmt.Errorf("%w: retry.initial_delay: %v", model.ErrConfig, err)
		}
	}
	if c.Retry.MaxDelay != "" {
		if p.MaxDelay, err = time.ParseDuration(c.Retry.MaxDelay); err != nil {
			return p, fmt.Errorf("%w: retry.max_delay: %v", model.ErrConfig, err)
		}
	}
	return p.WithDefaults(), nil
}

// Settings converts the run-level fields for the engine.
func (c *Config) Settings() (backtest.Settings, error) {
	from, to, err := c.Window()
	if err != nil {
		return backtest.Settings{}, err
	}
	retry, err := c.RetryPolicy()
	if err != nil {
		return backtest.Settings{}, err
	}
	return backtest.Settings{
		TestID:              c.TestID,
		InitialBalance:      c.InitialBalance,
		From:                from,
		To:                  to,
		CompoundingDisabled: c.CompoundingDisabled,
		Optimization:        c.Optimization,
		RecordExcursions:    c.Excursions,
		OrderCapacity:       c.OrderCapacity,
		Retry:               retry,
	}, nil
}

// Resolve interprets a relative path against the config file directory,
// falling back to the path as given (relative to cwd) if that doesn't exist.
// A config parsed with a data directory never falls back.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	cand := filepath.Join(c.dir, p)
	if c.confined {
		return cand
	}
	if _, err := os.Stat(cand); err == nil {
		return cand
	}
	return p
}

// BuildInstruments loads every instrument's data and creates its strategy.
// Rate files go through cache when it is non-nil. The returned close func
// releases opened tick files and must be called after the run.
func (c *Config) BuildInstruments(cache *data.RatesCache) ([]backtest.Instrument, func() error, error) {
	var files []*data.TickReader
	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	out := make([]backtest.Instrument, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		in, tr, err := c.buildInstrument(ic, cache)
		if tr != nil {
			files = append(files, tr)
		}
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("instrument %d (%s): %w", ic.ID, ic.Symbol, err)
		}
		out = append(out, in)
	}
	return out, closeAll, nil
}

func (c *Config) buildInstrument(ic InstrumentConfig, cache *data.RatesCache) (backtest.Instrument, *data.TickReader, error) {
	strat, err := strategy.New(ic.Strategy.Name, ic.Strategy.Params)
	if err != nil {
		return backtest.Instrument{}, nil, err
	}
	in := backtest.Instrument{
		InstanceID:   ic.ID,
		Symbol:       ic.Symbol,
		Strategy:     strat,
		ContractSize: ic.ContractSize,
		MinLotSize:   ic.MinLotSize,
		MinimumStop:  ic.MinimumStop,
		Spread:       ic.Spread,
		SwapLong:     ic.SwapLong,
		SwapShort:    ic.SwapShort,
		BufferSize:   ic.BufferSize,
	}
	for _, p := range ic.Rates {
		bars, err := cache.Load(c.Resolve(p))
		if err != nil {
			return in, nil, err
		}
		in.Timeframes = append(in.Timeframes, bars)
	}

	switch ic.Conversion {
	case "", "fixed":
		in.Conversion = backtest.FixedRate(ic.ConversionRate)
	case "inverse":
		in.Conversion = backtest.InverseRate{}
	case "quotes", "quotes_inverse":
		qs, err := data.LoadQuotes(c.Resolve(ic.QuotesFile))
		if err != nil {
			return in, nil, err
		}
		in.Conversion = backtest.SeriesRate{Series: qs, Invert: strings.HasSuffix(ic.Conversion, "_inverse")}
	}

	if ic.Ticks == "" {
		return in, nil, nil
	}
	tr, err := data.OpenTickFile(c.Resolve(ic.Ticks))
	if err != nil {
		return in, nil, err
	}
	in.Ticks = tr
	return in, tr, nil
}

// MergeInstrument overlays non-zero fields from override onto base.
// Strategy params are merged key by key when both name the same strategy.
func MergeInstrument(base, override InstrumentConfig) InstrumentConfig {
	out := base
	if override.ID != 0 {
		out.ID = override.ID
	}
	if override.Symbol != "" {
		out.Symbol = override.Symbol
	}
	if override.Strategy.Name != "" {
		if !strings.EqualFold(override.Strategy.Name, base.Strategy.Name) {
			out.Strategy = StrategyConfig{Name: override.Strategy.Name}
		}
		out.Strategy.Name = override.Strategy.Name
	}
	if len(override.Strategy.Params) > 0 {
		params := make(map[string]any, len(out.Strategy.Params)+len(override.Strategy.Params))
		for k, v := range out.Strategy.Params {
			params[k] = v
		}
		for k, v := range override.Strategy.Params {
			params[k] = v
		}
		out.Strategy.Params = params
	}
	if len(override.Rates) > 0 {
		out.Rates = override.Rates
	}
	if override.Ticks != "" {
		out.Ticks = override.Ticks
	}
	if override.Conversion != "" {
		out.Conversion = override.Conversion
	}
	if override.ConversionRate != 0 {
		out.ConversionRate = override.ConversionRate
	}
	if override.QuotesFile != "" {
		out.QuotesFile = override.QuotesFile
	}
	if override.ContractSize != 0 {
		out.ContractSize = override.ContractSize
	}
	if override.MinLotSize != 0 {
		out.MinLotSize = override.MinLotSize
	}
	// Note: a zero minimum stop, spread or swap cannot override a non-zero default.
	if override.MinimumStop != 0 {
		out.MinimumStop = override.MinimumStop
	}
	if override.Spread != 0 {
		out.Spread = override.Spread
	}
	if override.SwapLong != 0 {
		out.SwapLong = override.SwapLong
	}
	if override.SwapShort != 0 {
		out.SwapShort = override.SwapShort
	}
	if override.BufferSize != 0 {
		out.BufferSize = override.BufferSize
	}
	return out
}
