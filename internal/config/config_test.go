package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func ratesCSV(n int) string {
	var b strings.Builder
	b.WriteString("time,open,high,low,close,volume\n")
	start := timeutil.MkGmTime(2024, 1, 1, 0, 0, 0)
	for i := 0; i < n; i++ {
		p := 1.1 + 0.0005*float64(i%7)
		fmt.Fprintf(&b, "%d,%.4f,%.4f,%.4f,%.4f,10\n", start+int64(i)*3600, p, p+0.001, p-0.001, p)
	}
	return b.String()
}

const runYAML = `
test_id: 7
timezone: UTC
from: 2024-01-01
initial_balance: 5000
retry:
  max_attempts: 3
  initial_delay: 10ms
defaults:
  contract_size: 100000
  spread: 0.0002
  minimum_stop: 0.0001
  buffer_size: 5
  strategy:
    name: sma_cross
    params:
      fast: 2
      slow: 4
      lots: 0.1
instruments:
  - symbol: EURUSD
    rates: [eurusd_h1.csv]
  - symbol: GBPUSD
    rates: [eurusd_h1.csv]
    spread: 0.0003
    strategy:
      params:
        lots: 0.2
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "eurusd_h1.csv", ratesCSV(40))
	c, err := Load(writeFile(t, dir, "run.yaml", runYAML))
	if err != nil {
		t.Fatal(err)
	}
	if c.TestID != 7 || c.InitialBalance != 5000 || c.LogLevel != DefaultLogLevel || c.OutputDir != DefaultOutputDir {
		t.Errorf("run fields = %+v", c)
	}
	if len(c.Instruments) != 2 {
		t.Fatalf("instruments = %+v", c.Instruments)
	}
	a, b := c.Instruments[0], c.Instruments[1]
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("ids = %d, %d", a.ID, b.ID)
	}
	if a.Spread != 0.0002 || b.Spread != 0.0003 || a.BufferSize != 5 || a.MinLotSize != DefaultMinLotSize {
		t.Errorf("merged instruments = %+v / %+v", a, b)
	}
	if b.Strategy.Name != "sma_cross" || b.Strategy.Params["lots"] != 0.2 || b.Strategy.Params["fast"] != 2 {
		t.Errorf("merged strategy = %+v", b.Strategy)
	}
	if a.Strategy.Params["lots"] != 0.1 {
		t.Errorf("defaults mutated: %+v", a.Strategy)
	}

	s, err := c.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.From != timeutil.MkGmTime(2024, 1, 1, 0, 0, 0) || s.To != 0 {
		t.Errorf("window = %d..%d", s.From, s.To)
	}
	if s.Retry.MaxAttempts != 3 || s.Retry.InitialDelay != 10*time.Millisecond || s.Retry.MaxDelay != 2*time.Second {
		t.Errorf("retry = %+v", s.Retry)
	}
}

func TestBuildInstrumentsAndRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "eurusd_h1.csv", ratesCSV(60))
	c, err := Load(writeFile(t, dir, "run.yaml", runYAML))
	if err != nil {
		t.Fatal(err)
	}
	instruments, closeFn, err := c.BuildInstruments(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if len(instruments) != 2 || len(instruments[0].Timeframes[0]) != 60 {
		t.Fatalf("instruments = %+v", instruments)
	}
	if instruments[0].Conversion.Rate(0, 1, 1) != 1 {
		t.Error("default conversion should be 1")
	}

	s, _ := c.Settings()
	rep, err := backtest.New(nil).Run(context.Background(), s, instruments, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.TestID != 7 || len(rep.AbortedInstances) != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestBuildInstrumentsTicksAndQuotes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "h1.csv", ratesCSV(10))
	writeFile(t, dir, "ticks.csv", "01-01-2024-01-00-05,1.1000,1.1002\n")
	writeFile(t, dir, "usdjpy.csv", "date,rate\n01/01/2024 00:00,0.0068\n")
	yml := `
instruments:
  - symbol: EURJPY
    rates: [h1.csv]
    ticks: ticks.csv
    conversion: quotes
    quotes: usdjpy.csv
    strategy: {name: session_breakout}
`
	c, err := Load(writeFile(t, dir, "run.yaml", yml))
	if err != nil {
		t.Fatal(err)
	}
	instruments, closeFn, err := c.BuildInstruments(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	in := instruments[0]
	if in.Ticks == nil {
		t.Error("tick source not opened")
	}
	if got := in.Conversion.Rate(timeutil.MkGmTime(2024, 1, 2, 0, 0, 0), 0, 0); got != 0.0068 {
		t.Errorf("conversion = %v", got)
	}
}

func TestBuildInstrumentsUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "h1.csv", ratesCSV(10))
	c, err := Load(writeFile(t, dir, "run.yaml", "instruments:\n  - rates: [h1.csv]\n    strategy: {name: nope}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.BuildInstruments(nil); !errors.Is(err, model.ErrConfig) {
		t.Errorf("BuildInstruments() error = %v, want ErrConfig", err)
	}
}

func TestParseJSON(t *testing.T) {
	raw := `{"initial_balance": 2500, "instruments": [{"symbol": "EURUSD", "rates": ["a.csv"], "strategy": {"name": "sma_cross", "params": {"fast": 3}}}]}`
	c, err := Parse([]byte(raw), "")
	if err != nil {
		t.Fatal(err)
	}
	if c.InitialBalance != 2500 || c.Instruments[0].Strategy.Params["fast"] != 3 || c.Instruments[0].BufferSize != DefaultBufferSize {
		t.Errorf("config = %+v", c)
	}
}

func TestParseConfinesPathsToDataDir(t *testing.T) {
	tests := []struct {
		name   string
		rates  string
		ticks  string
		quotes string
		ok     bool
	}{
		{"nested rates", "sub/a.csv", "", "q.csv", true},
		{"dot segments that stay inside", "sub/../a.csv", "ticks/t.csv", "q.csv", true},
		{"parent rates", "../a.csv", "", "q.csv", false},
		{"climbing through a subdir", "sub/../../a.csv", "", "q.csv", false},
		{"bare parent", "..", "", "q.csv", false},
		{"absolute rates", "/etc/passwd", "", "q.csv", false},
		{"absolute ticks", "a.csv", "/tmp/ticks.csv", "q.csv", false},
		{"parent quotes", "a.csv", "", "../q.csv", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"instruments": [{"rates": [%q], "ticks": %q, "quotes": %q, "conversion": "quotes", "strategy": {"name": "sma_cross"}}]}`,
				tt.rates, tt.ticks, tt.quotes)
			_, err := Parse([]byte(raw), t.TempDir())
			if tt.ok && err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, model.ErrConfig) {
				t.Fatalf("Parse() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestParseWithoutDataDirAllowsAnyPath(t *testing.T) {
	raw := `{"instruments": [{"rates": ["../a.csv", "/data/b.csv"], "strategy": {"name": "sma_cross"}}]}`
	if _, err := Parse([]byte(raw), ""); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestResolveWithDataDirDoesNotFallBack(t *testing.T) {
	dir := t.TempDir()
	c, err := Parse([]byte(`{"instruments": [{"rates": ["a.csv"], "strategy": {"name": "sma_cross"}}]}`), dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Resolve("a.csv"), filepath.Join(dir, "a.csv"); got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Instruments: []InstrumentConfig{{ID: 1, Rates: []string{"a.csv"}, Strategy: StrategyConfig{Name: "sma_cross"}}}}
		c.applyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no instruments", func(c *Config) { c.Instruments = nil }},
		{"negative balance", func(c *Config) { c.InitialBalance = -1 }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad from", func(c *Config) { c.From = "01/02/2024" }},
		{"from after to", func(c *Config) { c.From, c.To = "2024-02-01", "2024-01-01" }},
		{"bad retry delay", func(c *Config) { c.Retry.InitialDelay = "soon" }},
		{"missing strategy", func(c *Config) { c.Instruments[0].Strategy.Name = "" }},
		{"missing rates", func(c *Config) { c.Instruments[0].Rates = nil }},
		{"duplicate ids", func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) }},
		{"unknown conversion", func(c *Config) { c.Instruments[0].Conversion = "magic" }},
		{"quotes without file", func(c *Config) { c.Instruments[0].Conversion = "quotes" }},
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, model.ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestMergeInstrument(t *testing.T) {
	base := InstrumentConfig{
		Spread:   0.0002,
		Rates:    []string{"base.csv"},
		Strategy: StrategyConfig{Name: "sma_cross", Params: map[string]any{"fast": 5, "slow": 20}},
	}
	tests := []struct {
		name     string
		override InstrumentConfig
		check    func(t *testing.T, got InstrumentConfig)
	}{
		{
			name:     "empty override keeps base",
			override: InstrumentConfig{},
			check: func(t *testing.T, got InstrumentConfig) {
				if got.Spread != 0.0002 || got.Rates[0] != "base.csv" || got.Strategy.Params["fast"] != 5 {
					t.Errorf("got %+v", got)
				}
			},
		},
		{
			name:     "params merge for the same strategy",
			override: InstrumentConfig{Strategy: StrategyConfig{Params: map[string]any{"fast": 8}}},
			check: func(t *testing.T, got InstrumentConfig) {
				if got.Strategy.Params["fast"] != 8 || got.Strategy.Params["slow"] != 20 {
					t.Errorf("params = %v", got.Strategy.Params)
				}
			},
		},
		{
			name:     "another strategy drops base params",
			override: InstrumentConfig{Strategy: StrategyConfig{Name: "session_breakout"}},
			check: func(t *testing.T, got InstrumentConfig) {
				if got.Strategy.Name != "session_breakout" || len(got.Strategy.Params) != 0 {
					t.Errorf("strategy = %+v", got.Strategy)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MergeInstrument(base, tt.override))
		})
	}
	if base.Strategy.Params["fast"] != 5 {
		t.Error("base params mutated")
	}
}
