package data

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

func TestTickReader(t *testing.T) {
	in := "date,bid,ask\n" +
		"02-01-2024-00-00-00,1.1000,1.1002\n" +
		"\n" +
		"02-01-2024-00-00-05, 1.1001, 1.1003\n"
	tr := NewTickReader(strings.NewReader(in))

	first, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	want := model.Tick{Time: timeutil.MkGmTime(2024, 1, 2, 0, 0, 0), Bid: 1.1, Ask: 1.1002}
	if first != want {
		t.Errorf("first tick = %+v, want %+v", first, want)
	}
	second, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if second.Time != want.Time+5 || second.Bid != 1.1001 {
		t.Errorf("second tick = %+v", second)
	}
	if _, err := tr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestTickReaderErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bad bid", "02-01-2024-00-00-00,1.1,1.1\n02-01-2024-00-00-01,x,1.1\n"},
		{"ask below bid", "02-01-2024-00-00-00,1.1,1.1\n02-01-2024-00-00-01,1.2,1.1\n"},
		{"time goes back", "02-01-2024-00-00-05,1.1,1.1\n02-01-2024-00-00-01,1.1,1.1\n"},
		{"bad time", "02-01-2024-00-00-00,1.1,1.1\n2024-01-02,1.1,1.1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTickReader(strings.NewReader(tt.in))
			if _, err := tr.Next(); err != nil {
				t.Fatalf("first Next() = %v", err)
			}
			if _, err := tr.Next(); !errors.Is(err, model.ErrData) {
				t.Errorf("Next() error = %v, want ErrData", err)
			}
		})
	}
}

func TestQuoteSeriesAt(t *testing.T) {
	in := "date,rate\n01/01/2024 00:00,1.25\n01/01/2024 01:00,1.30\n01/01/24 02:00,1.35\n"
	qs, err := ParseQuotes(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if qs.Len() != 3 {
		t.Fatalf("Len() = %d", qs.Len())
	}
	base := timeutil.MkGmTime(2024, 1, 1, 0, 0, 0)
	tests := []struct {
		at     int64
		want   float64
		wantOK bool
	}{
		{base - 1, 1.25, false},
		{base, 1.25, true},
		{base + 3599, 1.25, true},
		{base + 3600, 1.30, true},
		{base + 10*3600, 1.35, true},
	}
	for _, tt := range tests {
		got, ok := qs.At(tt.at)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("At(%d) = %v, %v; want %v, %v", tt.at-base, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseQuotesErrors(t *testing.T) {
	for _, in := range []string{"", "01/01/2024 00:00,1.2\n01/01/2024 01:00,-1\n", "01/01/2024 00:00,1.2\n99/99/2024 01:00,1\n"} {
		if _, err := ParseQuotes(strings.NewReader(in)); !errors.Is(err, model.ErrData) {
			t.Errorf("ParseQuotes(%q) error = %v, want ErrData", in, err)
		}
	}
}

func TestParseRatesCSV(t *testing.T) {
	in := "time,open,high,low,close,volume\n" +
		"1704153600,1.10,1.12,1.09,1.11,100\n" +
		"2024.01.02 01:00,1.11,1.13,1.10,1.12,50\n"
	bars, err := ParseRatesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}
	if bars[1].Time != 1704153600+3600 || bars[1].Close != 1.12 || bars[0].Volume != 100 {
		t.Errorf("bars = %+v", bars)
	}

	mt4 := "2024.01.02,00:00,1.10,1.12,1.09,1.11,100\n"
	bars, err = ParseRatesCSV(strings.NewReader(mt4))
	if err != nil || len(bars) != 1 || bars[0].Time != 1704153600 {
		t.Errorf("MetaTrader layout = %+v, %v", bars, err)
	}
}

func TestParseRatesCSVErrors(t *testing.T) {
	tests := map[string]string{
		"high below low": "1,1.1,1.0,1.2,1.1,1\n2,1.1,1.0,1.2,1.1,1\n",
		"not ascending":  "2,1.1,1.2,1.0,1.1,1\n1,1.1,1.2,1.0,1.1,1\n",
		"empty":          "time,open,high,low,close,volume\n",
	}
	for name, in := range tests {
		if _, err := ParseRatesCSV(strings.NewReader(in)); !errors.Is(err, model.ErrData) {
			t.Errorf("%s: error = %v, want ErrData", name, err)
		}
	}
}

func TestRatesCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eurusd.json")
	if err := os.WriteFile(path, []byte(`[{"time":1,"open":1,"high":2,"low":0.5,"close":1.5,"volume":3}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewRatesCache(time.Hour)
	loads := 0
	c.load = func(p string) ([]model.Bar, error) {
		loads++
		return LoadRates(p)
	}
	for i := 0; i < 3; i++ {
		bars, err := c.Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(bars) != 1 || bars[0].High != 2 {
			t.Fatalf("bars = %+v", bars)
		}
	}
	if loads != 1 {
		t.Errorf("file parsed %d times, want 1", loads)
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(path); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("modified file not reparsed: loads = %d", loads)
	}

	var nilCache *RatesCache
	if _, err := nilCache.Load(path); err != nil {
		t.Errorf("nil cache Load() = %v", err)
	}
}
