package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"portfolio-backtest/internal/model"
)

// mt4Layout is the date format of MetaTrader history exports.
const mt4Layout = "2006.01.02 15:04"

// LoadRates reads a bar file, choosing the format from the extension:
// .json for a JSON bar array, anything else for CSV.
func LoadRates(path string) ([]model.Bar, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadRatesJSON(path)
	}
	return LoadRatesCSV(path)
}

func LoadRatesCSV(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open rates file: %v", model.ErrData, err)
	}
	defer f.Close()
	return ParseRatesCSV(f)
}

// ParseRatesCSV accepts "time,open,high,low,close,volume" rows where time is
// epoch seconds or "2006.01.02 15:04", and the MetaTrader export layout with
// separate date and time columns. A header line is skipped.
func ParseRatesCSV(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: rates file: %v", model.ErrData, err)
	}
	bars := make([]model.Bar, 0, len(recs))
	for i, rec := range recs {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		b, err := parseBar(rec)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("rates file line %d: %w", i+1, err)
		}
		if n := len(bars); n > 0 && b.Time <= bars[n-1].Time {
			return nil, fmt.Errorf("%w: rates file line %d: bar times not ascending", model.ErrData, i+1)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: rates file has no bars", model.ErrData)
	}
	return bars, nil
}

func parseBar(rec []string) (model.Bar, error) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	var stamp string
	var vals []string
	switch len(rec) {
	case 6:
		stamp, vals = rec[0], rec[1:]
	case 7:
		stamp, vals = rec[0]+" "+rec[1], rec[2:]
	default:
		return model.Bar{}, fmt.Errorf("%w: want 6 or 7 fields, got %d", model.ErrData, len(rec))
	}

	t, err := parseBarTime(stamp)
	if err != nil {
		return model.Bar{}, err
	}
	var f [5]float64
	for i, v := range vals {
		f[i], err = strconv.ParseFloat(v, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("%w: value %q", model.ErrData, v)
		}
	}
	b := model.Bar{Time: t, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: f[4]}
	if b.High < b.Low || b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return model.Bar{}, fmt.Errorf("%w: inconsistent bar %+v", model.ErrData, b)
	}
	return b, nil
}

func parseBarTime(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.ParseInLocation(mt4Layout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: bar time %q", model.ErrData, s)
	}
	return t.Unix(), nil
}
