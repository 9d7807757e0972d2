package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// QuoteSeries is an ascending series of conversion rates.
type QuoteSeries struct {
	quotes []model.Quote
}

func NewQuoteSeries(quotes []model.Quote) *QuoteSeries {
	q := append([]model.Quote(nil), quotes...)
	sort.SliceStable(q, func(i, j int) bool { return q[i].Time < q[j].Time })
	return &QuoteSeries{quotes: q}
}

// LoadQuotes reads a "dd/mm/yyyy HH:MM,rate" file.
func LoadQuotes(path string) (*QuoteSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open quote file: %v", model.ErrData, err)
	}
	defer f.Close()
	return ParseQuotes(f)
}

func ParseQuotes(r io.Reader) (*QuoteSeries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: quote file: %v", model.ErrData, err)
	}
	quotes := make([]model.Quote, 0, len(recs))
	for i, rec := range recs {
		if len(rec) < 2 {
			if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
				continue
			}
			return nil, fmt.Errorf("%w: quote file line %d: want 2 fields", model.ErrData, i+1)
		}
		t, err := timeutil.ParseQuoteTime(strings.TrimSpace(rec[0]))
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("quote file line %d: %w", i+1, err)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("%w: quote file line %d: rate %q", model.ErrData, i+1, rec[1])
		}
		quotes = append(quotes, model.Quote{Time: t, Rate: rate})
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: quote file has no quotes", model.ErrData)
	}
	return NewQuoteSeries(quotes), nil
}

func (s *QuoteSeries) Len() int { return len(s.quotes) }

// At returns the last rate quoted at or before t. Before the first quote it
// returns the first rate and false.
func (s *QuoteSeries) At(t int64) (float64, bool) {
	if len(s.quotes) == 0 {
		return 0, false
	}
	i := sort.Search(len(s.quotes), func(i int) bool { return s.quotes[i].Time > t })
	if i == 0 {
		return s.quotes[0].Rate, false
	}
	return s.quotes[i-1].Rate, true
}
