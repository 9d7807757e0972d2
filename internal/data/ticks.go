package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// TickReader streams ticks from a "dd-mm-yyyy-HH-MM-SS,bid,ask" CSV file.
// A header line is skipped. Ticks must not go back in time.
type TickReader struct {
	r      *csv.Reader
	closer io.Closer
	line   int
	last   int64
}

func NewTickReader(r io.Reader) *TickReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &TickReader{r: cr, last: model.InvalidTime}
}

// OpenTickFile opens path for streaming. The caller must Close the reader.
func OpenTickFile(path string) (*TickReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open tick file: %v", model.ErrData, err)
	}
	tr := NewTickReader(f)
	tr.closer = f
	return tr, nil
}

// Next returns the next tick or io.EOF once the file is exhausted.
func (tr *TickReader) Next() (model.Tick, error) {
	for {
		rec, err := tr.r.Read()
		if errors.Is(err, io.EOF) {
			return model.Tick{}, io.EOF
		}
		tr.line++
		if err != nil {
			return model.Tick{}, fmt.Errorf("%w: tick file line %d: %v", model.ErrData, tr.line, err)
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		tick, err := parseTick(rec)
		if err != nil {
			if tr.line == 1 {
				continue
			}
			return model.Tick{}, fmt.Errorf("tick file line %d: %w", tr.line, err)
		}
		if tick.Time < tr.last {
			return model.Tick{}, fmt.Errorf("%w: tick file line %d: time %s before previous tick", model.ErrData, tr.line, timeutil.Format(tick.Time))
		}
		tr.last = tick.Time
		return tick, nil
	}
}

func (tr *TickReader) Close() error {
	if tr.closer == nil {
		return nil
	}
	return tr.closer.Close()
}

func parseTick(rec []string) (model.Tick, error) {
	if len(rec) < 3 {
		return model.Tick{}, fmt.Errorf("%w: want 3 fields, got %d", model.ErrData, len(rec))
	}
	t, err := timeutil.ParseTickTime(strings.TrimSpace(rec[0]))
	if err != nil {
		return model.Tick{}, err
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: bid %q", model.ErrData, rec[1])
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: ask %q", model.ErrData, rec[2])
	}
	if ask < bid {
		return model.Tick{}, fmt.Errorf("%w: ask %g below bid %g", model.ErrData, ask, bid)
	}
	return model.Tick{Time: t, Bid: bid, Ask: ask}, nil
}
