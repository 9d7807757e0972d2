package strategy

import (
	"fmt"
	"math"
	"strings"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// SessionBreakoutParams implements a daily range breakout:
//   - during [SessionStart, SessionEnd) the range of the session is recorded
//     and yesterday's untriggered stop orders are cancelled
//   - after SessionEnd a BUYSTOP is placed Offset above the range high and a
//     SELLSTOP Offset below the range low, each with its stop at the other
//     side of the range
//
// Times are broker clock "HH:MM"; the session must not wrap past midnight.
type SessionBreakoutParams struct {
	SessionStart string
	SessionEnd   string
	Lots         float64
	Offset       float64
	// TPRange places the take profit at this multiple of the range height;
	// zero means none.
	TPRange float64
}

type SessionBreakout struct {
	Params SessionBreakoutParams

	startMins int
	endMins   int
	placedDay int64
	cancelDay int64
}

func NewSessionBreakout(p SessionBreakoutParams) (*SessionBreakout, error) {
	start, err := parseHHMM(p.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("%w: session_breakout: %v", model.ErrConfig, err)
	}
	end, err := parseHHMM(p.SessionEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: session_breakout: %v", model.ErrConfig, err)
	}
	if start >= end {
		return nil, fmt.Errorf("%w: session_breakout: session %s-%s must end after it starts", model.ErrConfig, p.SessionStart, p.SessionEnd)
	}
	if p.Lots <= 0 {
		return nil, fmt.Errorf("%w: session_breakout lots must be positive", model.ErrConfig)
	}
	return &SessionBreakout{
		Params:    p,
		startMins: start,
		endMins:   end,
		placedDay: model.InvalidTime,
		cancelDay: model.InvalidTime,
	}, nil
}

func (s *SessionBreakout) Name() string { return "session_breakout" }

func (s *SessionBreakout) Run(ctx Context) ([]Result, error) {
	day := timeutil.DayStart(ctx.Time)
	mins := minutesOfDay(ctx.Time)

	if inWindow(mins, s.startMins, s.endMins) {
		if s.cancelDay == day {
			return nil, nil
		}
		s.cancelDay = day
		var sigs []Signal
		for _, t := range []model.OrderType{model.BuyStop, model.SellStop} {
			if ctx.CountOrders(t) > 0 {
				sigs = append(sigs, Close{Type: t})
			}
		}
		if len(sigs) == 0 {
			return nil, nil
		}
		return []Result{{Ticket: model.AnyTicket, Signals: sigs}}, nil
	}

	if mins < s.endMins || s.placedDay == day || len(ctx.Rates) == 0 {
		return nil, nil
	}
	high, low := math.Inf(-1), math.Inf(1)
	for _, b := range ctx.Rates[0] {
		if timeutil.DayStart(b.Time) != day || !inWindow(minutesOfDay(b.Time), s.startMins, s.endMins) {
			continue
		}
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	s.placedDay = day
	if math.IsInf(high, 0) || math.IsInf(low, 0) || high <= low {
		return nil, nil
	}

	height := high - low
	var out []Result
	if buy := high + s.Params.Offset; ctx.Ask < buy {
		r := Result{Lots: s.Params.Lots, EntryPrice: buy, StopLoss: low - s.Params.Offset, Signals: []Signal{Open{Type: model.BuyStop}}}
		if s.Params.TPRange > 0 {
			r.TakeProfit = buy + height*s.Params.TPRange
		}
		out = append(out, r)
	}
	if sell := low - s.Params.Offset; ctx.Bid > sell {
		r := Result{Lots: s.Params.Lots, EntryPrice: sell, StopLoss: high + s.Params.Offset, Signals: []Signal{Open{Type: model.SellStop}}}
		if s.Params.TPRange > 0 {
			r.TakeProfit = sell - height*s.Params.TPRange
		}
		out = append(out, r)
	}
	return out, nil
}

func minutesOfDay(t int64) int {
	return int((t - timeutil.DayStart(t)) / 60)
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// inWindow checks whether tMins is in [start, end) on a 24h clock.
// If start == end, the window is empty (always false).
// If start > end, it wraps across midnight.
func inWindow(tMins, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return tMins >= start && tMins < end
	}
	return tMins >= start || tMins < end
}
