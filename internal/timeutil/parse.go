package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"portfolio-backtest/internal/model"
)

// ParseTickTime parses the tick file format dd-mm-yyyy-HH-MM-SS.
func ParseTickTime(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 6 {
		return 0, fmt.Errorf("%w: tick time %q, expected dd-mm-yyyy-HH-MM-SS", model.ErrData, s)
	}
	f, err := atoiAll(parts)
	if err != nil {
		return 0, fmt.Errorf("%w: tick time %q: %v", model.ErrData, s, err)
	}
	return civil(s, f[2], f[1], f[0], f[3], f[4], f[5])
}

// ParseQuoteTime parses the conversion file format dd/mm/yyyy HH:MM.
// Two-digit years below 50 are 20xx, the rest 19xx.
func ParseQuoteTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	dateStr, clock, ok := strings.Cut(s, " ")
	if !ok {
		return 0, fmt.Errorf("%w: quote time %q, expected dd/mm/yyyy HH:MM", model.ErrData, s)
	}
	date := strings.Split(dateStr, "/")
	hm := strings.Split(strings.TrimSpace(clock), ":")
	if len(date) != 3 || len(hm) < 2 || len(hm) > 3 {
		return 0, fmt.Errorf("%w: quote time %q, expected dd/mm/yyyy HH:MM", model.ErrData, s)
	}
	f, err := atoiAll(append(date, hm...))
	if err != nil {
		return 0, fmt.Errorf("%w: quote time %q: %v", model.ErrData, s, err)
	}
	year := f[2]
	if len(date[2]) <= 2 {
		year = ExpandYear(year)
	}
	sec := 0
	if len(f) == 6 {
		sec = f[5]
	}
	return civil(s, year, f[1], f[0], f[3], f[4], sec)
}

// ExpandYear maps a two-digit year onto 1950..2049.
func ExpandYear(y int) int {
	if y < 50 {
		return 2000 + y
	}
	return 1900 + y
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns epoch seconds in loc.
func ParseDate(s string, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return brokerSeconds(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC3339", s)
	}
	return brokerSeconds(t.In(loc)), nil
}

// brokerSeconds keeps the wall clock of t and reads it as UTC, which is how
// broker time is represented everywhere else.
func brokerSeconds(t time.Time) int64 {
	return MkGmTime(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// ToTime reads broker seconds as a UTC wall clock.
func ToTime(t int64) time.Time { return time.Unix(t, 0).UTC() }

// Format renders epoch seconds as "2006-01-02 15:04:05".
func Format(t int64) string {
	return ToTime(t).Format("2006-01-02 15:04:05")
}

func civil(src string, year, month, day, hour, min, sec int) (int64, error) {
	if month < 1 || month > 12 || day < 1 || day > DaysInMonth(year, month) ||
		hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("%w: %q out of range", model.ErrData, src)
	}
	return MkGmTime(year, month, day, hour, min, sec), nil
}

func atoiAll(parts []string) ([]int, error) {
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
