// Package timeutil does the calendar arithmetic used to line up tick files,
// bars and quote files. All times are broker epoch seconds treated as UTC.
package timeutil

import "time"

const (
	SecondsPerHour = 3600
	SecondsPerDay  = 86400
	SecondsPerWeek = 7 * SecondsPerDay
)

var daysBeforeMonth = [...]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

func IsLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func DaysInMonth(y, m int) int {
	switch m {
	case 2:
		if IsLeapYear(y) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// MkGmTime converts UTC civil fields to epoch seconds. month is 1..12.
// Fields are not normalised; callers validate ranges first.
func MkGmTime(year, month, day, hour, min, sec int) int64 {
	days := daysFromEpoch(year) + int64(daysBeforeMonth[month-1]) + int64(day-1)
	if month > 2 && IsLeapYear(year) {
		days++
	}
	return days*SecondsPerDay + int64(hour)*SecondsPerHour + int64(min)*60 + int64(sec)
}

// daysFromEpoch counts the days between 1970-01-01 and January 1st of year.
func daysFromEpoch(year int) int64 {
	y := int64(year) - 1
	leaps := y/4 - y/100 + y/400
	const leapsBefore1970 = 1969/4 - 1969/100 + 1969/400
	return (int64(year)-1970)*365 + leaps - leapsBefore1970
}

// Weekday of an epoch-second timestamp.
func Weekday(t int64) time.Weekday {
	d := floorDiv(t, SecondsPerDay)
	// 1970-01-01 was a Thursday.
	return time.Weekday((d%7 + 7 + 4) % 7)
}

func DayStart(t int64) int64  { return floorDiv(t, SecondsPerDay) * SecondsPerDay }
func HourStart(t int64) int64 { return floorDiv(t, SecondsPerHour) * SecondsPerHour }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Years is the length of [from, to] in Julian years.
func Years(from, to int64) float64 {
	return float64(to-from) / (365.25 * SecondsPerDay)
}
