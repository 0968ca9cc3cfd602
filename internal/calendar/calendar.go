package calendar

import (
	"errors"
	"time"
)

var ErrInvalidCalendarInput = errors.New("invalid_calendar_input")

var daysPerMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// IsLeapYear applies the Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the number of days in month (1-12) of year.
func DaysInMonth(year, month int) (int, error) {
	if month < 1 || month > 12 {
		return 0, ErrInvalidCalendarInput
	}
	if month == 2 && IsLeapYear(year) {
		return 29, nil
	}
	return daysPerMonth[month-1], nil
}

// CountMatchingWeekdays counts the days of the given month whose weekday is in set.
func CountMatchingWeekdays(year, month int, set WeekdaySet) (int, error) {
	days, err := DaysInMonth(year, month)
	if err != nil {
		return 0, err
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	count := 0
	for day := 0; day < days; day++ {
		if set.Contains(FromTime(first.AddDate(0, 0, day).Weekday())) {
			count++
		}
	}
	return count, nil
}

// NextMonth returns the calendar month after (year, month), rolling December into January.
func NextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}

// LastDayOfMonth returns the final date of t's month at midnight UTC.
func LastDayOfMonth(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1)
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
