package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSet(t *testing.T, days ...Weekday) WeekdaySet {
	t.Helper()
	set, err := NewWeekdaySet(days...)
	require.NoError(t, err)
	return set
}

func TestCountMatchingWeekdays_February2024MonWedFri(t *testing.T) {
	// 2024-02-01 is a Thursday: Mondays 5,12,19,26; Wednesdays 7,14,21,28; Fridays 2,9,16,23.
	got, err := CountMatchingWeekdays(2024, 2, mustSet(t, Monday, Wednesday, Friday))
	require.NoError(t, err)
	assert.Equal(t, 12, got)

	thursdays, err := CountMatchingWeekdays(2024, 2, mustSet(t, Thursday))
	require.NoError(t, err)
	assert.Equal(t, 5, thursdays)
}

func TestCountMatchingWeekdays_AllDaysEqualsMonthLength(t *testing.T) {
	for year := 1999; year <= 2101; year++ {
		for month := 1; month <= 12; month++ {
			days, err := DaysInMonth(year, month)
			require.NoError(t, err)

			got, err := CountMatchingWeekdays(year, month, AllWeekdays())
			require.NoError(t, err)
			require.Equal(t, days, got, "%04d-%02d", year, month)

			expected := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
			require.Equal(t, expected, days, "%04d-%02d", year, month)
		}
	}
}

func TestCountMatchingWeekdays_ComplementsSumToMonthLength(t *testing.T) {
	sets := []WeekdaySet{
		mustSet(t, Monday, Wednesday, Friday),
		mustSet(t, Sunday),
		mustSet(t, Tuesday, Thursday, Saturday, Sunday),
		0,
	}
	for _, set := range sets {
		for month := 1; month <= 12; month++ {
			a, err := CountMatchingWeekdays(2023, month, set)
			require.NoError(t, err)
			b, err := CountMatchingWeekdays(2023, month, set.Complement())
			require.NoError(t, err)
			days, _ := DaysInMonth(2023, month)
			assert.Equal(t, days, a+b)
		}
	}
}

func TestCountMatchingWeekdays_InvalidMonth(t *testing.T) {
	for _, month := range []int{0, 13, -1} {
		_, err := CountMatchingWeekdays(2024, month, AllWeekdays())
		assert.ErrorIs(t, err, ErrInvalidCalendarInput)
	}
}

func TestDaysInMonth_LeapYears(t *testing.T) {
	cases := map[int]int{2024: 29, 2023: 28, 1900: 28, 2000: 29, 2100: 28}
	for year, want := range cases {
		got, err := DaysInMonth(year, 2)
		require.NoError(t, err)
		assert.Equal(t, want, got, "year %d", year)
	}
}

func TestNextMonth(t *testing.T) {
	y, m := NextMonth(2024, 12)
	assert.Equal(t, 2025, y)
	assert.Equal(t, 1, m)

	y, m = NextMonth(2024, 2)
	assert.Equal(t, 2024, y)
	assert.Equal(t, 3, m)
}

func TestFromMondayBased(t *testing.T) {
	assert.Equal(t, Monday, FromMondayBased(0))
	assert.Equal(t, Saturday, FromMondayBased(5))
	assert.Equal(t, Sunday, FromMondayBased(6))
	assert.Equal(t, Friday, FromTime(time.Friday))
}

func TestParseWeekdaySet(t *testing.T) {
	set, err := ParseWeekdaySet("1,3,5,3")
	require.NoError(t, err)
	assert.Equal(t, "1,3,5", set.Encode())
	assert.Equal(t, 3, set.Len())

	named, err := ParseWeekdaySet("Mon, wed ,FRI")
	require.NoError(t, err)
	assert.Equal(t, set, named)
	assert.Equal(t, "mon,wed,fri", named.Names())

	empty, err := ParseWeekdaySet("")
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = ParseWeekdaySet("1,7")
	assert.ErrorIs(t, err, ErrInvalidCalendarInput)

	_, err = ParseWeekdaySet("funday")
	assert.ErrorIs(t, err, ErrInvalidCalendarInput)
}

func TestWeekdaySetText(t *testing.T) {
	var set WeekdaySet
	require.NoError(t, set.UnmarshalText([]byte("0,6")))
	assert.True(t, set.Contains(Sunday))
	assert.True(t, set.Contains(Saturday))
	assert.False(t, set.Contains(Monday))

	text, err := set.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0,6", string(text))
}

func TestNewWeekdaySet_RejectsOutOfRange(t *testing.T) {
	_, err := NewWeekdaySet(Weekday(7))
	assert.ErrorIs(t, err, ErrInvalidCalendarInput)
}
