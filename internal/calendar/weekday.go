package calendar

import (
	"strconv"
	"strings"
	"time"
)

// Weekday uses the Sunday-based encoding: 0 = Sunday ... 6 = Saturday.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return "weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return weekdayNames[d]
}

// FromTime converts a Go weekday, which already counts from Sunday.
func FromTime(d time.Weekday) Weekday {
	return Weekday(d)
}

// FromMondayBased converts a Monday=0 weekday index into the Sunday-based encoding.
func FromMondayBased(d int) Weekday {
	return Weekday(((d % 7) + 1 + 7) % 7)
}

// WeekdaySet is a set of Sunday-based weekdays. The zero value is empty.
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

func NewWeekdaySet(days ...Weekday) (WeekdaySet, error) {
	var set WeekdaySet
	for _, d := range days {
		if !d.Valid() {
			return 0, ErrInvalidCalendarInput
		}
		set |= 1 << uint(d)
	}
	return set, nil
}

// AllWeekdays returns the set containing every day of the week.
func AllWeekdays() WeekdaySet {
	return allWeekdays
}

func (s WeekdaySet) Contains(d Weekday) bool {
	if !d.Valid() {
		return false
	}
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Empty() bool {
	return s&allWeekdays == 0
}

func (s WeekdaySet) Len() int {
	n := 0
	for d := Sunday; d <= Saturday; d++ {
		if s.Contains(d) {
			n++
		}
	}
	return n
}

// Complement returns the weekdays not in s.
func (s WeekdaySet) Complement() WeekdaySet {
	return ^s & allWeekdays
}

// Days lists the members in ascending order.
func (s WeekdaySet) Days() []Weekday {
	out := make([]Weekday, 0, 7)
	for d := Sunday; d <= Saturday; d++ {
		if s.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// Encode renders the set as the comma list stored in processor metadata, e.g. "1,3,5".
func (s WeekdaySet) Encode() string {
	days := s.Days()
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

// Names renders the set as lower-case day names, e.g. "mon,wed,fri".
func (s WeekdaySet) Names() string {
	days := s.Days()
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ",")
}

func (s WeekdaySet) MarshalText() ([]byte, error) {
	return []byte(s.Encode()), nil
}

func (s *WeekdaySet) UnmarshalText(text []byte) error {
	parsed, err := ParseWeekdaySet(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseWeekdaySet accepts numeric ("1,3,5") or day-name ("Mon,Wed,Fri") lists.
// Duplicates collapse. An empty list parses to an empty set.
func ParseWeekdaySet(raw string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, err := parseWeekday(part)
		if err != nil {
			return 0, err
		}
		set |= 1 << uint(d)
	}
	return set, nil
}

func parseWeekday(token string) (Weekday, error) {
	if n, err := strconv.Atoi(token); err == nil {
		d := Weekday(n)
		if !d.Valid() {
			return 0, ErrInvalidCalendarInput
		}
		return d, nil
	}
	if d, ok := nameToWeekday[token]; ok {
		return d, nil
	}
	return 0, ErrInvalidCalendarInput
}

var nameToWeekday = map[string]Weekday{
	"sun": Sunday, "sunday": Sunday,
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
}
