// Package schedule loads the playlist schedule and resolves which playlist
// is active on a given day.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the rule type of a schedule entry
type Kind string

const (
	// KindRange matches an inclusive day.month range, wrapping over new year when start > end
	KindRange Kind = "range"
	// KindDates matches a fixed set of day.month dates
	KindDates Kind = "dates"
	// KindDynamic matches a computed holiday
	KindDynamic Kind = "dynamic"
)

// dayMonthLayout accepts one or two digit day and month, e.g. "24.12" or "1.1"
const dayMonthLayout = "2.1"

// Entry is one playlist rule from the schedule file.
// Kind-specific fields are kept as written and parsed at resolution time,
// so one broken entry never prevents the others from loading.
type Entry struct {
	Playlist string
	Kind     Kind
	Start    string
	End      string
	Dates    []string
	Holiday  string
	Priority int
}

// entrySpec is the on-disk shape of an entry value
type entrySpec struct {
	Type     string   `json:"type" yaml:"type"`
	Start    string   `json:"start,omitempty" yaml:"start,omitempty"`
	End      string   `json:"end,omitempty" yaml:"end,omitempty"`
	Dates    []string `json:"dates,omitempty" yaml:"dates,omitempty"`
	Holiday  string   `json:"holiday,omitempty" yaml:"holiday,omitempty"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
}

func (s entrySpec) toEntry(playlist string) Entry {
	return Entry{
		Playlist: playlist,
		Kind:     Kind(s.Type),
		Start:    s.Start,
		End:      s.End,
		Dates:    s.Dates,
		Holiday:  s.Holiday,
		Priority: s.Priority,
	}
}

// DayMonth is a calendar day without a year
type DayMonth struct {
	Day   int
	Month time.Month
}

// ParseDayMonth parses a "DD.MM" literal
func ParseDayMonth(s string) (DayMonth, error) {
	t, err := time.Parse(dayMonthLayout, strings.TrimSpace(s))
	if err != nil {
		return DayMonth{}, fmt.Errorf("invalid day.month %q: %w", s, err)
	}
	return DayMonth{Day: t.Day(), Month: t.Month()}, nil
}

// In returns the date in the given year and location.
// It fails for 29.02 in a non-leap year instead of rolling over to March.
func (dm DayMonth) In(year int, loc *time.Location) (time.Time, error) {
	t := time.Date(year, dm.Month, dm.Day, 0, 0, 0, 0, loc)
	if t.Month() != dm.Month || t.Day() != dm.Day {
		return time.Time{}, fmt.Errorf("%s does not exist in %d", dm, year)
	}
	return t, nil
}

// Matches reports whether t falls on this day and month
func (dm DayMonth) Matches(t time.Time) bool {
	return t.Day() == dm.Day && t.Month() == dm.Month
}

func (dm DayMonth) String() string {
	return fmt.Sprintf("%02d.%02d", dm.Day, int(dm.Month))
}
