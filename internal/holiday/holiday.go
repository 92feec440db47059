// Package holiday computes the calendar date of movable holidays.
package holiday

import (
	"sort"
	"time"
)

// Name identifies a movable holiday in schedule definitions
type Name string

const (
	Easter         Name = "easter"
	ThanksgivingUS Name = "thanksgiving_us"
)

// Func returns the date of a holiday in the given year
type Func func(year int) time.Time

var calculators = map[Name]Func{
	Easter:         EasterDate,
	ThanksgivingUS: ThanksgivingUSDate,
}

// EasterDate returns Gregorian Easter Sunday using the Meeus/Jones/Butcher algorithm
func EasterDate(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// ThanksgivingUSDate returns the fourth Thursday of November
func ThanksgivingUSDate(year int) time.Time {
	nov1 := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
	toThursday := (int(time.Thursday) - int(nov1.Weekday()) + 7) % 7
	firstThursday := nov1.AddDate(0, 0, toThursday)

	// Three weeks after the first Thursday
	return firstThursday.AddDate(0, 0, 21)
}

// Lookup returns the calculator for a holiday name
func Lookup(name string) (Func, bool) {
	fn, ok := calculators[Name(name)]
	return fn, ok
}

// DateOf returns the date of the named holiday in year.
// The second return value is false for unknown names.
func DateOf(name string, year int) (time.Time, bool) {
	fn, ok := Lookup(name)
	if !ok {
		return time.Time{}, false
	}
	return fn(year), true
}

// Names returns all supported holiday names in sorted order
func Names() []string {
	names := make([]string, 0, len(calculators))
	for name := range calculators {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
