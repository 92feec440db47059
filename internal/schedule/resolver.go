package schedule

import (
	"errors"
	"fmt"
	"time"

	"duneweaver/internal/holiday"

	"go.uber.org/zap"
)

// ErrUnknownHoliday is returned for dynamic entries naming a holiday the calculator does not know
var ErrUnknownHoliday = errors.New("unknown dynamic holiday")

// matcher reports whether an entry applies on day. day is midnight in the
// schedule's location.
type matcher func(e Entry, day time.Time) (bool, error)

var matchers = map[Kind]matcher{
	KindRange:   matchRange,
	KindDates:   matchDates,
	KindDynamic: matchDynamic,
}

// Resolver picks the active playlist for a day
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a new schedule resolver
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("resolver")}
}

// ActivePlaylist returns the first entry matching day, in the given order.
// Broken entries are logged and skipped; they never abort resolution.
func (r *Resolver) ActivePlaylist(entries []Entry, day time.Time) (string, bool) {
	dayStr := day.Format("02.01.2006")

	for _, e := range entries {
		match, ok := matchers[e.Kind]
		if !ok {
			r.logger.Warn("Unknown schedule entry type",
				zap.String("playlist", e.Playlist),
				zap.String("type", string(e.Kind)))
			continue
		}

		matched, err := match(e, day)
		if err != nil {
			r.logger.Warn("Invalid schedule entry",
				zap.String("playlist", e.Playlist),
				zap.String("type", string(e.Kind)),
				zap.Error(err))
			continue
		}

		if matched {
			r.logger.Debug("Schedule entry matched",
				zap.String("date", dayStr),
				zap.String("playlist", e.Playlist),
				zap.String("type", string(e.Kind)))
			return e.Playlist, true
		}
	}

	r.logger.Debug("No schedule entry matched", zap.String("date", dayStr))
	return "", false
}

func matchRange(e Entry, day time.Time) (bool, error) {
	if e.Start == "" || e.End == "" {
		return false, fmt.Errorf("range needs both start and end")
	}

	startDM, err := ParseDayMonth(e.Start)
	if err != nil {
		return false, err
	}
	endDM, err := ParseDayMonth(e.End)
	if err != nil {
		return false, err
	}

	start, err := startDM.In(day.Year(), day.Location())
	if err != nil {
		return false, err
	}
	end, err := endDM.In(day.Year(), day.Location())
	if err != nil {
		return false, err
	}

	if start.After(end) {
		// Crosses new year
		return !day.Before(start) || !day.After(end), nil
	}
	return !day.Before(start) && !day.After(end), nil
}

func matchDates(e Entry, day time.Time) (bool, error) {
	matched := false
	for _, s := range e.Dates {
		dm, err := ParseDayMonth(s)
		if err != nil {
			return false, err
		}
		if dm.Matches(day) {
			matched = true
		}
	}
	return matched, nil
}

func matchDynamic(e Entry, day time.Time) (bool, error) {
	date, ok := holiday.DateOf(e.Holiday, day.Year())
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownHoliday, e.Holiday)
	}
	return date.Month() == day.Month() && date.Day() == day.Day(), nil
}
