// Package schedule holds a provider's declared operating hours: the weekly
// open/close pattern, an optional mid-day break, and ad-hoc closed dates.
// The data is owned by the provider profile service; this core only reads it.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("resource schedule not found")

const DateLayout = "2006-01-02"

// ClockMinutes is a local wall-clock time expressed as minutes from midnight
// (e.g. 540 for 09:00).
type ClockMinutes int

func (m ClockMinutes) Duration() time.Duration {
	return time.Duration(m) * time.Minute
}

func (m ClockMinutes) String() string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// DayWindow is one weekday's operating window. A zero break pair means the
// resource takes no break that day.
type DayWindow struct {
	Closed     bool
	Open       ClockMinutes
	Close      ClockMinutes
	BreakStart ClockMinutes
	BreakEnd   ClockMinutes
}

func (w DayWindow) HasBreak() bool {
	return w.BreakEnd > w.BreakStart
}

func (w DayWindow) Validate() error {
	if w.Closed {
		return nil
	}
	if w.Open < 0 || w.Close > 24*60 {
		return errors.New("operating window outside the day")
	}
	if w.Open >= w.Close {
		return fmt.Errorf("open %s must be before close %s", w.Open, w.Close)
	}
	if w.BreakStart == 0 && w.BreakEnd == 0 {
		return nil
	}
	if w.BreakStart >= w.BreakEnd {
		return fmt.Errorf("break start %s must be before break end %s", w.BreakStart, w.BreakEnd)
	}
	if w.BreakStart < w.Open || w.BreakEnd > w.Close {
		return errors.New("break must fall inside the operating window")
	}
	return nil
}

// WeekSchedule is a resource's full weekly pattern plus closed dates,
// interpreted in the provider's timezone.
type WeekSchedule struct {
	Timezone    string
	Days        [7]DayWindow // indexed by time.Weekday
	ClosedDates map[string]struct{}
}

func (s *WeekSchedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	for wd, day := range s.Days {
		if err := day.Validate(); err != nil {
			return fmt.Errorf("%s: %w", time.Weekday(wd), err)
		}
	}
	return nil
}

func (s *WeekSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// WindowFor resolves the operating window for a calendar date. The second
// return value is false when the resource is closed that day, either by the
// weekly pattern or by an ad-hoc closed date.
func (s *WeekSchedule) WindowFor(date time.Time) (DayWindow, bool) {
	if _, closed := s.ClosedDates[date.Format(DateLayout)]; closed {
		return DayWindow{}, false
	}
	w := s.Days[date.Weekday()]
	if w.Closed || w.Open >= w.Close {
		return DayWindow{}, false
	}
	return w, true
}
