package availability

import (
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

const (
	// MinDuration is the shortest bookable appointment.
	MinDuration = 15 * time.Minute
	// DefaultBuffer is the turnaround gap left between consecutive slots.
	DefaultBuffer = 5 * time.Minute

	ReasonTaken = "slot_taken"
)

// Slot is one bookable candidate window, half-open [Start, End).
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
}

type Interval struct {
	Start time.Time
	End   time.Time
}

// Generate computes the candidate slots for one calendar date from the weekly
// schedule alone, ignoring existing bookings. It is a pure function of its
// inputs: no clock, no store.
//
// The walk starts at the day's opening time and advances by duration+buffer.
// A candidate that would run past closing ends the walk; a candidate that
// overlaps the break jumps the cursor to the break end, so the first
// afternoon slot starts exactly when the break finishes.
func Generate(sched *schedule.WeekSchedule, date time.Time, duration, buffer time.Duration) []Slot {
	if duration <= 0 || buffer < 0 {
		return nil
	}
	win, open := sched.WindowFor(date)
	if !open {
		return nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	closeAt := dayStart.Add(win.Close.Duration())

	var breakStart, breakEnd time.Time
	if win.HasBreak() {
		breakStart = dayStart.Add(win.BreakStart.Duration())
		breakEnd = dayStart.Add(win.BreakEnd.Duration())
	}

	var slots []Slot
	for at := dayStart.Add(win.Open.Duration()); ; {
		end := at.Add(duration)
		if end.After(closeAt) {
			break
		}
		// Half-open overlap with the break: [at, end) vs [breakStart, breakEnd).
		if win.HasBreak() && at.Before(breakEnd) && end.After(breakStart) {
			at = breakEnd
			continue
		}
		slots = append(slots, Slot{Start: at, End: end, Available: true})
		at = at.Add(duration + buffer)
	}
	return slots
}

// MarkTaken flags every candidate that overlaps a blocking booking window.
// Equal boundary touching is not a conflict (half-open intervals).
func MarkTaken(slots []Slot, busy []Interval) []Slot {
	for i := range slots {
		if overlapsAny(slots[i].Start, slots[i].End, busy) {
			slots[i].Available = false
			slots[i].Reason = ReasonTaken
		}
	}
	return slots
}

// Overlaps reports whether [start, end) intersects any of the blocking
// windows of the given bookings.
func Overlaps(start, end time.Time, bookings []model.Booking) bool {
	for _, b := range bookings {
		if !b.Status.Blocks() {
			continue
		}
		if start.Before(b.Window.End) && b.Window.Start.Before(end) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
