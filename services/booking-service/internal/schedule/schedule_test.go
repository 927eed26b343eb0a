package schedule

import (
	"testing"
	"time"
)

func TestClockMinutesString(t *testing.T) {
	if got := ClockMinutes(540).String(); got != "09:00" {
		t.Fatalf("540 = %q", got)
	}
	if got := ClockMinutes(9*60 + 5).String(); got != "09:05" {
		t.Fatalf("545 = %q", got)
	}
}

func TestDayWindowValidate(t *testing.T) {
	cases := []struct {
		name    string
		win     DayWindow
		wantErr bool
	}{
		{"closed ignores fields", DayWindow{Closed: true, Open: 900, Close: 100}, false},
		{"plain day", DayWindow{Open: 540, Close: 1080}, false},
		{"with break", DayWindow{Open: 540, Close: 1080, BreakStart: 720, BreakEnd: 780}, false},
		{"open after close", DayWindow{Open: 1080, Close: 540}, true},
		{"inverted break", DayWindow{Open: 540, Close: 1080, BreakStart: 780, BreakEnd: 720}, true},
		{"break outside window", DayWindow{Open: 540, Close: 1080, BreakStart: 60, BreakEnd: 120}, true},
		{"close past midnight", DayWindow{Open: 540, Close: 25 * 60}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.win.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestWindowFor(t *testing.T) {
	s := &WeekSchedule{
		Timezone:    "UTC",
		ClosedDates: map[string]struct{}{"2026-01-29": {}},
	}
	s.Days[time.Wednesday] = DayWindow{Open: 540, Close: 1080}
	s.Days[time.Thursday] = DayWindow{Open: 540, Close: 1080}

	wednesday := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	if _, open := s.WindowFor(wednesday); !open {
		t.Fatal("wednesday should be open")
	}

	// Thursday is in the weekly pattern but blocked by an ad-hoc date.
	thursday := wednesday.AddDate(0, 0, 1)
	if _, open := s.WindowFor(thursday); open {
		t.Fatal("closed date should win over the weekly pattern")
	}

	// Friday has no configured window at all.
	friday := wednesday.AddDate(0, 0, 2)
	if _, open := s.WindowFor(friday); open {
		t.Fatal("unconfigured weekday should be closed")
	}
}

func TestLocationDefaultsToUTC(t *testing.T) {
	s := &WeekSchedule{}
	loc, err := s.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("location = (%v, %v)", loc, err)
	}

	s.Timezone = "Not/AZone"
	if _, err := s.Location(); err == nil {
		t.Fatal("bogus timezone must error")
	}
}
