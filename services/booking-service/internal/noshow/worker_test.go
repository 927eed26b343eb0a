package noshow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/outbox"
)

type fakeSweeper struct {
	swept  []model.Booking
	err    error
	cutoff time.Time
	events []outbox.Event
}

func (f *fakeSweeper) SweepNoShows(_ context.Context, cutoff time.Time, _ int, buildEvent func(model.Booking) (outbox.Event, error)) ([]model.Booking, error) {
	f.cutoff = cutoff
	if f.err != nil {
		return nil, f.err
	}
	for _, b := range f.swept {
		evt, err := buildEvent(b)
		if err != nil {
			return nil, err
		}
		f.events = append(f.events, evt)
	}
	return f.swept, nil
}

type fakeCache struct {
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, resourceID, date string) {
	c.invalidated = append(c.invalidated, resourceID+"/"+date)
}

func TestSweep(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{swept: []model.Booking{{
		ID:         "b-1",
		ResourceID: "res-1",
		Status:     model.StatusNoShow,
		Window:     model.Window{Start: start, End: start.Add(30 * time.Minute)},
	}}}
	cache := &fakeCache{}
	w := NewWorker(sweeper, cache, slog.Default(), Config{Grace: 30 * time.Minute})

	before := time.Now()
	w.sweep(context.Background())

	wantCutoff := before.Add(-30 * time.Minute)
	if sweeper.cutoff.Before(wantCutoff.Add(-time.Second)) || sweeper.cutoff.After(wantCutoff.Add(time.Second)) {
		t.Fatalf("cutoff = %s, want about %s", sweeper.cutoff, wantCutoff)
	}

	if len(sweeper.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sweeper.events))
	}
	evt := sweeper.events[0]
	if evt.EventType != outbox.EventBookingNoShow || evt.AggregateID != "b-1" {
		t.Fatalf("event = %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload["swept"] != true {
		t.Fatal("payload must mark the no-show as swept")
	}

	if len(cache.invalidated) != 1 || cache.invalidated[0] != "res-1/2026-01-28" {
		t.Fatalf("invalidations = %v", cache.invalidated)
	}
}

func TestSweep_ErrorLeavesCacheAlone(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	cache := &fakeCache{}
	w := NewWorker(sweeper, cache, slog.Default(), Config{})

	w.sweep(context.Background())
	if len(cache.invalidated) != 0 {
		t.Fatalf("invalidations = %v, want none", cache.invalidated)
	}
}
