package availability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

type staticSchedules struct {
	sched *schedule.WeekSchedule
}

func (s *staticSchedules) Get(context.Context, string, string) (*schedule.WeekSchedule, error) {
	return s.sched, nil
}

type countingBookings struct {
	bookings []model.Booking
	calls    int
}

func (b *countingBookings) ListBlocking(context.Context, string, time.Time, time.Time) ([]model.Booking, error) {
	b.calls++
	return b.bookings, nil
}

// memCache mimics the epoch behavior of the Redis cache: Invalidate drops
// every duration variant for the (resource, date) pair.
type memCache struct {
	entries map[CacheKey][]Slot
}

func newMemCache() *memCache {
	return &memCache{entries: map[CacheKey][]Slot{}}
}

func (c *memCache) Get(_ context.Context, key CacheKey) ([]Slot, bool) {
	slots, ok := c.entries[key]
	return slots, ok
}

func (c *memCache) Put(_ context.Context, key CacheKey, slots []Slot) {
	c.entries[key] = slots
}

func (c *memCache) Invalidate(_ context.Context, resourceID, date string) {
	for key := range c.entries {
		if key.ResourceID == resourceID && key.Date == date {
			delete(c.entries, key)
		}
	}
}

func TestSlots_CacheCoherence(t *testing.T) {
	ctx := context.Background()
	bookings := &countingBookings{}
	cache := newMemCache()
	svc := NewService(&staticSchedules{sched: weekdaySchedule()}, bookings, cache, 5*time.Minute, slog.Default())

	first, err := svc.Slots(ctx, "daycare", "res-1", "2026-01-28", 30*time.Minute)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(first) != 13 {
		t.Fatalf("expected 13 slots, got %d", len(first))
	}
	if bookings.calls != 1 {
		t.Fatalf("store reads = %d, want 1", bookings.calls)
	}

	// Second read must come from the cache.
	if _, err := svc.Slots(ctx, "daycare", "res-1", "2026-01-28", 30*time.Minute); err != nil {
		t.Fatalf("cached slots failed: %v", err)
	}
	if bookings.calls != 1 {
		t.Fatalf("store reads = %d, want 1 (cache hit)", bookings.calls)
	}

	// A booking lands; the write path invalidates; the next read recomputes
	// and the 09:00 slot shows taken.
	bookings.bookings = []model.Booking{{
		Status: model.StatusPending,
		Window: model.Window{
			Start: time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 28, 9, 30, 0, 0, time.UTC),
		},
	}}
	svc.Invalidate(ctx, "res-1", "2026-01-28")

	refreshed, err := svc.Slots(ctx, "daycare", "res-1", "2026-01-28", 30*time.Minute)
	if err != nil {
		t.Fatalf("refreshed slots failed: %v", err)
	}
	if bookings.calls != 2 {
		t.Fatalf("store reads = %d, want 2 (recompute)", bookings.calls)
	}
	if refreshed[0].Available {
		t.Fatal("09:00 slot should be taken after the booking")
	}
	if refreshed[0].Reason != ReasonTaken {
		t.Fatalf("reason = %q", refreshed[0].Reason)
	}
	if !refreshed[1].Available {
		t.Fatal("09:35 slot should still be available")
	}
}

func TestSlots_UnknownDate(t *testing.T) {
	svc := NewService(&staticSchedules{sched: weekdaySchedule()}, &countingBookings{}, nil, 5*time.Minute, slog.Default())
	if _, err := svc.Slots(context.Background(), "daycare", "res-1", "01/28/2026", 30*time.Minute); err == nil {
		t.Fatal("malformed date must fail")
	}
}

func TestSlots_ClosedDateYieldsEmpty(t *testing.T) {
	sched := weekdaySchedule()
	sched.ClosedDates["2026-01-28"] = struct{}{}
	bookings := &countingBookings{}
	svc := NewService(&staticSchedules{sched: sched}, bookings, nil, 5*time.Minute, slog.Default())

	slots, err := svc.Slots(context.Background(), "daycare", "res-1", "2026-01-28", 30*time.Minute)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
	if bookings.calls != 0 {
		t.Fatal("no store read expected for a closed date")
	}
}
