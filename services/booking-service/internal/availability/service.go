package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

type ScheduleSource interface {
	Get(ctx context.Context, resourceType, resourceID string) (*schedule.WeekSchedule, error)
}

type BookingSource interface {
	ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]model.Booking, error)
}

// CacheKey identifies one cached slot computation. A booking affects the
// computation for every duration, so invalidation is keyed on
// (resource, date) only.
type CacheKey struct {
	ResourceID      string
	Date            string
	DurationMinutes int
}

type CacheStore interface {
	Get(ctx context.Context, key CacheKey) ([]Slot, bool)
	Put(ctx context.Context, key CacheKey, slots []Slot)
	Invalidate(ctx context.Context, resourceID, date string)
}

// Service is the availability read path: slot generation plus conflict
// marking, fronted by a short-TTL cache. The cache only ever serves reads;
// write-path correctness is the lock manager's job.
type Service struct {
	schedules ScheduleSource
	bookings  BookingSource
	cache     CacheStore
	buffer    time.Duration
	logger    *slog.Logger
}

func NewService(schedules ScheduleSource, bookings BookingSource, cache CacheStore, buffer time.Duration, logger *slog.Logger) *Service {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	return &Service{
		schedules: schedules,
		bookings:  bookings,
		cache:     cache,
		buffer:    buffer,
		logger:    logger,
	}
}

// Slots returns the candidate slots for a resource and date, each marked
// available or taken against the current blocking bookings.
func (s *Service) Slots(ctx context.Context, resourceType, resourceID, date string, duration time.Duration) ([]Slot, error) {
	key := CacheKey{ResourceID: resourceID, Date: date, DurationMinutes: int(duration.Minutes())}
	if s.cache != nil {
		if slots, ok := s.cache.Get(ctx, key); ok {
			return slots, nil
		}
	}

	sched, err := s.schedules.Get(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	loc, err := sched.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve schedule timezone: %w", err)
	}
	day, err := time.ParseInLocation(schedule.DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}

	slots := Generate(sched, day, duration, s.buffer)
	if len(slots) > 0 {
		blocking, err := s.bookings.ListBlocking(ctx, resourceID, slots[0].Start, slots[len(slots)-1].End)
		if err != nil {
			return nil, err
		}
		busy := make([]Interval, 0, len(blocking))
		for _, b := range blocking {
			busy = append(busy, Interval{Start: b.Window.Start, End: b.Window.End})
		}
		slots = MarkTaken(slots, busy)
	}

	if s.cache != nil {
		s.cache.Put(ctx, key, slots)
	}
	return slots, nil
}

// Invalidate drops every cached duration variant for (resource, date).
func (s *Service) Invalidate(ctx context.Context, resourceID, date string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, resourceID, date)
	}
}
