package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/arman-chowdhury/pawbook/libs/db"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

// ScheduleRepository reads resource operating hours. The rows are written by
// the provider profile flow; this service never mutates them.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Get(ctx context.Context, resourceType, resourceID string) (*schedule.WeekSchedule, error) {
	var timezone string
	err := r.pool.QueryRow(ctx, `
		SELECT timezone
		FROM resource_schedules
		WHERE resource_type = $1 AND resource_id = $2
	`, resourceType, resourceID).Scan(&timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrNotFound
		}
		return nil, err
	}

	sched := &schedule.WeekSchedule{
		Timezone:    timezone,
		ClosedDates: map[string]struct{}{},
	}
	// Weekdays without a row stay at the zero value, which WindowFor
	// treats as closed.
	for i := range sched.Days {
		sched.Days[i].Closed = true
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, closed, open_minutes, close_minutes, break_start_minutes, break_end_minutes
		FROM resource_operating_hours
		WHERE resource_type = $1 AND resource_id = $2
	`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var weekday int
		var closed bool
		var open, close, breakStart, breakEnd int
		if err := rows.Scan(&weekday, &closed, &open, &close, &breakStart, &breakEnd); err != nil {
			return nil, err
		}
		if weekday < 0 || weekday > 6 {
			continue
		}
		sched.Days[weekday] = schedule.DayWindow{
			Closed:     closed,
			Open:       schedule.ClockMinutes(open),
			Close:      schedule.ClockMinutes(close),
			BreakStart: schedule.ClockMinutes(breakStart),
			BreakEnd:   schedule.ClockMinutes(breakEnd),
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	dates, err := r.pool.Query(ctx, `
		SELECT closed_on::text
		FROM resource_closed_dates
		WHERE resource_type = $1 AND resource_id = $2
	`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer dates.Close()
	for dates.Next() {
		var day string
		if err := dates.Scan(&day); err != nil {
			return nil, err
		}
		sched.ClosedDates[day] = struct{}{}
	}
	if dates.Err() != nil {
		return nil, dates.Err()
	}

	return sched, nil
}
