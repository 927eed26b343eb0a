package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arman-chowdhury/pawbook/libs/db"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/booking"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/outbox"
)

// BookingRepository is the reservation store. It is the only writer of the
// bookings table, and every write lands in the same transaction as its
// outbox event.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

const bookingColumns = `
	id::text, booking_number, resource_type, resource_id::text, subject_id::text, requester_id::text,
	start_time, end_time, duration_minutes, status, payment_status,
	COALESCE(lock_token, ''), lock_expires_at,
	COALESCE(cancellation_reason, ''), cancelled_at, created_at, updated_at`

func (r *BookingRepository) CreateWithEvent(ctx context.Context, b *model.Booking, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, booking_number, resource_type, resource_id, subject_id, requester_id,
			 start_time, end_time, duration_minutes, status, payment_status,
			 lock_token, lock_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, b.ID, b.BookingNumber, string(b.ResourceType), b.ResourceID, b.SubjectID, b.RequesterID,
		b.Window.Start, b.Window.End, b.Window.DurationMinutes, string(b.Status), string(b.PaymentStatus),
		b.LockToken, b.LockExpiresAt).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			// The overlap exclusion constraint fired: a blocking booking
			// slipped in despite the lock (e.g. a legacy unlocked write).
			return &booking.ConflictError{Reason: "slot_taken"}
		}
		return err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *BookingRepository) Get(ctx context.Context, id string) (model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, booking.ErrNotFound
		}
		return model.Booking{}, err
	}
	return b, nil
}

// ListBlocking returns the bookings holding any part of [start, end) for the
// resource. It reads the primary, so a caller holding the slot lock sees
// every committed write.
func (r *BookingRepository) ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE resource_id = $1
			AND status IN ('pending', 'confirmed', 'in_progress')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time
	`, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *BookingRepository) ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE resource_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *BookingRepository) ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE requester_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// Transition applies a guarded status change: the UPDATE only matches when
// the row is still in the expected state, so a concurrent transition
// surfaces as InvalidTransitionError instead of a lost update.
func (r *BookingRepository) Transition(ctx context.Context, id string, from, to model.Status, upd booking.TransitionUpdate, evt outbox.Event) (model.Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Booking{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
			cancellation_reason = CASE WHEN $4 <> '' THEN $4 ELSE cancellation_reason END,
			cancelled_at = COALESCE($5, cancelled_at),
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns+`
	`, id, string(from), string(to), upd.Reason, upd.CancelledAt)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, r.transitionFailure(ctx, id, to)
		}
		return model.Booking{}, err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Booking{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

// SweepNoShows flips confirmed bookings whose window ended before cutoff to
// no_show, emitting one event per booking, all in one transaction.
func (r *BookingRepository) SweepNoShows(ctx context.Context, cutoff time.Time, limit int, buildEvent func(model.Booking) (outbox.Event, error)) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE bookings
		SET status = 'no_show', updated_at = now()
		WHERE id IN (
			SELECT id FROM bookings
			WHERE status = 'confirmed' AND end_time < $1
			ORDER BY end_time
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+bookingColumns+`
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	swept, err := collectBookings(rows)
	if err != nil {
		return nil, err
	}

	for _, b := range swept {
		evt, err := buildEvent(b)
		if err != nil {
			return nil, err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return swept, nil
}

func (r *BookingRepository) transitionFailure(ctx context.Context, id string, to model.Status) error {
	var current string
	err := r.pool.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.ErrNotFound
		}
		return err
	}
	return &booking.InvalidTransitionError{From: model.Status(current), To: to}
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var resourceType, status, paymentStatus string
	var lockExpiresAt, cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.BookingNumber,
		&resourceType,
		&b.ResourceID,
		&b.SubjectID,
		&b.RequesterID,
		&b.Window.Start,
		&b.Window.End,
		&b.Window.DurationMinutes,
		&status,
		&paymentStatus,
		&b.LockToken,
		&lockExpiresAt,
		&b.CancellationReason,
		&cancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.ResourceType = model.ResourceType(resourceType)
	b.Status = model.Status(status)
	b.PaymentStatus = model.PaymentStatus(paymentStatus)
	b.LockExpiresAt = lockExpiresAt
	b.CancelledAt = cancelledAt
	return b, nil
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
