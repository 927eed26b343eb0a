// Package booking is the lifecycle engine: it owns every mutation of a
// booking and the create protocol that makes double-booking impossible.
// Nothing else in the service writes bookings.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/availability"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/lock"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/outbox"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

// TransitionUpdate carries the extra columns a transition writes.
type TransitionUpdate struct {
	Reason      string
	CancelledAt *time.Time
}

// Store is the durable reservation store. CreateWithEvent and Transition
// must write the booking change and the outbox event in one transaction.
// ListBlocking must be a strongly consistent read: it is what the create
// protocol re-checks while holding the lock.
type Store interface {
	CreateWithEvent(ctx context.Context, b *model.Booking, evt outbox.Event) error
	Get(ctx context.Context, id string) (model.Booking, error)
	ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]model.Booking, error)
	Transition(ctx context.Context, id string, from, to model.Status, upd TransitionUpdate, evt outbox.Event) (model.Booking, error)
}

type Schedules interface {
	Get(ctx context.Context, resourceType, resourceID string) (*schedule.WeekSchedule, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, resourceID, date string)
}

type Config struct {
	LockTTL        time.Duration
	Retry          lock.RetryPolicy
	MinDuration    time.Duration
	CancelCutoff   time.Duration
	FullRefundLead time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockTTL:        lock.DefaultTTL,
		Retry:          lock.DefaultRetryPolicy(),
		MinDuration:    availability.MinDuration,
		CancelCutoff:   2 * time.Hour,
		FullRefundLead: 24 * time.Hour,
	}
}

type Service struct {
	store     Store
	schedules Schedules
	locks     lock.Manager
	cache     CacheInvalidator
	logger    *slog.Logger
	cfg       Config

	now   func() time.Time
	sleep func(time.Duration)
}

func NewService(store Store, schedules Schedules, locks lock.Manager, cache CacheInvalidator, logger *slog.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.CancelCutoff <= 0 {
		cfg.CancelCutoff = def.CancelCutoff
	}
	if cfg.FullRefundLead <= 0 {
		cfg.FullRefundLead = def.FullRefundLead
	}
	return &Service{
		store:     store,
		schedules: schedules,
		locks:     locks,
		cache:     cache,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// The full transition table. Pending is initial; Completed, Cancelled and
// NoShow are terminal.
var transitions = map[model.Status]map[model.Status]bool{
	model.StatusPending:    {model.StatusConfirmed: true, model.StatusCancelled: true},
	model.StatusConfirmed:  {model.StatusInProgress: true, model.StatusCancelled: true, model.StatusNoShow: true},
	model.StatusInProgress: {model.StatusCompleted: true},
}

func canTransition(from, to model.Status) bool {
	return transitions[from][to]
}

// LockKey derives the mutual-exclusion key for a create attempt. It is
// instant-precision, not date-precision, so different slots of one resource
// book in parallel.
func LockKey(resourceID string, start time.Time) string {
	return resourceID + ":" + start.UTC().Format(time.RFC3339)
}

type CreateRequest struct {
	ResourceType    model.ResourceType
	ResourceID      string
	SubjectID       string
	RequesterID     string
	Start           time.Time
	DurationMinutes int
}

// Create runs the locked check-then-create protocol:
//
//  1. validate the window against the clock and the operating hours
//  2. acquire the (resource, start) lock, with bounded retry
//  3. re-check conflicts against the store while holding the lock
//  4. persist the Pending booking together with its outbox event
//  5. release the lock (always) and invalidate the slot cache
//
// The availability read a client did beforehand proves nothing by the time
// the write happens; only the re-check under the lock does.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Booking, error) {
	if !model.KnownResourceType(req.ResourceType) {
		return model.Booking{}, &ValidationError{Field: "resource_type", Reason: fmt.Sprintf("unknown resource type %q", req.ResourceType)}
	}
	if req.ResourceID == "" || req.SubjectID == "" || req.RequesterID == "" {
		return model.Booking{}, &ValidationError{Field: "ids", Reason: "resource_id, subject_id and requester_id are required"}
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration < s.cfg.MinDuration {
		return model.Booking{}, &ValidationError{Field: "duration_minutes", Reason: fmt.Sprintf("must be at least %d minutes", int(s.cfg.MinDuration.Minutes()))}
	}

	now := s.now()
	if !req.Start.After(now) {
		return model.Booking{}, &ValidationError{Field: "start", Reason: "booking window must be in the future"}
	}

	sched, err := s.schedules.Get(ctx, string(req.ResourceType), req.ResourceID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return model.Booking{}, err
		}
		return model.Booking{}, &StoreUnavailableError{Op: "schedule store", Err: err}
	}
	loc, err := sched.Location()
	if err != nil {
		return model.Booking{}, &StoreUnavailableError{Op: "schedule store", Err: err}
	}
	start := req.Start.In(loc)
	end := start.Add(duration)
	if verr := windowInsideOperatingHours(sched, start, end); verr != nil {
		return model.Booking{}, verr
	}

	key := LockKey(req.ResourceID, req.Start)
	token, ok, err := lock.AcquireWithRetry(ctx, s.locks, key, s.cfg.LockTTL, s.cfg.Retry, s.sleep)
	if err != nil {
		// Fail closed: without the lock we cannot rule out a concurrent
		// writer, and denying a booking is the recoverable outcome.
		return model.Booking{}, &StoreUnavailableError{Op: "lock store", Err: err}
	}
	if !ok {
		return model.Booking{}, &ConflictError{Reason: "slot is being booked by another request"}
	}
	defer func() {
		if rerr := s.locks.Release(ctx, key, token); rerr != nil {
			s.logger.Warn("lock release failed; ttl will expire it", "key", key, "err", rerr)
		}
	}()

	// Fresh conflict check under the lock, scoped to exactly this window.
	// It catches bookings persisted between the client's availability read
	// and our lock acquisition.
	blocking, err := s.store.ListBlocking(ctx, req.ResourceID, start, end)
	if err != nil {
		return model.Booking{}, &StoreUnavailableError{Op: "reservation store", Err: err}
	}
	if availability.Overlaps(start, end, blocking) {
		return model.Booking{}, &ConflictError{Reason: availability.ReasonTaken}
	}

	lockExpiry := now.Add(s.cfg.LockTTL)
	b := &model.Booking{
		ID:            uuid.NewString(),
		BookingNumber: NewBookingNumber(start),
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		SubjectID:     req.SubjectID,
		RequesterID:   req.RequesterID,
		Window:        model.Window{Start: start, End: end, DurationMinutes: req.DurationMinutes},
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		LockToken:     token,
		LockExpiresAt: &lockExpiry,
	}

	evt, err := s.event(outbox.EventBookingCreated, *b, nil)
	if err != nil {
		return model.Booking{}, err
	}
	if err := s.store.CreateWithEvent(ctx, b, evt); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return model.Booking{}, conflict
		}
		return model.Booking{}, &StoreUnavailableError{Op: "reservation store", Err: err}
	}

	s.invalidate(ctx, b.ResourceID, start.Format(schedule.DateLayout))
	return *b, nil
}

// Confirm is the provider-side acceptance of a pending booking. No time
// constraint applies.
func (s *Service) Confirm(ctx context.Context, id string) (model.Booking, error) {
	return s.simpleTransition(ctx, id, model.StatusPending, model.StatusConfirmed, outbox.EventBookingConfirmed, nil)
}

// Reject is the provider-side denial of a pending booking; the reason is
// mandatory. It frees the slot, so the cache for that date is invalidated.
func (s *Service) Reject(ctx context.Context, id, reason string) (model.Booking, error) {
	if reason == "" {
		return model.Booking{}, &ValidationError{Field: "reason", Reason: "rejection reason is required"}
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status != model.StatusPending {
		return model.Booking{}, &InvalidTransitionError{From: b.Status, To: model.StatusCancelled}
	}

	at := s.now()
	evt, err := s.event(outbox.EventBookingRejected, b, map[string]any{"reason": reason})
	if err != nil {
		return model.Booking{}, err
	}
	updated, err := s.store.Transition(ctx, id, model.StatusPending, model.StatusCancelled, TransitionUpdate{Reason: reason, CancelledAt: &at}, evt)
	if err != nil {
		return model.Booking{}, err
	}
	s.invalidateForBooking(ctx, updated)
	return updated, nil
}

type CancelResult struct {
	Booking       model.Booking
	RefundPercent int
}

// Cancel ends a pending or confirmed booking at the requester's initiative.
// It is only allowed up to the cutoff before the window start, and computes
// the refund percentage from the remaining lead time. The monetary transfer
// itself belongs to the payment collaborator, which consumes the event.
func (s *Service) Cancel(ctx context.Context, id, requesterID, reason string) (CancelResult, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if b.RequesterID != requesterID {
		return CancelResult{}, ErrNotOwner
	}
	if !canTransition(b.Status, model.StatusCancelled) {
		return CancelResult{}, &InvalidTransitionError{From: b.Status, To: model.StatusCancelled}
	}

	now := s.now()
	lead := b.Window.Start.Sub(now)
	if lead < s.cfg.CancelCutoff {
		return CancelResult{}, &InvalidTransitionError{
			From:   b.Status,
			To:     model.StatusCancelled,
			Reason: fmt.Sprintf("cancellation window closed (less than %s before start)", s.cfg.CancelCutoff),
		}
	}
	pct := RefundPercent(lead, s.cfg.CancelCutoff, s.cfg.FullRefundLead)

	evt, err := s.event(outbox.EventBookingCancelled, b, map[string]any{
		"reason":         reason,
		"refund_percent": pct,
	})
	if err != nil {
		return CancelResult{}, err
	}
	updated, err := s.store.Transition(ctx, id, b.Status, model.StatusCancelled, TransitionUpdate{Reason: reason, CancelledAt: &now}, evt)
	if err != nil {
		return CancelResult{}, err
	}
	s.invalidateForBooking(ctx, updated)
	return CancelResult{Booking: updated, RefundPercent: pct}, nil
}

// CheckIn marks the start of service delivery.
func (s *Service) CheckIn(ctx context.Context, id string) (model.Booking, error) {
	return s.simpleTransition(ctx, id, model.StatusConfirmed, model.StatusInProgress, outbox.EventBookingCheckedIn, nil)
}

// Complete marks service delivery done. The booking is frozen afterwards.
func (s *Service) Complete(ctx context.Context, id string) (model.Booking, error) {
	return s.simpleTransition(ctx, id, model.StatusInProgress, model.StatusCompleted, outbox.EventBookingCompleted, nil)
}

// MarkNoShow moves a confirmed booking whose window has fully elapsed to
// NoShow. No refund logic runs: the obligation counts as delivered.
func (s *Service) MarkNoShow(ctx context.Context, id string) (model.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status != model.StatusConfirmed {
		return model.Booking{}, &InvalidTransitionError{From: b.Status, To: model.StatusNoShow}
	}
	if s.now().Before(b.Window.End) {
		return model.Booking{}, &InvalidTransitionError{
			From:   b.Status,
			To:     model.StatusNoShow,
			Reason: "booking window has not elapsed",
		}
	}
	updated, err := s.simpleTransition(ctx, id, model.StatusConfirmed, model.StatusNoShow, outbox.EventBookingNoShow, nil)
	if err != nil {
		return model.Booking{}, err
	}
	// Same cache behavior as the background sweeper.
	s.invalidateForBooking(ctx, updated)
	return updated, nil
}

// Get loads a single booking.
func (s *Service) Get(ctx context.Context, id string) (model.Booking, error) {
	return s.store.Get(ctx, id)
}

// RefundPercent implements the cancellation refund ladder: full refund with
// at least fullLead of notice, half refund between cutoff and fullLead,
// nothing below the cutoff (where cancellation is disallowed anyway).
func RefundPercent(lead, cutoff, fullLead time.Duration) int {
	switch {
	case lead >= fullLead:
		return 100
	case lead >= cutoff:
		return 50
	default:
		return 0
	}
}

func (s *Service) simpleTransition(ctx context.Context, id string, from, to model.Status, eventType string, extra map[string]any) (model.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status != from {
		return model.Booking{}, &InvalidTransitionError{From: b.Status, To: to}
	}
	evt, err := s.event(eventType, b, extra)
	if err != nil {
		return model.Booking{}, err
	}
	return s.store.Transition(ctx, id, from, to, TransitionUpdate{}, evt)
}

func (s *Service) event(eventType string, b model.Booking, extra map[string]any) (outbox.Event, error) {
	fields := map[string]any{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
		"resource_type":  string(b.ResourceType),
		"resource_id":    b.ResourceID,
		"subject_id":     b.SubjectID,
		"requester_id":   b.RequesterID,
		"start_time":     b.Window.Start.UTC().Format(time.RFC3339),
		"end_time":       b.Window.End.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("build %s payload: %w", eventType, err)
	}
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

func (s *Service) invalidateForBooking(ctx context.Context, b model.Booking) {
	date := b.Window.Start.UTC().Format(schedule.DateLayout)
	if sched, err := s.schedules.Get(ctx, string(b.ResourceType), b.ResourceID); err == nil {
		if loc, lerr := sched.Location(); lerr == nil {
			date = b.Window.Start.In(loc).Format(schedule.DateLayout)
		}
	}
	s.invalidate(ctx, b.ResourceID, date)
}

func (s *Service) invalidate(ctx context.Context, resourceID, date string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, resourceID, date)
	}
}

func windowInsideOperatingHours(sched *schedule.WeekSchedule, start, end time.Time) error {
	win, open := sched.WindowFor(start)
	if !open {
		return &ValidationError{Field: "start", Reason: "resource is closed on the requested date"}
	}
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	openAt := dayStart.Add(win.Open.Duration())
	closeAt := dayStart.Add(win.Close.Duration())
	if start.Before(openAt) || end.After(closeAt) {
		return &ValidationError{Field: "start", Reason: "window falls outside operating hours"}
	}
	if win.HasBreak() {
		breakStart := dayStart.Add(win.BreakStart.Duration())
		breakEnd := dayStart.Add(win.BreakEnd.Duration())
		if start.Before(breakEnd) && end.After(breakStart) {
			return &ValidationError{Field: "start", Reason: "window overlaps the break"}
		}
	}
	return nil
}
