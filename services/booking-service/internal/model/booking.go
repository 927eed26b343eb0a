package model

import "time"

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Blocks reports whether a booking in this state holds its time window.
// Cancelled, completed and no-show bookings never block a slot.
func (s Status) Blocks() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// ResourceType tags the kind of provider resource being booked.
type ResourceType string

const (
	ResourceHospital      ResourceType = "hospital"
	ResourceDaycare       ResourceType = "daycare"
	ResourceGroomingSalon ResourceType = "grooming_salon"
)

var knownResourceTypes = map[ResourceType]struct{}{
	ResourceHospital:      {},
	ResourceDaycare:       {},
	ResourceGroomingSalon: {},
}

func KnownResourceType(t ResourceType) bool {
	_, ok := knownResourceTypes[t]
	return ok
}

// Window is the booked time interval, half-open [Start, End).
type Window struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
}

type Booking struct {
	ID            string
	BookingNumber string
	ResourceType  ResourceType
	ResourceID    string
	SubjectID     string
	RequesterID   string
	Window        Window
	Status        Status
	PaymentStatus PaymentStatus

	// Lock bookkeeping recorded at creation time. Diagnostic only: the
	// authoritative lock state lives in the lock store and expires by TTL.
	LockToken     string
	LockExpiresAt *time.Time

	CancellationReason string
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
