package outbox

// Event is the domain event envelope written to the outbox table in the same
// transaction as the booking state change. The Kafka topic name equals
// EventType. Downstream delivery is fire-and-forget: a notification or
// payment consumer failing can never roll back a booking transition.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventBookingCreated   = "booking.created.v1"
	EventBookingConfirmed = "booking.confirmed.v1"
	EventBookingRejected  = "booking.rejected.v1"
	EventBookingCancelled = "booking.cancelled.v1"
	EventBookingCheckedIn = "booking.checked_in.v1"
	EventBookingCompleted = "booking.completed.v1"
	EventBookingNoShow    = "booking.no_show.v1"
)
