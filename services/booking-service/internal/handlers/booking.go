package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/availability"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/booking"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/schedule"
)

// Identity arrives from the gateway as headers; this service trusts them.
const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"

	roleStaff = "staff"
	roleAdmin = "admin"
)

// BookingService is the slice of the lifecycle engine the handlers call.
type BookingService interface {
	Create(ctx context.Context, req booking.CreateRequest) (model.Booking, error)
	Get(ctx context.Context, id string) (model.Booking, error)
	Confirm(ctx context.Context, id string) (model.Booking, error)
	Reject(ctx context.Context, id, reason string) (model.Booking, error)
	Cancel(ctx context.Context, id, requesterID, reason string) (booking.CancelResult, error)
	CheckIn(ctx context.Context, id string) (model.Booking, error)
	Complete(ctx context.Context, id string) (model.Booking, error)
	MarkNoShow(ctx context.Context, id string) (model.Booking, error)
}

type AvailabilityService interface {
	Slots(ctx context.Context, resourceType, resourceID, date string, duration time.Duration) ([]availability.Slot, error)
}

type BookingLister interface {
	ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Booking, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Booking, error)
}

type BookingHandler struct {
	bookings BookingService
	avail    AvailabilityService
	lister   BookingLister
	logger   *slog.Logger
}

func NewBookingHandler(bookings BookingService, avail AvailabilityService, lister BookingLister, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, avail: avail, lister: lister, logger: logger}
}

// Register wires the routes onto the mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/resources/{resourceType}/{resourceID}/slots", h.Slots)
	mux.HandleFunc("POST /v1/bookings", h.Create)
	mux.HandleFunc("GET /v1/bookings", h.List)
	mux.HandleFunc("GET /v1/bookings/{id}", h.Get)
	mux.HandleFunc("POST /v1/bookings/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /v1/bookings/{id}/reject", h.Reject)
	mux.HandleFunc("POST /v1/bookings/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /v1/bookings/{id}/check-in", h.CheckIn)
	mux.HandleFunc("POST /v1/bookings/{id}/complete", h.Complete)
	mux.HandleFunc("POST /v1/bookings/{id}/no-show", h.NoShow)
}

type createBookingRequest struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	SubjectID       string `json:"subject_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type bookingItem struct {
	ID                 string `json:"id"`
	BookingNumber      string `json:"booking_number"`
	ResourceType       string `json:"resource_type"`
	ResourceID         string `json:"resource_id"`
	SubjectID          string `json:"subject_id"`
	RequesterID        string `json:"requester_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	DurationMinutes    int    `json:"duration_minutes"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"payment_status"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CreatedAt          string `json:"created_at"`
}

type cancelResponse struct {
	Booking       bookingItem `json:"booking"`
	RefundPercent int         `json:"refund_percent"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	resourceType := r.PathValue("resourceType")
	resourceID := r.PathValue("resourceID")
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeJSONError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}
	if _, err := time.Parse(schedule.DateLayout, date); err != nil {
		writeJSONError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		return
	}

	// The read path only offers durations the create path would accept.
	durationMins := int(availability.MinDuration.Minutes())
	if raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < int(availability.MinDuration.Minutes()) || n > 8*60 {
			writeJSONError(w, http.StatusBadRequest, "invalid duration_minutes")
			return
		}
		durationMins = n
	}

	slots, err := h.avail.Slots(r.Context(), resourceType, resourceID, date, time.Duration(durationMins)*time.Minute)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	requesterID := strings.TrimSpace(r.Header.Get(headerUserID))
	if requesterID == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "start_time must be RFC 3339")
		return
	}

	b, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		ResourceType:    model.ResourceType(strings.TrimSpace(req.ResourceType)),
		ResourceID:      strings.TrimSpace(req.ResourceID),
		SubjectID:       strings.TrimSpace(req.SubjectID),
		RequesterID:     requesterID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	requesterID := strings.TrimSpace(r.Header.Get(headerUserID))
	if !isStaff(r) && b.RequesterID != requesterID {
		writeJSONError(w, http.StatusForbidden, "not your booking")
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		bookings []model.Booking
		err      error
	)
	if resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id")); resourceID != "" {
		if !isStaff(r) {
			writeJSONError(w, http.StatusForbidden, "staff role required")
			return
		}
		bookings, err = h.lister.ListByResource(r.Context(), resourceID, limit)
	} else {
		requesterID := strings.TrimSpace(r.Header.Get(headerUserID))
		if requesterID == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing identity")
			return
		}
		bookings, err = h.lister.ListByRequester(r.Context(), requesterID, limit)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toItem(b))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	b, err := h.bookings.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

func (h *BookingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	b, err := h.bookings.Reject(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requesterID := strings.TrimSpace(r.Header.Get(headerUserID))
	if requesterID == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req cancelRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	res, err := h.bookings.Cancel(r.Context(), r.PathValue("id"), requesterID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Booking: toItem(res.Booking), RefundPercent: res.RefundPercent})
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	b, err := h.bookings.CheckIn(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	b, err := h.bookings.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	b, err := h.bookings.MarkNoShow(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(b))
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors become a 500 without leaking internals.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr       *booking.ValidationError
		conflict   *booking.ConflictError
		transition *booking.InvalidTransitionError
		storeErr   *booking.StoreUnavailableError
	)
	switch {
	case errors.As(err, &verr):
		writeJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, schedule.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrNotOwner):
		writeJSONError(w, http.StatusForbidden, "not your booking")
	case errors.As(err, &conflict):
		writeJSONError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &transition):
		writeJSONError(w, http.StatusUnprocessableEntity, transition.Error())
	case errors.As(err, &storeErr):
		h.logger.Error("dependency unavailable", "path", r.URL.Path, "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func isStaff(r *http.Request) bool {
	role := strings.TrimSpace(r.Header.Get(headerRole))
	return role == roleStaff || role == roleAdmin
}

func requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if strings.TrimSpace(r.Header.Get(headerUserID)) == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return false
	}
	if !isStaff(r) {
		writeJSONError(w, http.StatusForbidden, "staff role required")
		return false
	}
	return true
}

func toItem(b model.Booking) bookingItem {
	item := bookingItem{
		ID:                 b.ID,
		BookingNumber:      b.BookingNumber,
		ResourceType:       string(b.ResourceType),
		ResourceID:         b.ResourceID,
		SubjectID:          b.SubjectID,
		RequesterID:        b.RequesterID,
		StartTime:          b.Window.Start.UTC().Format(time.RFC3339),
		EndTime:            b.Window.End.UTC().Format(time.RFC3339),
		DurationMinutes:    b.Window.DurationMinutes,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.CancelledAt != nil {
		item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
