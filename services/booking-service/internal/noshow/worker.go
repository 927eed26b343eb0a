// Package noshow runs the background sweep that closes out confirmed
// bookings nobody showed up for. Staff can still mark a no-show by hand; the
// sweeper is the backstop for the ones they miss.
package noshow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/outbox"
)

type Sweeper interface {
	SweepNoShows(ctx context.Context, cutoff time.Time, limit int, buildEvent func(model.Booking) (outbox.Event, error)) ([]model.Booking, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, resourceID, date string)
}

type Config struct {
	Every     time.Duration
	Grace     time.Duration
	BatchSize int
}

type Worker struct {
	store  Sweeper
	cache  CacheInvalidator
	logger *slog.Logger
	cfg    Config
}

func NewWorker(store Sweeper, cache CacheInvalidator, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Every <= 0 {
		cfg.Every = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{store: store, cache: cache, logger: logger, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.Grace)
	swept, err := w.store.SweepNoShows(ctx, cutoff, w.cfg.BatchSize, buildEvent)
	if err != nil {
		w.logger.Error("no-show sweep failed", "err", err)
		return
	}
	if len(swept) == 0 {
		return
	}
	w.logger.Info("no-show sweep", "count", len(swept), "cutoff", cutoff)
	for _, b := range swept {
		w.cache.Invalidate(ctx, b.ResourceID, b.Window.Start.UTC().Format("2006-01-02"))
	}
}

func buildEvent(b model.Booking) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
		"resource_type":  string(b.ResourceType),
		"resource_id":    b.ResourceID,
		"subject_id":     b.SubjectID,
		"requester_id":   b.RequesterID,
		"start_time":     b.Window.Start.UTC().Format(time.RFC3339),
		"end_time":       b.Window.End.UTC().Format(time.RFC3339),
		"swept":          true,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     outbox.EventBookingNoShow,
		Payload:       payload,
	}, nil
}
