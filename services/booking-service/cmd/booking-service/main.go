package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arman-chowdhury/pawbook/libs/config"
	"github.com/arman-chowdhury/pawbook/libs/db"
	"github.com/arman-chowdhury/pawbook/libs/httpx"
	"github.com/arman-chowdhury/pawbook/libs/kafkax"
	otelx "github.com/arman-chowdhury/pawbook/libs/otel"
	"github.com/arman-chowdhury/pawbook/libs/redisx"
	"github.com/arman-chowdhury/pawbook/libs/runtime"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/availability"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/booking"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/handlers"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/lock"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/noshow"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/outbox"
	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/storage"
	"github.com/arman-chowdhury/pawbook/services/booking-service/migrations"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.FS, "."); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	// Redis is a hard dependency: the slot lock lives there and booking
	// creation fails closed without it.
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb, err := redisx.Open(ctx, redisx.Options{
		Addr:     redisAddr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)
	scheduleRepo := storage.NewScheduleRepository(pool)

	slotCache := availability.NewRedisCache(rdb, config.DurationSeconds("SLOT_CACHE_TTL_SECONDS", availability.DefaultCacheTTL), logger)
	locks := lock.NewRedisManager(rdb)

	buffer := time.Duration(config.Int("SLOT_BUFFER_MINUTES", int(availability.DefaultBuffer.Minutes()))) * time.Minute
	availSvc := availability.NewService(scheduleRepo, bookingRepo, slotCache, buffer, logger)

	bookingSvc := booking.NewService(bookingRepo, scheduleRepo, locks, availSvc, logger, booking.Config{
		LockTTL:        config.DurationSeconds("SLOT_LOCK_TTL_SECONDS", lock.DefaultTTL),
		CancelCutoff:   time.Duration(config.Int("CANCEL_CUTOFF_HOURS", 2)) * time.Hour,
		FullRefundLead: time.Duration(config.Int("FULL_REFUND_LEAD_HOURS", 24)) * time.Hour,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	sweeper := noshow.NewWorker(bookingRepo, availSvc, logger, noshow.Config{
		Every: config.DurationSeconds("NOSHOW_SWEEP_EVERY_SECONDS", 5*time.Minute),
		Grace: time.Duration(config.Int("NOSHOW_GRACE_MINUTES", 30)) * time.Minute,
	})
	go sweeper.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(bookingSvc, availSvc, bookingRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: redisx.ReadyCheck(rdb)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	bookingHandler.Register(mux)

	rateLimiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 120), time.Minute, service)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		rateLimiter.Middleware(logger, true),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-User-Id", "X-Role"},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
