package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stayloop/stayloop/libs/config"
	"github.com/stayloop/stayloop/libs/db"
	"github.com/stayloop/stayloop/libs/events"
	"github.com/stayloop/stayloop/libs/httpx"
	"github.com/stayloop/stayloop/libs/kafkax"
	otelx "github.com/stayloop/stayloop/libs/otel"
	"github.com/stayloop/stayloop/libs/runtime"
	"github.com/stayloop/stayloop/migrations"
	"github.com/stayloop/stayloop/services/scheduler-service/internal/jobs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8085")
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

	if config.String("RUN_MIGRATIONS", "false") == "true" {
		if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	inboxRepo := events.NewInboxRepository(pool)
	jobRepo := jobs.NewRepository()
	outboxRepo := events.NewOutboxRepository(pool)

	outboxPublisher := events.NewPublisher(pool, outboxRepo, logger, events.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	backoffSeconds := config.Int("SCHEDULER_BACKOFF_SECONDS", 60)
	if backoffSeconds <= 0 {
		backoffSeconds = 60
	}
	jobWorker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  2 * time.Second,
		BatchSize: 50,
		Backoff:   time.Duration(backoffSeconds) * time.Second,
	})
	go jobWorker.Run(ctx)

	type bookingCreated struct {
		BookingID     string `json:"booking_id"`
		PropertyID    string `json:"property_id"`
		GuestID       string `json:"guest_id"`
		HoldExpiresAt string `json:"hold_expires_at"`
	}

	eventConsumer := events.NewConsumer(logger, inboxRepo, events.ConsumerConfig{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "scheduler-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "booking.created.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload bookingCreated
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking created payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.PropertyID == "" || payload.HoldExpiresAt == "" {
			logger.Error("missing booking fields", "booking_id", payload.BookingID)
			return nil
		}
		runAt, err := time.Parse(time.RFC3339, payload.HoldExpiresAt)
		if err != nil {
			logger.Error("invalid hold_expires_at", "err", err)
			return nil
		}

		// One expiry job per hold, replay-safe.
		idempotencyKey := payload.BookingID + "|" + payload.HoldExpiresAt

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobRepo.Insert(ctx, tx, jobs.Job{
			IdempotencyKey: idempotencyKey,
			BookingID:      payload.BookingID,
			PropertyID:     payload.PropertyID,
			RunAt:          runAt,
			Payload:        map[string]any{"guest_id": payload.GuestID},
		}); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
