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
	"github.com/stayloop/stayloop/services/payment-service/internal/handlers"
	"github.com/stayloop/stayloop/services/payment-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := events.NewOutboxRepository(pool)
	inboxRepo := events.NewInboxRepository(pool)

	outboxPublisher := events.NewPublisher(pool, outboxRepo, logger, events.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "payment-service")
	startConsumer := func(topic string, handler events.Handler) {
		if brokers == "" {
			return
		}
		c := events.NewConsumer(logger, inboxRepo, events.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	// New pending bookings become payable until their hold lapses.
	startConsumer("booking.created.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID        string `json:"booking_id"`
			PropertyID       string `json:"property_id"`
			GuestID          string `json:"guest_id"`
			TotalAmountCents int64  `json:"total_amount_cents"`
			Currency         string `json:"currency"`
			HoldExpiresAt    string `json:"hold_expires_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking created payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.GuestID == "" {
			logger.Error("missing booking fields in booking.created.v1")
			return nil
		}
		var holdExpiresAt *time.Time
		if payload.HoldExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, payload.HoldExpiresAt); err == nil {
				holdExpiresAt = &t
			}
		}
		return repo.UpsertBillableBooking(ctx, storage.BillableBooking{
			BookingID:        payload.BookingID,
			PropertyID:       payload.PropertyID,
			GuestID:          payload.GuestID,
			TotalAmountCents: payload.TotalAmountCents,
			Currency:         payload.Currency,
			HoldExpiresAt:    holdExpiresAt,
		})
	})

	// Cancelled bookings (hold expiry or guest cancel) stop being payable.
	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid booking cancelled payload", "err", err)
			return nil
		}
		return repo.MarkBillableExpired(ctx, payload.BookingID)
	})

	tolSeconds := config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	h := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolSeconds,
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/payments/checkout", h.Checkout)
	mux.HandleFunc("/api/v1/payments/checkout/session", h.SessionStatus)
	mux.HandleFunc("/api/v1/payments/checkout/session/ack", h.AckReturn)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "payment")
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
