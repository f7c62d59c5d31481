package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stayloop/stayloop/libs/config"
	"github.com/stayloop/stayloop/libs/db"
	"github.com/stayloop/stayloop/libs/events"
	"github.com/stayloop/stayloop/libs/httpx"
	"github.com/stayloop/stayloop/libs/kafkax"
	otelx "github.com/stayloop/stayloop/libs/otel"
	"github.com/stayloop/stayloop/libs/runtime"
	"github.com/stayloop/stayloop/migrations"
	"github.com/stayloop/stayloop/services/booking-service/internal/cache"
	"github.com/stayloop/stayloop/services/booking-service/internal/handlers"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
	"github.com/stayloop/stayloop/services/booking-service/internal/property"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
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

	if config.String("RUN_MIGRATIONS", "true") == "true" {
		if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	var rdb *redis.Client
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
	}
	calendarTTL := config.Int("CALENDAR_CACHE_TTL_SECONDS", 600)
	calendars := cache.New(rdb, logger, time.Duration(calendarTTL)*time.Second)

	repo := storage.NewBookingRepository(pool)
	blocks := storage.NewBlockRepository(pool)
	propertyCache := storage.NewPropertyCacheRepository(pool)
	outboxRepo := events.NewOutboxRepository(pool)
	inboxRepo := events.NewInboxRepository(pool)

	props, err := property.NewPropertyProvider(logger, propertyCache, config.String("PROPERTY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("property provider init failed", "err", err)
		props = property.NewCacheProvider(propertyCache)
	}

	outboxPublisher := events.NewPublisher(pool, outboxRepo, logger, events.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "booking-service")
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

	// Payment settled: pending -> confirmed, and the confirmation fans out for
	// analytics and the external notifier.
	startConsumer("payment.checkout.completed.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid checkout completed payload", "err", err)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		booking, err := repo.GetForUpdate(ctx, tx, payload.BookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Error("checkout completed for unknown booking", "booking_id", payload.BookingID)
				return nil
			}
			return err
		}
		confirmed, err := repo.Confirm(ctx, tx, booking.ID)
		if err != nil {
			return err
		}
		if !confirmed {
			logger.Info("booking not pending, confirmation skipped", "booking_id", booking.ID, "status", booking.Status)
			return tx.Commit(ctx)
		}

		evtPayload, err := json.Marshal(map[string]any{
			"booking_id":         booking.ID,
			"property_id":        booking.PropertyID,
			"guest_id":           booking.GuestID,
			"check_in":           booking.CheckIn.Format("2006-01-02"),
			"check_out":          booking.CheckOut.Format("2006-01-02"),
			"total_amount_cents": booking.TotalAmountCents,
			"currency":           booking.Currency,
			"confirmed_at":       time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := outboxRepo.Insert(ctx, tx, events.Event{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     "booking.confirmed.v1",
			Payload:       evtPayload,
		}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		calendars.Invalidate(ctx, booking.PropertyID)
		logger.Info("booking confirmed", "booking_id", booking.ID)
		return nil
	})

	// Payment hold lapsed: cancel the booking if it is still pending so the
	// dates go back on sale.
	startConsumer("scheduler.hold.expired.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID  string `json:"booking_id"`
			PropertyID string `json:"property_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid hold expired payload", "err", err)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		expired, err := repo.ExpireHold(ctx, tx, payload.BookingID)
		if err != nil {
			return err
		}
		if !expired {
			return tx.Commit(ctx)
		}

		booking, err := repo.GetForUpdate(ctx, tx, payload.BookingID)
		if err != nil {
			return err
		}
		evtPayload, err := json.Marshal(map[string]any{
			"booking_id":         booking.ID,
			"property_id":        booking.PropertyID,
			"guest_id":           booking.GuestID,
			"check_in":           booking.CheckIn.Format("2006-01-02"),
			"check_out":          booking.CheckOut.Format("2006-01-02"),
			"total_amount_cents": booking.TotalAmountCents,
			"currency":           booking.Currency,
			"cancelled_at":       time.Now().UTC().Format(time.RFC3339),
			"reason":             "payment hold expired",
		})
		if err != nil {
			return err
		}
		if err := outboxRepo.Insert(ctx, tx, events.Event{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     "booking.cancelled.v1",
			Payload:       evtPayload,
		}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		calendars.Invalidate(ctx, booking.PropertyID)
		logger.Info("pending hold expired", "booking_id", booking.ID)
		return nil
	})

	// Property listing changes feed the local read model used for ownership
	// and pricing checks.
	startConsumer("property.upserted.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			PropertyID        string `json:"property_id"`
			OwnerID           string `json:"owner_id"`
			NightlyPriceCents int64  `json:"nightly_price_cents"`
			Currency          string `json:"currency"`
			MaxGuests         int    `json:"max_guests"`
			IsActive          bool   `json:"is_active"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid property payload", "err", err)
			return nil
		}
		if payload.PropertyID == "" || payload.OwnerID == "" {
			logger.Error("missing property fields")
			return nil
		}
		return propertyCache.Upsert(ctx, model.Property{
			PropertyID:        payload.PropertyID,
			OwnerID:           payload.OwnerID,
			NightlyPriceCents: payload.NightlyPriceCents,
			Currency:          payload.Currency,
			MaxGuests:         payload.MaxGuests,
			IsActive:          payload.IsActive,
		})
	})

	holdMinutes := config.Int("BOOKING_HOLD_MINUTES", 30)
	bookingHandler := handlers.NewBookingHandler(repo, blocks, outboxRepo, calendars, props, logger, time.Duration(holdMinutes)*time.Minute)
	calendarHandler := handlers.NewCalendarHandler(repo, blocks, calendars, logger)
	blockHandler := handlers.NewBlockHandler(repo, blocks, outboxRepo, calendars, props, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings/list", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/public/availability", calendarHandler.Check)
	mux.HandleFunc("/api/v1/public/calendar", calendarHandler.Month)
	mux.HandleFunc("/api/v1/public/calendar/selectable", calendarHandler.Selectable)
	mux.HandleFunc("/api/v1/blocks", blockHandler.Create)
	mux.HandleFunc("/api/v1/blocks/list", blockHandler.List)
	mux.HandleFunc("/api/v1/blocks/delete", blockHandler.Delete)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
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
