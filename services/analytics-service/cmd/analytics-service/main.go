package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
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

	// A stay counts toward the check-in day of its property.
	handleBookingEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload struct {
			BookingID        string `json:"booking_id"`
			PropertyID       string `json:"property_id"`
			CheckIn          string `json:"check_in"`
			TotalAmountCents int64  `json:"total_amount_cents"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.PropertyID == "" || payload.CheckIn == "" {
			logger.Error("missing booking fields")
			return nil
		}
		checkIn, err := time.Parse("2006-01-02", payload.CheckIn)
		if err != nil {
			logger.Error("invalid check_in", "err", err)
			return nil
		}

		confirmedInc := 0
		cancelledInc := 0
		grossInc := int64(0)
		switch kind {
		case "confirmed":
			confirmedInc = 1
			grossInc = payload.TotalAmountCents
		case "cancelled":
			cancelledInc = 1
		}

		if _, err := pool.Exec(ctx, `
			INSERT INTO booking_daily_stats (property_id, day, confirmed_count, cancelled_count, gross_amount_cents)
			VALUES ($1, $2::date, $3, $4, $5)
			ON CONFLICT (property_id, day)
			DO UPDATE SET confirmed_count = booking_daily_stats.confirmed_count + EXCLUDED.confirmed_count,
			              cancelled_count = booking_daily_stats.cancelled_count + EXCLUDED.cancelled_count,
			              gross_amount_cents = booking_daily_stats.gross_amount_cents + EXCLUDED.gross_amount_cents,
			              updated_at = now()
		`, payload.PropertyID, checkIn, confirmedInc, cancelledInc, grossInc); err != nil {
			logger.Error("failed to update daily stats", "err", err)
			return err
		}

		logger.Info("booking stat recorded", "booking_id", payload.BookingID, "property_id", payload.PropertyID, "kind", kind)
		return nil
	}

	startConsumer("booking.confirmed.v1", func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "confirmed")
	})
	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "cancelled")
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/stats/properties", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
		if propertyID == "" {
			http.Error(w, "property_id is required", http.StatusBadRequest)
			return
		}
		from, to, err := parseStatsWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		rows, err := pool.Query(r.Context(), `
			SELECT day, confirmed_count, cancelled_count, gross_amount_cents
			FROM booking_daily_stats
			WHERE property_id = $1 AND day >= $2 AND day <= $3
			ORDER BY day
		`, propertyID, from, to)
		if err != nil {
			http.Error(w, "failed to load stats", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type dailyStat struct {
			Day              string `json:"day"`
			ConfirmedCount   int    `json:"confirmed_count"`
			CancelledCount   int    `json:"cancelled_count"`
			GrossAmountCents int64  `json:"gross_amount_cents"`
		}
		stats := []dailyStat{}
		for rows.Next() {
			var day time.Time
			var s dailyStat
			if err := rows.Scan(&day, &s.ConfirmedCount, &s.CancelledCount, &s.GrossAmountCents); err != nil {
				http.Error(w, "failed to load stats", http.StatusInternalServerError)
				return
			}
			s.Day = day.Format("2006-01-02")
			stats = append(stats, s)
		}
		if rows.Err() != nil {
			http.Error(w, "failed to load stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"property_id": propertyID,
			"from":        from.Format("2006-01-02"),
			"to":          to.Format("2006-01-02"),
			"days":        stats,
		})
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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

// parseStatsWindow defaults to the trailing 30 days and caps the window at a
// year to keep response sizes bounded.
func parseStatsWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	from := now.AddDate(0, 0, -30)
	to := now

	var err error
	if strings.TrimSpace(fromRaw) != "" {
		from, err = time.Parse("2006-01-02", fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if strings.TrimSpace(toRaw) != "" {
		to, err = time.Parse("2006-01-02", toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to.Before(from) {
		from, to = to, from
	}
	if to.Sub(from) > 366*24*time.Hour {
		from = to.AddDate(-1, 0, 0)
	}
	return from, to, nil
}
