package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ScyisMe/croco-sushi/internal/catalog"
	"github.com/ScyisMe/croco-sushi/internal/messaging"
	"github.com/ScyisMe/croco-sushi/internal/orders"
	"github.com/ScyisMe/croco-sushi/internal/promo"
	"github.com/ScyisMe/croco-sushi/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "ordering-api", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("ordering-api", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var pub orders.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), "order.events")
		defer func() { _ = producer.Close() }()
		pub = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order notifications disabled")
	}

	pricing := pricingFromEnv(logger)

	orderRepo := orders.NewOrderRepository(db)
	catalogRepo := catalog.NewRepository(db)
	promoRepo := promo.NewRepository(db)

	orderService := orders.NewService(orderRepo, catalogRepo, promoRepo, pub, pricing, logger)
	orderHandler := orders.NewHandler(orderService, logger)
	catalogHandler := catalog.NewHandler(catalogRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /menu", telemetry.WithHTTPRoute(catalogHandler.HandleListMenu))
	mux.HandleFunc("GET /menu/{id}", telemetry.WithHTTPRoute(catalogHandler.HandleGetItem))
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /orders/{id}/history", telemetry.WithHTTPRoute(orderHandler.HandleHistory))
	mux.HandleFunc("GET /orders/{number}/track", telemetry.WithHTTPRoute(orderHandler.HandleTrack))
	mux.HandleFunc("PUT /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/reorder", telemetry.WithHTTPRoute(orderHandler.HandleReorder))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "ordering-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting ordering api", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func pricingFromEnv(logger *slog.Logger) orders.PricingConfig {
	cfg := orders.DefaultPricingConfig()
	cfg.MinOrderAmount = envDecimal(logger, "MIN_ORDER_AMOUNT", cfg.MinOrderAmount)
	cfg.MaxOrderAmount = envDecimal(logger, "MAX_ORDER_AMOUNT", cfg.MaxOrderAmount)
	cfg.DeliveryFee = envDecimal(logger, "DELIVERY_FEE", cfg.DeliveryFee)
	cfg.FreeDeliveryOver = envDecimal(logger, "FREE_DELIVERY_OVER", cfg.FreeDeliveryOver)
	return cfg
}

func envDecimal(logger *slog.Logger, name string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Error("invalid decimal in environment", "variable", name, "value", raw)
		os.Exit(1)
	}
	return value
}
