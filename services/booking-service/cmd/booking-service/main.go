package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/service"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	serviceName := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	cat := catalog.Default()
	if path := config.String("CATALOG_FILE", ""); path != "" {
		cat, err = catalog.Load(path)
		if err != nil {
			logger.Error("catalog load failed", "path", path, "err", err)
			panic(err)
		}
	}

	tenants := tenant.Resolver{
		DataDir:  config.String("DATA_DIR", "./data"),
		Header:   config.String("TENANT_HEADER", tenant.DefaultHeader),
		Override: config.String("CLINIC_TENANT", ""),
		FromHost: config.Bool("TENANT_FROM_HOST", false),
		Allowed:  config.List("CLINIC_TENANTS", ""),
	}

	rules, err := rulesFromEnv()
	if err != nil {
		panic(err)
	}

	var gateway payment.Gateway = payment.Disabled{}
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		gateway = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey: key,
			Timeout:   config.Duration("PAYMENT_TIMEOUT", 5*time.Second),
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; card bookings will be refused")
	}

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      brokers,
		Topic:        config.String("KAFKA_BOOKING_TOPIC", "clinic.booking.events.v1"),
		WriteTimeout: config.Duration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
	}, logger)
	defer func() { _ = publisher.Close() }()

	svcCfg := service.Config{
		Store: store.Options{
			LockTimeout: config.Duration("STORE_LOCK_TIMEOUT", store.DefaultLockTimeout),
			Retention:   config.Int("STORE_BACKUP_RETENTION", store.DefaultRetention),
			Secret:      config.String("STORE_ENCRYPTION_KEY", ""),
			Logger:      logger,
		},
		Rules:    rules,
		FailOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", false),
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		svcCfg.Redis = ratelimit.NewRedisLimiter(rdb, config.String("REDIS_KEY_PREFIX", "clinicbook:rl"))
	}
	if svcCfg.Store.Secret == "" {
		logger.Warn("STORE_ENCRYPTION_KEY not set; records are stored in plaintext")
	}

	svc := service.New(booking.NewEngine(cat), gateway, publisher, logger, svcCfg)

	adminSecret := config.String("ADMIN_JWT_SECRET", "")
	if adminSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes will refuse every request")
	}

	sweeper, err := startSweeper(tenants, rules, logger)
	if err != nil {
		panic(err)
	}
	defer sweeper.Stop()

	mux := runtime.NewBaseMuxWithReady(readyChecks(brokers, svcCfg.Redis)...)
	handlers.NewBookingHandler(svc, tenants, logger, adminSecret).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", tenants.Header, "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "data_dir", tenants.DataDir)
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
