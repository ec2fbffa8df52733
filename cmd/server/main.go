package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coupon-system/internal/config"
	"coupon-system/internal/database"
	"coupon-system/internal/handlers"
	"coupon-system/internal/kafka"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"
	"coupon-system/internal/redis"
	"coupon-system/internal/services"
	"coupon-system/internal/store"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *database.DB
	redis     *redis.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	coupons   *services.CouponService
	mux       *http.ServeMux
	server    *http.Server
	sweepStop chan struct{}
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting coupon system server...")

	if app.cfg.Sweep.Enabled {
		go runSweepLoop(app.coupons, &app.cfg.Sweep, app.log, app.sweepStop)
	}

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	close(app.sweepStop)
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	couponStore := store.NewCouponStore(db, log)
	generator := services.NewCodeGenerator(log)
	couponService := services.NewCouponService(couponStore, generator, producer, redisClient, log, &cfg.Generation, &cfg.Cache)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)

	couponHandler := handlers.NewCouponHandler(couponService, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck)
	rateLimitHandler := handlers.NewRateLimitHandler(rateLimiter, log, &cfg.RateLimit)

	registerEventHandlers(consumer, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	mux := setupRoutes(couponHandler, healthHandler, rateLimitHandler, rateLimiter, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:       cfg,
		log:       log,
		db:        db,
		redis:     redisClient,
		producer:  producer,
		consumer:  consumer,
		coupons:   couponService,
		mux:       mux,
		server:    server,
		sweepStop: make(chan struct{}),
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(couponHandler *handlers.CouponHandler, healthHandler *handlers.HealthHandler, rateLimitHandler *handlers.RateLimitHandler, rateLimiter *services.RateLimiter, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	applyAPI := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, log, h))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(healthHandler.Liveness))

	// Coupon endpoints
	mux.HandleFunc("/api/coupons", applyAPI(couponHandler.CreateCoupons))
	mux.HandleFunc("/api/coupons/", applyAPI(couponHandler.HandleCouponPath))

	// Batch endpoints
	mux.HandleFunc("/api/batches/", applyAPI(couponHandler.HandleBatchPath))

	// Code space stats
	mux.HandleFunc("/api/stats", applyAPI(couponHandler.Stats))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", applyAPI(rateLimitHandler.Status))

	return mux
}

// runSweepLoop периодически переводит просроченные купоны в EXPIRED.
// Ленивое протухание при проверке дает корректные ответы и без него,
// зачистка сводит хранилище к фактическому состоянию.
func runSweepLoop(coupons *services.CouponService, cfg *config.SweepConfig, log *logger.Logger, stop <-chan struct{}) {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	log.WithField("interval", interval.String()).Info("Expiration sweep scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			coupons.SweepExpired(context.Background())
		case <-stop:
			log.Info("Expiration sweep scheduler stopped")
			return
		}
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, log *logger.Logger) {
	// Аудит погашений: события пишутся в лог, сюда же подключаются
	// интеграции вроде уведомлений.
	consumer.RegisterHandler(models.EventTypeCouponRedeemed, func(ctx context.Context, event *models.Event) error {
		log.WithFields(map[string]interface{}{
			"event_id": event.ID,
			"data":     event.Data,
		}).Info("Processing coupon redeemed event")
		return nil
	})

	consumer.RegisterHandler(models.EventTypeBatchCreated, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Info("Processing batch created event")
		return nil
	})
}

// corsMiddleware разрешает кросс-доменные запросы к API.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
