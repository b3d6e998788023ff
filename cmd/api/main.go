package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/alshifa-health/clinic-appointments/internal/api/router"
	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/attendance"
	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/internal/booking"
	"github.com/alshifa-health/clinic-appointments/internal/clinic"
	appconfig "github.com/alshifa-health/clinic-appointments/internal/config"
	"github.com/alshifa-health/clinic-appointments/internal/demand"
	"github.com/alshifa-health/clinic-appointments/internal/messages"
	"github.com/alshifa-health/clinic-appointments/internal/notify"
	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/internal/webhook"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

func main() {
	// Load .env file before reading configuration
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-appointments API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"timezone", cfg.Timezone,
	)

	// All schedule math runs in the clinic's timezone.
	clock, err := timeutil.NewClock(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "tz", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Connect to Postgres
	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("postgres is required, set DATABASE_URL")
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to Redis (clinic settings profile + notification transcript)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	// The audit trail rides database/sql on top of the same pgx pool.
	auditSvc := audit.NewService(stdlib.OpenDBFromPool(pool))

	// Telegram bot: optional. Without a token the notifier degrades to a
	// log-only no-op and chat linking confirmations are skipped.
	var botAPI *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			logger.Error("failed to initialize telegram bot", "error", err)
			os.Exit(1)
		}
	}

	var base notify.Notifier
	if botAPI != nil {
		base = notify.NewTelegramNotifier(botAPI, logger)
	} else {
		logger.Warn("BOT_TOKEN not set, reminders will be logged instead of delivered")
		base = notify.NewNoopNotifier(logger)
	}
	notifier := notify.NewRecorder(base, redisClient, logger)

	// Metrics
	registry, metricsHandler := setupMetrics()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	reminderMetrics := metrics.NewReminderMetrics(registry)
	schedulerMetrics := metrics.NewSchedulerMetrics(registry)

	// Stores
	apptStore := appointments.NewStore(pool)
	userStore := users.NewStore(pool)
	catalog := messages.NewCatalog(messages.NewStore(pool))
	jobStore := scheduler.NewStore(pool)
	settingsStore := clinic.NewSettingsStore(redisClient)

	// Demand engine and its periodic tasks
	engine := demand.NewEngine(demand.NewStore(pool), clock, logger)
	maintenance := demand.NewMaintenance(engine, apptStore, clock, logger)

	// Durable scheduler
	dispatcher := scheduler.NewDispatcher(jobStore, clock, logger,
		scheduler.WithWorkers(cfg.SchedulerWorkers),
		scheduler.WithMetrics(schedulerMetrics),
	)

	// Services
	bookingSvc := booking.NewService(booking.Config{
		Slots:    apptStore,
		Users:    userStore,
		Demand:   engine,
		Catalog:  catalog,
		Timers:   dispatcher,
		Settings: settingsStore,
		Notifier: notifier,
		Clock:    clock,
		Metrics:  reminderMetrics,
		Logger:   logger,
	})
	attendanceSvc := attendance.NewService(attendance.Config{
		Slots:         apptStore,
		Users:         userStore,
		Demand:        engine,
		Timers:        dispatcher,
		Settings:      settingsStore,
		Notifier:      notifier,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	})

	// Job handlers must be registered before the dispatcher runs.
	dispatcher.Register(scheduler.KindReminderFire, bookingSvc.HandleReminderFire)
	dispatcher.Register(scheduler.KindAutoMiss, attendanceSvc.HandleAutoMiss)
	dispatcher.Register(scheduler.KindMonthEndLearn, maintenance.HandleMonthEndLearn)
	dispatcher.Register(scheduler.KindMonthlyRecalc, maintenance.HandleMonthlyRecalc)
	dispatcher.Register(scheduler.KindHourlyMaintenance, maintenance.HandleHourlyMaintenance)

	if err := dispatcher.EnsureRecurringJobs(ctx); err != nil {
		logger.Error("failed to ensure recurring jobs", "error", err)
		os.Exit(1)
	}
	if err := dispatcher.OnBoot(ctx, cfg.SchedulerGrace); err != nil {
		logger.Error("failed to replay pending jobs", "error", err)
		os.Exit(1)
	}

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go dispatcher.Run(schedulerCtx)

	// Point Telegram at our webhook when the service is reachable from outside.
	if botAPI != nil && cfg.PublicBaseURL != "" {
		if err := webhook.Register(botAPI, cfg.PublicBaseURL, logger); err != nil {
			logger.Error("failed to register telegram webhook", "error", err)
		}
	}

	// Initialize handlers
	var chatSender notify.ChatSender
	if botAPI != nil {
		chatSender = botAPI
	}
	healthHandler := router.NewHealthHandler(pool, redisPinger(redisClient), logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:         logger,
		Appointments:   appointments.NewHandler(apptStore, clock, auditSvc, logger),
		Booking:        booking.NewHandler(bookingSvc, bookingMetrics, logger),
		Attendance:     attendance.NewHandler(attendanceSvc, auditSvc, logger),
		Users:          users.NewHandler(userStore, auditSvc, logger),
		Demand:         demand.NewHandler(engine, auditSvc, logger),
		Webhook:        webhook.NewHandler(userStore, chatSender, logger),
		ClinicSettings: clinic.NewSettingsHandler(settingsStore, auditSvc, logger),
		Dashboard:      clinic.NewDashboardHandler(apptStore, jobStore, engine, registry, logger),
		Notifications:  notify.NewTranscriptHandler(notifier, logger),
		Audit:          audit.NewHandler(auditSvc, logger),
		Health:         healthHandler,
		Metrics:        metricsHandler,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop dispatching and wait for in-flight jobs; pending rows replay on
	// the next boot.
	stopScheduler()
	dispatcher.Stop()

	logger.Info("server stopped")
}

// connectPostgresPool connects and pings Postgres. Returns nil when no URL
// is configured or the database is unreachable; the caller decides whether
// that is fatal.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// setupMetrics builds the process-local registry and its exposition handler.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// redisPinger adapts the Redis client to the health probe interface.
func redisPinger(client *redis.Client) router.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
