package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"deposit-service/config"
	"deposit-service/internal/api"
	"deposit-service/internal/broker"
	"deposit-service/internal/notify"
	"deposit-service/internal/redisclient"
	"deposit-service/internal/service"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"
	"deposit-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, util.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting deposit service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	provider, err := settings.Open(db, cfg.Store.SettingsFile)
	if err != nil {
		logger.Fatal("Failed to load settings file", zap.Error(err))
	}

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer orderProducer.Close()
	depositProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDepositEvents)
	defer depositProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized")

	publisher := broker.NewEventPublisher(orderProducer, depositProducer)
	notifier := notify.NewNotifier(broker.NewNotificationPublisher(notificationProducer), provider, cfg.Store.URL, cfg.Store.Timezone)

	rules := service.NewRuleResolver(db, provider, cfg.Store.Timezone)
	calc := service.NewDepositCalculator(provider)
	pricing := service.NewCartPricingAdjuster(db, rules, provider)
	reminders := service.NewReminderScheduler(db, redisClient, provider, notifier)
	factory := service.NewBalanceOrderFactory(db, rules, calc, provider, reminders, notifier, publisher, cfg.Store.Timezone)
	overdue := service.NewOverdueCanceller(db, provider, notifier, publisher)
	cancellation := service.NewCancellationPolicyEngine(db, db, rules, provider, notifier, publisher)
	eventHandler := service.NewOrderEventHandler(db, db, factory, cancellation, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reminders.EnsureDailySchedule(ctx); err != nil {
		logger.Error("Failed to schedule daily maintenance", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Carts:    service.NewCartService(redisClient, db, db, rules, pricing, factory, provider),
		Factory:  factory,
		Admin:    service.NewAdminService(db, rules, reminders, overdue, notifier, publisher),
		Reports:  service.NewReportService(db, notifier, cfg.Store.Timezone),
		Settings: provider,
	}, cfg.Server.AdminToken, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, cfg.Kafka.ConsumerGroup)
	orderWorker := worker.NewOrderEventWorker(orderConsumer, eventHandler)
	reminderWorker := worker.NewReminderWorker(redisClient, reminders, overdue, cfg.Scheduler.PollInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := orderWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("order event worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := reminderWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reminder worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		if err := orderWorker.Stop(); err != nil {
			logger.Error("Failed to stop order event worker", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}
