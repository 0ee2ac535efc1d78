package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/changefeed"
	"github.com/Leganyst/consultation-slots/internal/config"
	"github.com/Leganyst/consultation-slots/internal/db"
	"github.com/Leganyst/consultation-slots/internal/jobs"
	"github.com/Leganyst/consultation-slots/internal/logger"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/notification"
	"github.com/Leganyst/consultation-slots/internal/payment"
	"github.com/Leganyst/consultation-slots/internal/repository"
	"github.com/Leganyst/consultation-slots/internal/service"
)

const version = "0.1.0"

func main() {
	// 1. Конфиг из config.yaml и env.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// 2. Логгер.
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 3. Sentry (пустой DSN — выключено).
	flush, err := monitoring.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		zl.Warn("sentry disabled", zap.Error(err))
	} else {
		defer flush()
	}

	// 4. БД и миграции.
	gormDB, err := db.NewGormDB(&cfg.DB)
	if err != nil {
		zl.Fatal("init db", zap.Error(err))
	}
	defer func() { _ = db.Close(gormDB) }()

	if err := model.AutoMigrate(gormDB); err != nil {
		zl.Fatal("auto migrate", zap.Error(err))
	}

	// 5. Репозитории (реализации на GORM).
	bookingRepo := repository.NewGormBookingRepository(gormDB)
	eventRepo := repository.NewGormEventRepository(gormDB)
	batchRepo := repository.NewGormBlockBatchRepository(gormDB)
	outboxRepo := repository.NewGormOutboxRepository(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Шина изменений: Redis, при недоступности — в пределах процесса.
	var bus changefeed.Bus
	redisBus, err := changefeed.NewRedisBus(ctx, cfg.Redis, cfg.ChangeFeed.Channel)
	if err != nil {
		zl.Warn("redis unavailable, using in-process change bus", zap.Error(err))
		bus = changefeed.NewLocalBus()
	} else {
		defer redisBus.Close()
		bus = redisBus
	}
	feed := changefeed.NewFeed(bus, bookingRepo, cfg.ChangeFeed.PollInterval, zl.Named("changefeed"))

	// 7. Доставка уведомлений: Kafka или только лог.
	var dispatcher notification.Dispatcher
	if len(cfg.Kafka.BrokerList()) > 0 {
		kd, err := notification.NewKafkaDispatcher(cfg.Kafka)
		if err != nil {
			zl.Fatal("init kafka dispatcher", zap.Error(err))
		}
		defer kd.Close()
		dispatcher = kd
	} else {
		zl.Warn("KAFKA_BROKERS not set, notifications are only logged")
		dispatcher = notification.NewLogDispatcher(zl.Named("notification"))
	}

	// 8. Платёжный шлюз (необязателен).
	var gateway payment.Gateway
	if cfg.Payment.StripeKey != "" {
		gw, err := payment.NewStripeGateway(cfg.Payment.StripeKey, cfg.Payment.Currency)
		if err != nil {
			zl.Fatal("init payment gateway", zap.Error(err))
		}
		gateway = gw
	}

	// 9. Метрики.
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// 10. Сервисы.
	loc, err := cfg.Schedule.Location()
	if err != nil {
		zl.Fatal("load schedule timezone", zap.String("tz", cfg.Schedule.TimeZone), zap.Error(err))
	}
	deps := service.Deps{
		Bookings: bookingRepo,
		Events:   eventRepo,
		Batches:  batchRepo,
		Window: calendar.Window{
			OpenHour:     cfg.Schedule.OpenHour,
			CloseHour:    cfg.Schedule.CloseHour,
			SlotDuration: time.Duration(cfg.Schedule.SlotDurationMin) * time.Minute,
			Location:     loc,
		},
		Policy:            cfg.Schedule.DeletePolicy(),
		PendingPaymentTTL: cfg.Schedule.PendingPaymentTTL,
		Gateway:           gateway,
		Notifier:          bus,
		Feed:              feed,
		Metrics:           metrics,
		Log:               zl.Named("booking"),
	}
	bookingSvc := service.NewBookingService(deps)
	consoleSvc := service.NewConsoleService(deps)

	if _, err := consoleSvc.ReconcileClaims(ctx); err != nil {
		zl.Fatal("reconcile slot claims", zap.Error(err))
	}

	// 11. Фоновые задачи: outbox и истечение оплаты.
	worker := notification.NewWorker(outboxRepo, dispatcher, notification.WorkerConfigFrom(cfg.Outbox), metrics, zl.Named("outbox"))
	scheduler := jobs.New(zl, time.Minute)
	if err := scheduler.Add("outbox", cfg.Outbox.PollSpec, worker.RunOnce); err != nil {
		zl.Fatal("schedule outbox", zap.Error(err))
	}
	if cfg.Schedule.PendingPaymentTTL > 0 {
		if err := scheduler.Add("payment-sweep", cfg.Schedule.SweepSpec, bookingSvc.ExpirePendingPayments); err != nil {
			zl.Fatal("schedule payment sweep", zap.Error(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 12. gRPC-сервер: health и reflection.
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		zl.Fatal("listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	zl.Info("slot engine started",
		zap.String("addr", cfg.GRPCAddr),
		zap.String("env", cfg.Env),
		zap.String("delete_policy", string(deps.Policy)),
	)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			zl.Error("grpc serve", zap.Error(err))
		}
	}()

	// Индекс пересобирается на каждое изменение данных.
	go func() {
		updates, err := bookingSvc.WatchAvailability(ctx)
		if err != nil {
			zl.Warn("availability watch disabled", zap.Error(err))
			return
		}
		for ix := range updates {
			zl.Debug("availability index rebuilt", zap.Int("occupied", ix.OccupiedCount()))
		}
	}()

	// 13. Грейсфул-шатдаун по сигналу.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zl.Info("shutting down")
	healthSrv.Shutdown()
	cancel()
	grpcServer.GracefulStop()
}
