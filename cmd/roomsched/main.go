package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomsched/internal/api"
	"roomsched/internal/config"
	"roomsched/internal/database"
	"roomsched/internal/lifecycle"
	"roomsched/internal/lock"
	"roomsched/internal/metrics"
	"roomsched/internal/notify"
	"roomsched/internal/report"
	"roomsched/internal/schedule"
)

func main() {
	cfg, err := config.Load(os.Getenv("ROOMSCHED_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	rooms, err := config.LoadRoomsConfig(cfg.Rooms.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Rooms.Path).Msg("load rooms error")
	}
	if err := db.SyncRooms(ctx, rooms.ToModels()); err != nil {
		logger.Fatal().Err(err).Msg("sync rooms error")
	}
	logger.Info().Int("rooms", len(rooms.Rooms)).Msg("room directory loaded")

	watcher, err := config.NewRoomsWatcher(cfg.Rooms.Path, cfg.RoomsWatchInterval())
	if err != nil {
		logger.Fatal().Err(err).Msg("rooms watcher error")
	}
	go watcher.Run(ctx,
		func(rc *config.RoomsConfig) {
			if err := db.SyncRooms(ctx, rc.ToModels()); err != nil {
				logger.Error().Err(err).Msg("room directory sync failed")
				return
			}
			logger.Info().Int("rooms", len(rc.Rooms)).Msg("room directory reloaded")
		},
		func(err error) {
			logger.Warn().Err(err).Msg("rooms.yaml rejected; keeping previous directory")
		})

	var rdb *redis.Client
	var remote lock.Locker
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		remote = lock.NewRedisLocker(rdb, cfg.LockLease())
	} else {
		logger.Warn().Str("policy", cfg.Lock.Policy).Msg("redis not configured; distributed lock disabled")
	}
	locker := lock.NewBookingLocker(
		lock.NewLocalLocker(cfg.LockLease()),
		remote,
		lock.Policy(cfg.Lock.Policy),
		cfg.LockRecheck(),
		&logger,
	)

	bus := notify.NewBus(&logger)
	var cleaner lifecycle.RoomCleaner
	if rdb != nil {
		bus.Subscribe(notify.AllEvents, "redis", notify.NewRedisPublisher(rdb).Publish)
		cleaner = notify.NewSessionCleaner(rdb)
	}
	if cfg.RabbitMQ.URL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitExchange())
		if err != nil {
			logger.Error().Err(err).Msg("rabbitmq unavailable; events will not be forwarded")
		} else {
			defer amqpPub.Close()
			bus.Subscribe(notify.AllEvents, "amqp", amqpPub.Publish)
		}
	}
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.AlertChatIDs) > 0 {
		alerter, err := notify.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.AlertChatIDs)
		if err != nil {
			logger.Error().Err(err).Msg("telegram alerts disabled")
		} else {
			bus.Subscribe(notify.EventBookingPartialFailure, "telegram", alerter.Publish)
			bus.Subscribe(notify.EventBookingReconciled, "telegram", alerter.Publish)
		}
	}

	svc := schedule.NewService(db, locker, bus, schedule.Options{
		Location:     loc,
		Open:         cfg.OpenTime(),
		Close:        cfg.CloseTime(),
		SlotDuration: cfg.SlotDuration(),
		MinDirect:    cfg.DirectMinDuration(),
		MaxDirect:    cfg.DirectMaxDuration(),
	}, &logger)

	deps := lifecycle.Deps{
		Store:     db,
		Locker:    locker,
		Converter: svc,
		Publisher: bus,
		Cleaner:   cleaner,
		Location:  loc,
		Logger:    &logger,
	}
	scheduler := lifecycle.NewScheduler(loc, &logger)
	scheduler.Every(lifecycle.NewPendingSweep(deps, cfg.ConvertTimeout(), 0), cfg.PendingSweepInterval())
	scheduler.Every(lifecycle.NewAutoCancel(deps, cfg.AutoCancelGrace()), cfg.AutoCancelInterval())
	scheduler.Every(lifecycle.NewReconcile(deps, cfg.ReconcileGrace()), cfg.ReconcileInterval())
	hour, minute := lifecycle.DailyTriggerTime(cfg.Lifecycle.DayBoundaryHour)
	scheduler.Daily(lifecycle.NewAutoFinish(deps, cfg.Lifecycle.DayBoundaryHour), hour, minute)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	backup := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(api.Config{
		Port:                 cfg.HTTPPort(),
		APIKey:               cfg.HTTP.APIKey,
		BookingRatePerMinute: cfg.BookingRatePerMinute(),
		BookingBurst:         cfg.BookingBurst(),
	}, svc, report.NewScheduleExporter(db, loc, &logger), scheduler, &logger)

	logger.Info().
		Str("timezone", cfg.TimezoneName()).
		Str("lock_policy", cfg.Lock.Policy).
		Strs("jobs", scheduler.Jobs()).
		Msg("roomsched started")

	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("shutting down")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Log.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", cfg.App.Name).Logger()
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
