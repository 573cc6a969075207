package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edumatch/messaging/internal/api"
	"github.com/edumatch/messaging/internal/auth"
	"github.com/edumatch/messaging/internal/awsclient"
	"github.com/edumatch/messaging/internal/config"
	"github.com/edumatch/messaging/internal/events"
	"github.com/edumatch/messaging/internal/hub"
	"github.com/edumatch/messaging/internal/logger"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/edumatch/messaging/internal/presence"
	"github.com/edumatch/messaging/internal/queue"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/edumatch/messaging/internal/service"
	"github.com/edumatch/messaging/internal/storage"
	"github.com/edumatch/messaging/internal/usercache"
	"github.com/edumatch/messaging/internal/userdir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		lg.Fatalw("mongo connect", "error", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	db := mc.Database(cfg.Mongo.Database)
	threads := repository.NewMongoThreadRepository(db.Collection(cfg.Mongo.ThreadsCollection))
	messages := repository.NewMongoMessageRepository(db.Collection(cfg.Mongo.MessagesCollection))
	notifications, err := notificationStore(cfg, db)
	if err != nil {
		lg.Fatalw("notification store", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	bus, err := eventBus(cfg, lg)
	if err != nil {
		lg.Fatalw("event bus", "error", err)
	}
	defer bus.Close()
	h := hub.New()
	if err := bus.Subscribe(ctx, h.Dispatch); err != nil {
		lg.Fatalw("event subscribe", "error", err)
	}

	jv, err := auth.NewJWTValidator(cfg.JWT.PublicKeyPath, cfg.JWT.Alg, cfg.JWT.HSSecret)
	if err != nil {
		lg.Fatalw("jwt validator", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []service.Option{}
	deps := api.Deps{
		Validator:     jv,
		Hub:           h,
		Presence:      presence.NewStore(rdb, cfg.Redis.Prefix),
		Notifications: notifications,
		IPLimiter:     api.NewIPRateLimiter(ctx, cfg.App.RateLimitPerMin, lg),
		NotifyLimiter: api.NewRedisRateLimiter(rdb, cfg.Redis.Prefix+":ratelimit:notify", 30, time.Minute).
			MiddlewareByKey(api.CallerID),
		Metrics:  m,
		Gatherer: reg,
		Log:      lg,
	}

	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		lg.Fatalw("aws config", "error", err)
	}
	if cfg.S3.Bucket != "" {
		deps.Uploads = storage.NewS3Store(awsCfg, cfg.S3.Bucket, cfg.AWS.Endpoint, cfg.PresignTTL)
	} else {
		lg.Warn("s3.bucket not set, attachment uploads disabled")
	}
	if cfg.Queues.NotificationsURL != "" {
		q := queue.NewSQSQueue(queue.NewSQSClient(awsCfg, cfg.AWS.Endpoint), "notifications", cfg.Queues.NotificationsURL, cfg.Queues.WaitTimeSeconds)
		producer := queue.NewProducer(q)
		deps.Sink = producer
		opts = append(opts, service.WithNotificationSink(producer))
	} else {
		lg.Warn("queues.notifications_url not set, notifications disabled")
	}

	if cfg.Users.BaseURL != "" {
		token := func() string { return cfg.Transport.Token }
		dir := userdir.New(cfg.Users.BaseURL, token, userdir.BreakerConfig{}, lg)
		snapshot := usercache.NewDirectory(dir, usercache.NewRedisSnapshotStore(rdb, cfg.Redis.Prefix), lg)
		go func() {
			if err := snapshot.Run(ctx); err != nil && ctx.Err() == nil {
				lg.Warnw("user directory stopped", "error", err)
			}
		}()
		opts = append(opts, service.WithUserLookup(usercache.New(dir, lg, usercache.WithDirectory(snapshot))))
	}

	deps.Service = service.NewMessagingService(threads, messages, bus, lg, opts...)
	app := api.NewServer(deps)

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(":" + cfg.App.PortString())
	}()
	lg.Infow("messaging-api started", "port", cfg.App.Port, "events", cfg.Events.Driver)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		lg.Infow("shutting down", "signal", s.String())
	case err := <-errs:
		lg.Errorw("server listen", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Warnw("server shutdown", "error", err)
	}
	lg.Info("messaging-api stopped")
}

func eventBus(cfg *config.Config, lg *zap.SugaredLogger) (events.Bus, error) {
	switch strings.ToLower(cfg.Events.Driver) {
	case "kafka":
		// every instance must see every event, so each gets its own group
		host, _ := os.Hostname()
		group := fmt.Sprintf("%s-%s-%d", cfg.Kafka.GroupID, host, os.Getpid())
		return events.NewKafkaBus(cfg.Kafka.Brokers, cfg.Kafka.Topic, group, lg), nil
	case "nats":
		return events.NewNATSBus(cfg.NATS.URL, cfg.NATS.Subject, lg)
	default:
		return events.NewMemoryBus(), nil
	}
}

func notificationStore(cfg *config.Config, db *mongo.Database) (repository.NotificationRepository, error) {
	if strings.ToLower(cfg.Notifications.Store) == "sql" {
		gdb, err := repository.OpenSQL(cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLNotificationRepository(gdb)
	}
	return repository.NewMongoNotificationRepository(db, cfg.Mongo.NotificationsCollection), nil
}
