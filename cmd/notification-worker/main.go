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

	"github.com/edumatch/messaging/internal/awsclient"
	"github.com/edumatch/messaging/internal/config"
	"github.com/edumatch/messaging/internal/logger"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/edumatch/messaging/internal/notify"
	"github.com/edumatch/messaging/internal/queue"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/edumatch/messaging/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	metricsAddr := pflag.String("metrics-addr", ":9102", "address for the Prometheus endpoint, empty to disable")
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

	if cfg.Queues.NotificationsURL == "" || cfg.Queues.EmailsURL == "" {
		lg.Fatal("queues.notifications_url and queues.emails_url are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.NotificationRepository
	if strings.ToLower(cfg.Notifications.Store) == "sql" {
		gdb, err := repository.OpenSQL(cfg.SQL.DSN)
		if err != nil {
			lg.Fatalw("sql open", "error", err)
		}
		if store, err = repository.NewSQLNotificationRepository(gdb); err != nil {
			lg.Fatalw("sql migrate", "error", err)
		}
	} else {
		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			lg.Fatalw("mongo connect", "error", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		store = repository.NewMongoNotificationRepository(mc.Database(cfg.Mongo.Database), cfg.Mongo.NotificationsCollection)
	}

	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		lg.Fatalw("aws config", "error", err)
	}
	sqsClient := queue.NewSQSClient(awsCfg, cfg.AWS.Endpoint)
	notifications := queue.NewSQSQueue(sqsClient, "notifications", cfg.Queues.NotificationsURL, cfg.Queues.WaitTimeSeconds)
	emails := queue.NewSQSQueue(sqsClient, "emails", cfg.Queues.EmailsURL, cfg.Queues.WaitTimeSeconds)

	if cfg.Email.BrevoAPIKey == "" {
		lg.Warn("email.brevo_api_key not set, emails will fail and stay queued")
	}
	mailer := notify.NewEmailSender(cfg.Email.BrevoAPIKey, cfg.Email.SenderEmail, cfg.Email.SenderName, cfg.Email.AppURL, lg)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Warnw("metrics listener", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	p := worker.NewProcessor(notifications, emails, store, mailer, worker.Config{
		Interval:  cfg.PollInterval,
		BatchSize: cfg.Queues.BatchSize,
	}, lg, m)

	lg.Infow("notification-worker started", "interval", cfg.PollInterval, "store", cfg.Notifications.Store)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		lg.Errorw("processor stopped", "error", err)
		stop()
		os.Exit(1)
	}
	lg.Info("notification-worker stopped")
}
