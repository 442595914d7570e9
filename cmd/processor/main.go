// The processor ingests signed scan archives from the jurisdiction
// containers, drives each envelope through upload, dispatch and sweep, and
// serves the status and reporting API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/api"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/blobstore"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/dispatch"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/documents"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/ingest"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/notify"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/pipeline"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/reports"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/sweep"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/upload"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/zipverify"
)

var log = logrus.WithField("prefix", "main")

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment overrides from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	setupLogging(cfg.Logging)

	db, err := database.Connect(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}
	store := database.NewStore(db)

	gateway, err := blobstore.NewClient(cfg.Storage.ConnectionString, cfg.Storage.LeaseTTLSeconds)
	if err != nil {
		log.WithError(err).Fatal("connect to blob storage")
	}

	verifier, err := buildVerifier(cfg.Signature)
	if err != nil {
		log.WithError(err).Fatal("build signature verifier")
	}

	docs := documents.NewClient(cfg.Documents.URL, time.Duration(cfg.Documents.TimeoutSeconds)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var busOpts []option.ClientOption
	if cfg.Notifications.CredentialsFile != "" {
		busOpts = append(busOpts, option.WithCredentialsFile(cfg.Notifications.CredentialsFile))
	}
	bus, err := notify.NewBus(ctx, cfg.Notifications.ProjectID,
		cfg.Notifications.ErrorTopic, cfg.Notifications.EnvelopesTopic, busOpts...)
	if err != nil {
		log.WithError(err).Fatal("connect to pub/sub")
	}
	defer bus.Close()

	consumer, err := notify.NewConsumer(ctx, bus, cfg.Notifications.ProcessedSubscription, store)
	if err != nil {
		log.WithError(err).Fatal("bind confirmation subscription")
	}
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.WithError(err).Error("confirmation consumer stopped")
		}
	}()

	var cache *reports.Cache
	if cfg.Reports.RedisAddr != "" {
		ttl := time.Duration(cfg.Reports.CacheTTLSeconds) * time.Second
		cache, err = reports.NewCache(cfg.Reports.RedisAddr, ttl)
		if err != nil {
			log.WithError(err).Warn("report cache unavailable, serving reports uncached")
		} else {
			defer cache.Close()
		}
	}
	reportSvc := reports.NewService(store, gateway, cfg.Storage.Containers)

	schedulers := []*pipeline.Scheduler{
		pipeline.NewScheduler(
			ingest.NewCoordinator(gateway, store, verifier, bus, cfg.Storage.Containers,
				time.Duration(cfg.Ingestion.ProcessingDelayMinutes)*time.Minute),
			time.Duration(cfg.Ingestion.IntervalMs)*time.Millisecond),
		pipeline.NewScheduler(
			upload.NewRunner(gateway, store, verifier, docs, cfg.Upload.MaxFailures),
			time.Duration(cfg.Upload.IntervalMs)*time.Millisecond),
		pipeline.NewScheduler(
			dispatch.NewRunner(store, bus, cfg.Storage.Containers),
			time.Duration(cfg.Dispatch.IntervalMs)*time.Millisecond),
		pipeline.NewScheduler(
			sweep.NewRunner(store, gateway, cfg.Storage.Containers,
				time.Duration(cfg.Sweep.GraceMinutes)*time.Minute),
			time.Duration(cfg.Sweep.IntervalMs)*time.Millisecond),
	}
	for _, s := range schedulers {
		s.Start(ctx)
	}

	server := api.NewServer(store, reportSvc, cache, cfg.API)
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown")
	}
	for _, s := range schedulers {
		s.Stop()
	}
	log.Info("processor stopped")
}

// buildVerifier reads the bureau's public key file when verification is
// enabled. The file holds the base64 DER SubjectPublicKeyInfo.
func buildVerifier(cfg config.SignatureConfig) (*zipverify.Verifier, error) {
	var key string
	if cfg.Algorithm == zipverify.AlgorithmSha256WithRsa {
		raw, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		key = strings.TrimSpace(string(raw))
	}
	return zipverify.NewVerifier(cfg.Algorithm, key)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
