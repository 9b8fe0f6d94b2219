package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskflow/api/internal/app"
	"taskflow/api/internal/authpw"
	"taskflow/api/internal/config"
	"taskflow/api/internal/directory"
	"taskflow/api/internal/email"
	"taskflow/api/internal/notify"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()

	var (
		dataStore app.EntityStore
		source    directory.Source
		users     authpw.UserStore
		fallback  search.Searcher
		records   search.RecordSource
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
			logger.WithError(err).Fatal("migrations failed")
		}
		pg := store.NewPostgresStore(db)
		dataStore, source, users = pg, pg, pg
		pgfts := search.NewPgFTS(db)
		fallback, records = pgfts, pgfts
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		dataStore, source, users = mem, mem, mem
		scan := search.NewScan(mem)
		fallback, records = scan, scan
	}

	var cache directory.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := directory.NewRedisCache(cfg.RedisURL, cfg.DirectoryCacheTTL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer redisCache.Close()
		cache = redisCache
		logger.Info("directory cache enabled")
	}
	dir := directory.New(source, cache, logger)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback, records, logger)
	searchService.Reindex()

	var sinks []notify.Sink
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if mailer.IsConfigured() {
		sinks = append(sinks, notify.NewEmailSink(dir, mailer))
	} else {
		logger.Info("SMTP not configured, email notifications disabled")
	}
	if cfg.NotifyQueueConnection != "" && cfg.NotifyQueueName != "" {
		queueSink, err := notify.NewQueueSink(cfg.NotifyQueueConnection, cfg.NotifyQueueName)
		if err != nil {
			logger.WithError(err).Fatal("notification queue setup failed")
		}
		sinks = append(sinks, queueSink)
	}
	dispatcher := notify.NewDispatcher(logger, notify.Options{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Timeout: cfg.NotifyTimeout,
	}, sinks...)

	service := app.New(cfg, app.Dependencies{
		Store:     dataStore,
		Directory: dir,
		Notifier:  dispatcher,
		Search:    searchService,
		Auth:      authpw.NewService(users),
		Logger:    logger,
	})
	if err := service.Bootstrap(ctx); err != nil {
		logger.WithError(err).Warn("bootstrap error (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("Taskflow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	dispatcher.Close()
	searchService.Close()
}
