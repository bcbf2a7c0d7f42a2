package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jontes-page/avatar-service/internal/config"
	"github.com/jontes-page/avatar-service/internal/fetcher"
	"github.com/jontes-page/avatar-service/internal/handler"
	"github.com/jontes-page/avatar-service/internal/mq"
	"github.com/jontes-page/avatar-service/internal/pipeline"
	"github.com/jontes-page/avatar-service/internal/resolver"
	"github.com/jontes-page/avatar-service/internal/transcoder"
	pkglog "github.com/jontes-page/avatar-service/pkg/log"
	pkgstorage "github.com/jontes-page/avatar-service/pkg/storage"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialise structured logger.
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "avatar-service",
	})
	l := pkglog.L()
	l.Info().Msg("avatar-service starting")

	// Initialise the blob store backend.
	var store pkgstorage.Storage
	var bucket string
	switch cfg.Storage.Type {
	case "s3":
		store, err = pkgstorage.NewS3Storage(context.Background(), cfg.Storage.S3)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to init s3 storage")
		}
		bucket = cfg.Storage.S3.Bucket
		l.Info().
			Str("endpoint", cfg.Storage.S3.Endpoint).
			Str("bucket", bucket).
			Msg("s3 storage initialised")
	default:
		store, err = pkgstorage.NewLocalStorage(cfg.Storage.Local)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to init local storage")
		}
		l.Info().Str("path", cfg.Storage.Local.BasePath).Msg("local storage initialised")
	}

	// Optional avatar-cached event publisher.
	var publisher mq.AvatarEventPublisher
	if cfg.Kafka.Enabled {
		publisher, err = mq.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ProducerTopic)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to init kafka publisher")
		}
		l.Info().Str("topic", cfg.Kafka.ProducerTopic).Msg("kafka publisher initialised")
	}

	// Assemble the pipeline.
	p := pipeline.New(
		resolver.New(cfg.Resolver),
		fetcher.New(cfg.Fetcher),
		transcoder.New(),
		store,
		bucket,
		cfg.Avatar.Sizes,
		publisher,
	)

	// Setup Gin router.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(pkglog.GinMiddleware(l), gin.Recovery())

	httpHandler := handler.NewHandler(p)
	httpHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", addr).Ints("sizes", cfg.Avatar.Sizes).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Block until SIGINT / SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	l.Info().Msg("shutting down: draining requests and background fan-outs")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Warn().Err(err).Msg("server shutdown error")
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		p.Wait() // in-flight cache population
		if publisher != nil {
			publisher.Close()
		}
	}()

	select {
	case <-shutdownDone:
		l.Info().Msg("shutdown complete")
	case <-ctx.Done():
		l.Warn().Msg("shutdown timed out")
	}
}
