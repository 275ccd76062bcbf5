package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"poolmatch/pkg/archive"
	"poolmatch/pkg/config"
	"poolmatch/pkg/db"
	"poolmatch/pkg/httpx"
	gos3 "poolmatch/pkg/s3"
	"poolmatch/pkg/telemetry"
	"poolmatch/services/matches"
)

func main() {
	if err := run("matches"); err != nil {
		log.Fatal().Err(err).Msg("matches exited")
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.Matches](ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.DBDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	store, err := matches.NewPostgresStore(pool)
	if err != nil {
		return err
	}

	opts := []matches.Option{matches.WithLogger(logger)}
	if cfg.Bucket != "" {
		s3Client, err := gos3.NewClient(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		var archiveOpts []archive.Option
		if cfg.SigningKey != "" {
			signer, err := archive.NewSigner(cfg.SigningKey, cfg.VerifyKey)
			if err != nil {
				return err
			}
			archiveOpts = append(archiveOpts, archive.WithSigner(signer))
		}
		archiver, err := archive.New(s3Client, cfg.Bucket, cfg.AgeRecipient, archiveOpts...)
		if err != nil {
			return err
		}
		opts = append(opts, matches.WithArchiver(archiver))
		logger.Info().Str("bucket", cfg.Bucket).Bool("signed", cfg.SigningKey != "").Msg("archiving cleanup reports")
	}

	engine, err := matches.NewEngine(store, opts...)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Middleware:     []func(http.Handler) http.Handler{middleware},
		Ready:          engine.Ping,
	})
	matches.NewHandler(engine).Routes(router)

	return httpx.Serve(ctx, cfg.Addr, router, logger)
}
