package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"poolmatch/pkg/bus"
	"poolmatch/pkg/config"
	"poolmatch/pkg/httpx"
	"poolmatch/pkg/telemetry"
	"poolmatch/services/relay"
	"poolmatch/services/users"
)

func main() {
	if err := run("users"); err != nil {
		log.Fatal().Err(err).Msg("users exited")
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.Users](ctx)
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

	b, err := bus.New(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer b.Close()

	if err := b.EnsureStream(cfg.Stream, []string{cfg.Subject}, cfg.Dedupe); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	publisher, err := relay.NewPublisher(b, cfg.Subject, logger)
	if err != nil {
		return err
	}

	facade, err := users.NewFacade(
		users.NewPoolsClient(cfg.PoolsServiceURL, cfg.UpstreamTimeout),
		users.NewMatchesClient(cfg.MatchesServiceURL, cfg.UpstreamTimeout),
		publisher,
		users.WithLogger(logger),
		users.WithPoolCapacity(cfg.PoolCapacity),
		users.WithMaxMatches(cfg.MaxMatches),
	)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterOptions{
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Middleware:         []func(http.Handler) http.Handler{middleware},
		Ready:              facade.Ping,
	})
	users.NewHandler(facade).Routes(router)

	return httpx.Serve(ctx, cfg.Addr, router, logger)
}
