package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"poolmatch/pkg/bus"
	"poolmatch/pkg/config"
	"poolmatch/pkg/httpx"
	"poolmatch/pkg/telemetry"
	"poolmatch/services/relay"
)

func main() {
	if err := run("relay"); err != nil {
		log.Fatal().Err(err).Msg("relay exited")
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.Relay](ctx)
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

	client := relay.NewMatchesClient(cfg.MatchesServiceURL, cfg.UpstreamTimeout)
	consumer, err := relay.NewConsumer(client, logger)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Middleware:     []func(http.Handler) http.Handler{middleware},
		Ready: func(ctx context.Context) error {
			if !b.Connected() {
				return errors.New("nats disconnected")
			}
			return client.Ping(ctx)
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sub, err := consumer.Start(gctx, b, cfg.Subject, bus.SubscribeOptions{
			Durable:    cfg.Durable,
			MaxDeliver: cfg.MaxDeliver,
			AckWait:    cfg.AckWait,
		})
		if err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		logger.Info().Str("subject", cfg.Subject).Str("durable", cfg.Durable).Msg("consuming member removed events")
		<-gctx.Done()
		return sub.Close()
	})
	g.Go(func() error {
		return httpx.Serve(gctx, cfg.Addr, router, logger)
	})
	return g.Wait()
}
