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

	"poolmatch/pkg/config"
	"poolmatch/pkg/db"
	"poolmatch/pkg/httpx"
	"poolmatch/pkg/telemetry"
	"poolmatch/services/pools"
)

func main() {
	if err := run("pools"); err != nil {
		log.Fatal().Err(err).Msg("pools exited")
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.Pools](ctx)
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

	orm, err := db.OpenORM(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.CloseORM(orm)

	store, err := pools.NewGormStore(orm)
	if err != nil {
		return err
	}
	svc, err := pools.NewService(store, logger)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Middleware:     []func(http.Handler) http.Handler{middleware},
		Ready:          svc.Ping,
	})
	pools.NewHandler(svc).Routes(router)

	return httpx.Serve(ctx, cfg.Addr, router, logger)
}
