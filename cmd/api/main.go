package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"stockgen/internal/bootstrap"
	"stockgen/internal/http/handlers"
	httpapi "stockgen/internal/http/httpapi"
	"stockgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.Debug)

	if cfg.APIToken == "" {
		if cfg.AppEnv == "production" {
			logger.Fatal().Msg("api: API_TOKEN is required in production")
		}
		logger.Warn().Msg("api: API_TOKEN not set, batch routes are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to build pipeline")
	}
	defer rt.Close()

	app := handlers.NewApp(rt.Orchestrator, rt.Runs, cfg.Pipeline, &logger)
	app.BaseCtx = ctx

	router := httpapi.NewRouter(app, httpapi.Options{
		APIToken:        cfg.APIToken,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          &logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on %s", server.Addr())
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if rt.Orchestrator.Running() {
			logger.Warn().Msg("api: shutting down, running batch stops before its next item")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: server failed")
	}
	logger.Info().Msg("server stopped")
}
