package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockgen/internal/bootstrap"
	"stockgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		countFlag  int
		noDelay    bool
		ignoreGate bool
	)
	flag.IntVar(&countFlag, "count", 0, "Number of work items (defaults to BATCH_COUNT)")
	flag.BoolVar(&noDelay, "no-delay", false, "Skip the random start delay")
	flag.BoolVar(&ignoreGate, "ignore-start-date", false, "Run even if the launch gate is closed")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if until := cfg.WaitingUntil(); !ignoreGate && !launchOpen(time.Now(), until) {
		logger.Info().Time("opens_at", until).Msg("stockgen: waiting period not over, exiting")
		return
	}

	rt, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("stockgen: failed to build pipeline")
	}
	defer rt.Close()

	if cfg.UseRandomDelay && !noDelay {
		delay := randomDelay(rand.New(rand.NewSource(time.Now().UnixNano())), cfg.MaxRandomDelay)
		logger.Info().Dur("delay", delay).Msg("stockgen: random start delay")
		if err := sleepContext(ctx, delay); err != nil {
			logger.Info().Msg("stockgen: interrupted during start delay")
			return
		}
	}

	report, err := rt.Orchestrator.RunBatch(ctx, countFlag, cfg.Pipeline)
	if err != nil {
		logger.Fatal().Err(err).Msg("stockgen: batch did not start")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warn().Int("attempted", report.Attempted).Msg("stockgen: batch interrupted")
	}
	logger.Info().
		Str("run_id", report.RunID).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("total_accepted", report.TotalAccepted()).
		Str("report", report.ReportPath).
		Msg("stockgen: done")
}
