// Package main is the entry point for the resampled efficient frontier service.
//
// Startup order: configuration, logging, the result cache database, the
// engine and service, the cleanup scheduler and finally the HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/frontier"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/aristath/frontier/internal/server"
	"github.com/aristath/frontier/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting frontier service")

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileCache,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open result cache database")
	}
	defer resultsDB.Close()

	if err := frontier.InitSchema(resultsDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize result cache schema")
	}

	workers := cfg.Frontier.Workers
	if workers == 0 {
		workers = logicalCPUs(log)
	}

	engine := frontier.NewEngine(newSolver(cfg.Frontier), frontier.Options{
		Points:     cfg.Frontier.Points,
		Workers:    workers,
		SortByRisk: cfg.Frontier.SortByRisk,
	}, log)

	repo := frontier.NewRepository(resultsDB.Conn())
	service := frontier.NewService(engine, repo, frontier.ServiceConfig{
		CacheTTL:   cfg.Frontier.CacheTTL,
		Seed:       cfg.Frontier.Seed,
		SolverName: cfg.Frontier.Solver,
	}, log)

	log.Info().
		Str("solver", cfg.Frontier.Solver).
		Int("points", cfg.Frontier.Points).
		Int("workers", workers).
		Dur("cache_ttl", cfg.Frontier.CacheTTL).
		Msg("Frontier engine configured")

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.Frontier.CleanupSchedule, frontier.NewCleanupJob(repo, log)); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Frontier.CleanupSchedule).Msg("Failed to schedule cache cleanup")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		RequestTimeout: cfg.RequestTimeout,
		ResultsDB:      resultsDB,
		Repository:     repo,
		Service:        service,
		Scheduler:      sched,
		Workers:        workers,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func newSolver(cfg config.FrontierConfig) frontier.Solver {
	if cfg.Solver == config.SolverPenalty {
		return frontier.NewPenaltySolver(frontier.DefaultPenaltyWeight)
	}
	return frontier.NewProjectedGradientSolver(frontier.SolverConfig{
		Iterations:       cfg.Iterations,
		ProjectionRounds: cfg.ProjectionRounds,
		LearningRate:     cfg.LearningRate,
	})
}

func logicalCPUs(log zerolog.Logger) int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		log.Warn().Err(err).Msg("Failed to count logical CPUs, using one worker")
		return 1
	}
	return n
}
