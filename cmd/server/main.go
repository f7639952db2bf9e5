package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/database"
	"github.com/candorworks/exam-proctor/internal/delivery"
	"github.com/candorworks/exam-proctor/internal/handler"
	"github.com/candorworks/exam-proctor/internal/logger"
	"github.com/candorworks/exam-proctor/internal/metrics"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/candorworks/exam-proctor/internal/router"
	"github.com/candorworks/exam-proctor/internal/service"
	"github.com/candorworks/exam-proctor/internal/validator"
	"github.com/candorworks/exam-proctor/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("backend", cfg.BackendBaseURL).
		Msg("Starting exam proctor")

	if cfg.OpsToken == "" {
		log.Warn().Msg("OPS_TOKEN is empty; ops endpoints will refuse every request")
	}

	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	cacheRepo := repository.NewAttemptCacheRepository(rdb)
	scratchRepo := repository.NewScratchRepository(rdb, cfg.ScratchTTL)
	eventRepo := repository.NewAttemptEventRepository(pool)

	backend := delivery.NewClient(cfg.BackendBaseURL, nil, cfg.BackendTimeout)

	// ─── Initialize Services ──────────────────────────────────────────
	tokenService := service.NewAttemptTokenService(cfg.AttemptTokenSecret)
	attemptService := service.NewAttemptService(backend, cacheRepo, tokenService, cfg.AttemptGrace, log)
	submissionService := service.NewSubmissionService(backend, cacheRepo, rdb, cfg.SubmittedTTL, log)
	auditService := service.NewAuditService(rdb, eventRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Candidate: handler.NewCandidateHandler(attemptService, log),
		WS: handler.NewWSHandler(
			attemptService, submissionService, auditService,
			cacheRepo, scratchRepo,
			log, cfg.AllowedOrigins,
		),
		Monitor: handler.NewMonitorHandler(rdb, auditService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	beaconWorker := worker.NewBeaconWorker(rdb, submissionService, cacheRepo, cfg.BeaconMaxAttempts, log)
	eventWorker := worker.NewEventWorker(eventRepo, rdb, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		beaconWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		eventWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokenService, handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Open streams are hijacked and
	// keep running until their pages leave.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; both drain their queues before returning.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
