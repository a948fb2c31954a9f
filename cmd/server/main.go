package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqljudge/internal/api"
	"sqljudge/internal/config"
	"sqljudge/internal/grader"
	"sqljudge/internal/judge"
	"sqljudge/internal/monitor"
	"sqljudge/internal/problem"
	"sqljudge/internal/queue"
	"sqljudge/internal/sandbox"
	"sqljudge/internal/storage"
	"sqljudge/internal/validator"
	"sqljudge/internal/worker"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	v := validator.New(cfg.Validator.MaxQueryLength)

	sandboxes := sandbox.NewManager(sandbox.Options{
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		QueryTimeout:  cfg.Sandbox.QueryTimeout,
		MaxResultRows: cfg.Sandbox.MaxResultRows,
		MaxTables:     cfg.Sandbox.MaxTables,
		OnEvict:       metrics.SandboxEvictions.Inc,
	}, v, cfg.Sandbox.MaxSandboxes)

	// Broker (optional: without it Submit grades inline)
	var q queue.Queue
	redisQueue, err := queue.NewRedis(cfg.Queue.RedisAddr, cfg.Queue.RedisDB,
		cfg.Queue.ResultTTL, cfg.Queue.RecoveryLockTTL, cfg.Queue.StaleAfter)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Queue.RedisAddr).
			Msg("broker unavailable, submissions will grade inline")
	} else {
		q = redisQueue
		defer redisQueue.Close()
	}

	// Database (optional: runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, submission history disabled")
		} else {
			defer db.Close()
		}
	}

	var history *storage.HistoryWriter
	if db != nil {
		history = storage.NewHistoryWriter(db, 10000)
		history.Start()
		defer history.Flush(10 * time.Second)
	}

	j := judge.New(judge.Options{
		Validator: v,
		Sandboxes: sandboxes,
		Grader:    grader.New(cfg.Grader.NumericEpsilon, cfg.Grader.MaxDiffRows),
		Queue:     q,
		Problems:  problem.NewDirStore(cfg.Problems.Dir),
		Resolver:  problem.NewDirResolver(cfg.Problems.DatasetRoot),
		Metrics:   metrics,
		Tracer:    monitor.NewTracer(),
		History:   history,
		Config:    cfg.Grader,
		CacheTTL:  cfg.Security.TestCacheTTL,
	})

	// In-process workers drain the broker when one is connected.
	var pool *worker.Pool
	poolDone := make(chan struct{})
	if q != nil {
		pool = worker.New(q, j.Handler(), cfg.Queue.Workers, cfg.Queue.PollTimeout)
		go func() {
			defer close(poolDone)
			if err := pool.Run(ctx); err != nil {
				log.Error().Err(err).Msg("worker pool exited with error")
			}
		}()
	} else {
		close(poolDone)
	}

	server := api.NewServer(cfg, j, q, db, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
		<-poolDone
		sandboxes.Shutdown()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("broker_connected", q != nil).
		Int("workers", cfg.Queue.Workers).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
