package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

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

// Standalone grading worker. Runs the same pipeline as the server's
// in-process pool but scales independently: point any number of these at
// the same broker and each job is still claimed exactly once.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

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

	q, err := queue.NewRedis(cfg.Queue.RedisAddr, cfg.Queue.RedisDB,
		cfg.Queue.ResultTTL, cfg.Queue.RecoveryLockTTL, cfg.Queue.StaleAfter)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Queue.RedisAddr).Msg("broker required for worker mode")
	}
	defer q.Close()

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

	metrics := monitor.NewMetrics()
	v := validator.New(cfg.Validator.MaxQueryLength)
	sandboxes := sandbox.NewManager(sandbox.Options{
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		QueryTimeout:  cfg.Sandbox.QueryTimeout,
		MaxResultRows: cfg.Sandbox.MaxResultRows,
		MaxTables:     cfg.Sandbox.MaxTables,
		OnEvict:       metrics.SandboxEvictions.Inc,
	}, v, cfg.Sandbox.MaxSandboxes)
	defer sandboxes.Shutdown()

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

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down, draining in-flight jobs")
		cancel()
	}()

	pool := worker.New(q, j.Handler(), cfg.Queue.Workers, cfg.Queue.PollTimeout)

	log.Info().
		Str("broker", cfg.Queue.RedisAddr).
		Int("workers", cfg.Queue.Workers).
		Msg("worker starting")

	if err := pool.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker pool failed")
	}

	log.Info().Msg("worker stopped")
}
