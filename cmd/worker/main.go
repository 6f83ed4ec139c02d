// Command worker runs a standalone execution worker: it claims runnable
// executions, advances them step by step, and fires due schedules. Run any
// number of these against one database; leases keep them from colliding.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	signallayer "github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/application/worker"
	"github.com/smilemakc/flowforge/internal/config"
	"github.com/smilemakc/flowforge/internal/infrastructure/cache"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
	"github.com/smilemakc/flowforge/pkg/credentials"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/executor/builtin"
	"github.com/smilemakc/flowforge/pkg/runner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store := storage.NewBunStore(cfg.Database.URL)
	defer store.Close()

	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache = cache.New(cache.Config{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		defer redisCache.Close()
	}

	registry := executor.NewRegistry()
	dispatcher := executor.NewDispatcher(registry, cfg.Engine.DefaultNodeTimeout)
	observers := observer.NewManager()

	retry := &engine.RetryManager{
		MaxRetries:     cfg.Engine.MaxRetries,
		InitialBackoff: cfg.Engine.InitialBackoff,
		Multiplier:     cfg.Engine.BackoffMultiplier,
		MaxBackoff:     cfg.Engine.MaxBackoff,
		Jitter:         true,
	}
	eng := engine.NewManager(store, dispatcher, retry, observers, log, engine.Config{
		MaxParallelNodes: cfg.Engine.MaxParallelNodes,
		WorkflowTimeout:  cfg.Engine.WorkflowTimeout,
	})
	if err := builtin.Register(registry, builtin.Deps{
		CodeRunner:  runner.NewOttoRunner(0),
		Credentials: &credentials.StaticProvider{},
		SubWorkflow: eng,
	}); err != nil {
		log.Error("handler registration failed", "error", err)
		os.Exit(1)
	}

	signals := signallayer.NewService(store, observers, log, signallayer.Config{TTL: cfg.Signals.TTL})
	scheduler := schedule.NewScheduler(store, eng, observers, log)

	w := worker.New(store, eng, scheduler, signals, redisCache, log, worker.Config{
		Concurrency:   cfg.Worker.Concurrency,
		Batch:         cfg.Worker.Batch,
		PollInterval:  cfg.Worker.PollInterval,
		LeaseTTL:      cfg.Worker.LeaseTTL,
		SweepInterval: cfg.Worker.SweepInterval,
	})
	fanout := worker.WakeFanout{Worker: w, Redis: redisCache}
	eng.SetWaker(fanout)
	signals.SetWaker(fanout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
