// Package worker drives executions: it polls the store for runnable work,
// advances each claimed execution by exactly one step under its lease, and
// fires due schedules. Multiple workers cooperate safely through the store's
// claim semantics.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	"github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/cache"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
)

// Config holds the worker tunables.
type Config struct {
	// Concurrency bounds simultaneously running step tasks.
	Concurrency int
	// Batch bounds how many executions one claim fetches.
	Batch int
	// PollInterval is the sleep between cycles when nothing wakes the
	// worker earlier.
	PollInterval time.Duration
	// LeaseTTL is how long a claim is exclusive; a step must persist
	// within it or forfeit.
	LeaseTTL time.Duration
	// SweepInterval is how often expired signals are dead-lettered.
	SweepInterval time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		Batch:         16,
		PollInterval:  1 * time.Second,
		LeaseTTL:      2 * time.Minute,
		SweepInterval: 1 * time.Minute,
	}
}

// Worker is one polling worker process.
type Worker struct {
	id        string
	store     repository.Store
	engine    *engine.Manager
	scheduler *schedule.Scheduler
	signals   *signal.Service
	redis     *cache.RedisCache // optional cross-process wake
	log       *logger.Logger
	cfg       Config

	wakeCh chan struct{}
}

// New creates a worker. redis may be nil for single-process deployments.
func New(
	store repository.Store,
	eng *engine.Manager,
	scheduler *schedule.Scheduler,
	signals *signal.Service,
	redisCache *cache.RedisCache,
	log *logger.Logger,
	cfg Config,
) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaults.Batch
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	w := &Worker{
		id:        id,
		store:     store,
		engine:    eng,
		scheduler: scheduler,
		signals:   signals,
		redis:     redisCache,
		log:       log.With("worker_id", id),
		cfg:       cfg,
	}
	w.wakeCh = make(chan struct{}, 1)
	return w
}

// ID returns the worker's lease owner id.
func (w *Worker) ID() string {
	return w.id
}

// Wake cuts the current poll sleep short. Non-blocking; safe from any
// goroutine.
func (w *Worker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Run polls until the context ends. Each cycle: claim a batch, dispatch one
// step per claimed execution under bounded concurrency, fire due schedules,
// sweep expired signals on its interval, then sleep until the poll interval
// or a wake.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		"concurrency", w.cfg.Concurrency, "batch", w.cfg.Batch, "poll_interval", w.cfg.PollInterval.String())

	var redisWake <-chan struct{}
	if w.redis != nil {
		redisWake = w.redis.SubscribeWake(ctx)
	}

	semaphore := make(chan struct{}, w.cfg.Concurrency)
	var inflight sync.WaitGroup
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			w.log.Info("worker stopped")
			return ctx.Err()
		default:
		}

		now := time.Now()
		claimed, err := w.store.Executions().ClaimRunnable(ctx, w.id, w.cfg.Batch, now, w.cfg.LeaseTTL)
		if err != nil {
			w.log.Error("claim failed", "error", err)
		}
		for _, execution := range claimed {
			executionID := execution.ID
			inflight.Add(1)
			semaphore <- struct{}{}
			go func() {
				defer inflight.Done()
				defer func() { <-semaphore }()
				w.step(ctx, executionID)
			}()
		}

		if w.scheduler != nil {
			if _, err := w.scheduler.FireDue(ctx, now, w.cfg.Batch); err != nil {
				w.log.Error("schedule firing failed", "error", err)
			}
		}

		if w.signals != nil && now.Sub(lastSweep) >= w.cfg.SweepInterval {
			if _, err := w.signals.SweepExpired(ctx, now); err != nil {
				w.log.Error("signal sweep failed", "error", err)
			}
			lastSweep = now
		}

		select {
		case <-ctx.Done():
		case <-w.wakeCh:
		case <-redisWake:
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// step advances one execution, retrying transient store failures with a
// short in-process backoff before forfeiting the lease.
func (w *Worker) step(ctx context.Context, executionID string) {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = w.engine.ExecuteStep(ctx, executionID, w.id)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	w.log.Error("step failed, releasing lease", "execution_id", executionID, "error", err)
	if releaseErr := w.store.Executions().ReleaseLease(ctx, executionID, w.id); releaseErr != nil {
		w.log.Error("lease release failed", "execution_id", executionID, "error", releaseErr)
	}
}

// WakeFanout fans a wake to the local worker and, when configured, to every
// other worker process via redis.
type WakeFanout struct {
	Worker *Worker
	Redis  *cache.RedisCache
}

// Wake implements the engine and signal layer wake hooks.
func (f WakeFanout) Wake() {
	if f.Worker != nil {
		f.Worker.Wake()
	}
	if f.Redis != nil {
		f.Redis.PublishWake(context.Background())
	}
}
