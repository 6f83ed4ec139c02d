// Command server runs the full orchestration core in one process: HTTP API,
// execution worker, scheduler and signal ingress.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	signallayer "github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/application/worker"
	"github.com/smilemakc/flowforge/internal/config"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/api/rest"
	"github.com/smilemakc/flowforge/internal/infrastructure/cache"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
	"github.com/smilemakc/flowforge/internal/infrastructure/websocket"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := buildComponents(store, redisCache, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := components.worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker exited", "error", err)
			stop()
		}
	}()

	if err := components.api.Start(ctx); err != nil {
		log.Error("api server exited", "error", err)
		os.Exit(1)
	}
}

type components struct {
	worker *worker.Worker
	api    *rest.Server
}

// buildComponents wires the dependency container: store, dispatcher, retry
// manager, signal layer and scheduler, then the worker and API on top. No
// module-level mutable state.
func buildComponents(store repository.Store, redisCache *cache.RedisCache, cfg *config.Config, log *logger.Logger) (*components, error) {
	observers := observer.NewManager()
	observers.Register(observer.NewLogObserver(log))
	hub := websocket.NewHub(log)
	observers.Register(hub.Observer())

	registry := executor.NewRegistry()
	dispatcher := executor.NewDispatcher(registry, cfg.Engine.DefaultNodeTimeout)

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

	var chat builtin.ChatClient
	if cfg.LLM.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.LLM.APIKey)
		if cfg.LLM.BaseURL != "" {
			clientCfg.BaseURL = cfg.LLM.BaseURL
		}
		chat = openai.NewClientWithConfig(clientCfg)
	}
	if err := builtin.Register(registry, builtin.Deps{
		CodeRunner:  runner.NewOttoRunner(0),
		Credentials: &credentials.StaticProvider{},
		Chat:        chat,
		AgentModel:  cfg.LLM.Model,
		SubWorkflow: eng,
	}); err != nil {
		return nil, err
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

	apiCfg := rest.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	var api *rest.Server
	if redisCache != nil {
		api = rest.NewServer(store, eng, scheduler, signals, hub, log, apiCfg, redisCache)
	} else {
		api = rest.NewServer(store, eng, scheduler, signals, hub, log, apiCfg)
	}

	return &components{worker: w, api: api}, nil
}
