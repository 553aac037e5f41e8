// Command engine boots the workflow engine process: it loads
// configuration, wires the Postgres repository, Redis cache, optional
// RabbitMQ event publisher, and every step executor into an
// internal/engine.Engine, then serves the ambient `/health` and `/metrics`
// endpoints. The engine itself is driven by its Go API (StartInstance,
// Resume, Complete, ...) from an embedding caller, not by a request/
// response HTTP layer this process exposes — that wire surface is an
// external collaborator, same as the teacher's gRPC surface was.
// Grounded on the teacher's cmd/engine/main.go Server/Start/graceful-
// shutdown shape, generalized from a gRPC+HTTP dual listener to the single
// ambient HTTP port it always carried alongside gRPC, and restructured
// behind a cobra root command with serve/migrate/version subcommands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/cache"
	"github.com/orcheo-io/workflow-engine/internal/config"
	"github.com/orcheo-io/workflow-engine/internal/engine"
	"github.com/orcheo-io/workflow-engine/internal/executor"
	"github.com/orcheo-io/workflow-engine/internal/executor/task"
	"github.com/orcheo-io/workflow-engine/internal/executor/timer"
	"github.com/orcheo-io/workflow-engine/internal/executor/usertask"
	"github.com/orcheo-io/workflow-engine/internal/observability"
	"github.com/orcheo-io/workflow-engine/internal/queue"
	"github.com/orcheo-io/workflow-engine/internal/repo"
	"github.com/orcheo-io/workflow-engine/internal/repo/postgres"
	"github.com/orcheo-io/workflow-engine/internal/resilience"
	"github.com/orcheo-io/workflow-engine/internal/variables"
)

const (
	serviceName    = "workflow-engine"
	serviceVersion = "0.1.0"
)

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "Workflow orchestration engine",
	}
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s %s\n", serviceName, serviceVersion)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			repository, err := postgres.New(cfg.Database.URL, zap.NewNop())
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer repository.Close()
			if _, err := repository.DB().Exec(postgres.Schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

// Process bundles every collaborator the serve command wires together, so
// tests and other entrypoints (e.g. an embedding service) can construct one
// without going through cobra/viper.
type Process struct {
	Engine   *engine.Engine
	Repo     *postgres.Repository
	Cache    cache.Cache
	Events   queue.EventPublisher
	UserTask *usertask.Executor
	Metrics  *observability.Metrics
}

// buildProcess wires metrics, repository, cache, queue, and every step
// executor from config and logger (tracing is set up earlier, in run),
// mirroring the teacher's main() wiring
// sequence but targeting this engine's own collaborator set.
func buildProcess(cfg *config.Config, logger *zap.Logger) (*Process, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	repository, err := postgres.New(cfg.Database.URL, logger)
	if err != nil {
		return nil, closeAll, fmt.Errorf("connect to database: %w", err)
	}
	closers = append(closers, func() { repository.Close() })

	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { rc.Close() })
		redisCache = rc
	}

	var publisher queue.EventPublisher
	if cfg.MessageQueue.URL != "" {
		rmq, err := queue.NewRabbitMQPublisher(cfg.MessageQueue.URL, logger)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect to message queue: %w", err)
		}
		closers = append(closers, func() { rmq.Close() })
		publisher = rmq
	}

	varStore := variables.NewStore(repository.Variables())

	eng := engine.NewEngine(logger, repository, varStore, &engine.Config{
		MaxConcurrentInstances: cfg.Execution.MaxConcurrentInstances,
		DefaultStepTimeout:     cfg.Execution.DefaultStepTimeout,
		DefaultMaxRetries:      cfg.Execution.DefaultMaxRetries,
		DefaultRetryDelay:      cfg.Execution.DefaultRetryDelay,
		HistoryRetention:       cfg.Execution.HistoryRetention,
	})
	if publisher != nil {
		eng.SetEventPublisher(publisher)
	}
	eng.SetPredicates(engine.NewPredicateRegistry())

	breakers := resilience.NewCircuitBreakerManager(logger)
	lifecycleCfg := executor.LifecycleConfig{
		MaxAttempts: cfg.Execution.DefaultMaxRetries,
		BaseDelay:   cfg.Execution.DefaultRetryDelay,
		Timeout:     cfg.Execution.DefaultStepTimeout,
	}

	taskRegistry := task.NewRegistry(logger,
		task.NewHTTPHandler(resty.New()),
		task.NewDatabaseHandler(repository.DB()),
		task.NewScriptHandler(nil),
		task.NewDefaultHandler(0),
	)
	eng.RegisterExecutor("task", executor.NewLifecycle(taskRegistry, logger, breakers, lifecycleCfg))

	userTaskExecutor := usertask.NewExecutor(repository.UserTasks(), logger, userTaskLoadLookup(repository.UserTasks()), userTaskNotifiers(publisher, cfg)...)
	eng.RegisterExecutor("usertask", executor.NewLifecycle(userTaskExecutor, logger, breakers, lifecycleCfg))
	eng.SetUserTasks(userTaskExecutor)

	if redisCache != nil {
		timerExecutor := timer.NewExecutor(redisCache, logger, cfg.Execution.DefaultRetryDelay)
		eng.RegisterExecutor("timer", executor.NewLifecycle(timerExecutor, logger, breakers, lifecycleCfg))
	}

	return &Process{
		Engine:   eng,
		Repo:     repository,
		Cache:    redisCache,
		Events:   publisher,
		UserTask: userTaskExecutor,
		Metrics:  observability.NewMetrics(),
	}, closeAll, nil
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting workflow engine", zap.String("service", serviceName), zap.String("version", serviceVersion))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(serviceName, serviceVersion, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownTracing()

	proc, closeProc, err := buildProcess(cfg, logger)
	defer closeProc()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := proc.Engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer proc.Engine.Stop(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusOK
		if err := proc.Repo.Ping(); err != nil {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"status":"ok","service":"%s","version":"%s","timestamp":"%s"}`,
			serviceName, serviceVersion, time.Now().UTC().Format(time.RFC3339))
	})

	httpServer := &http.Server{Addr: cfg.HTTP.Address, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// userTaskLoadLookup counts a candidate's currently pending tasks for the
// load_balance assignment strategy, backed directly by the repository
// (no separate counter table) since a candidate's open-task count is just
// the length of their pending-task page.
func userTaskLoadLookup(tasks repo.UserTaskRepository) func(ctx context.Context, candidate string) (int, error) {
	return func(ctx context.Context, candidate string) (int, error) {
		open, err := tasks.ListPendingForUser(ctx, candidate, noGroupLookup, 1, 1000)
		if err != nil {
			return 0, err
		}
		return len(open), nil
	}
}

func noGroupLookup(ctx context.Context, user string, groups []string) (bool, error) { return false, nil }

func userTaskNotifiers(publisher queue.EventPublisher, cfg *config.Config) []usertask.Notifier {
	if publisher == nil {
		return nil
	}
	return []usertask.Notifier{usertask.NewQueueNotifier(publisher, cfg.MessageQueue.Exchanges.Events)}
}
